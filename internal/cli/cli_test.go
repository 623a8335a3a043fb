package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/buildtrace/internal/report"
	"github.com/ChuLiYu/buildtrace/pkg/types"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "buildtrace", cmd.Use)

	commandNames := make(map[string]bool)
	for _, c := range cmd.Commands() {
		commandNames[c.Name()] = true
	}
	for _, name := range []string{"serve", "ingest", "report", "simulate", "status"} {
		assert.True(t, commandNames[name], "Should have %q command", name)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestBuildIngestCommand(t *testing.T) {
	cmd := buildIngestCommand()

	assert.Equal(t, "ingest", cmd.Use)
	fileFlag := cmd.Flags().Lookup("file")
	require.NotNil(t, fileFlag, "Should have --file flag")
	assert.Equal(t, "f", fileFlag.Shorthand)
	assert.NotNil(t, cmd.RunE)
}

func TestBuildReportCommand(t *testing.T) {
	cmd := buildReportCommand()

	assert.Equal(t, "report", cmd.Name())
	assert.NotNil(t, cmd.Flags().Lookup("from"))
	assert.NotNil(t, cmd.Flags().Lookup("to"))
}

func TestReportIDs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		from, to int64
		want     []types.JobID
		wantErr  bool
	}{
		{name: "single", args: []string{"7"}, want: []types.JobID{7}},
		{name: "range", from: 3, to: 5, want: []types.JobID{3, 4, 5}},
		{name: "one-element range", from: 2, to: 2, want: []types.JobID{2}},
		{name: "zero id", args: []string{"0"}, wantErr: true},
		{name: "not a number", args: []string{"seven"}, wantErr: true},
		{name: "both forms", args: []string{"1"}, from: 1, to: 2, wantErr: true},
		{name: "inverted range", from: 5, to: 3, wantErr: true},
		{name: "nothing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reportIDs(tt.args, tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := reportIDs([]string{"-1"}, 0, 0)
	assert.ErrorIs(t, err, report.ErrInvalidJobID)
}

func TestReadSnapshots_InvalidFile(t *testing.T) {
	_, err := readSnapshots("/nonexistent/jobs.json")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read snapshot file")
}

func TestReadSnapshots_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"invalid json structure`), 0644))

	_, err := readSnapshots(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse snapshot file")
}

// writeConfig points every on-disk path at a temp dir.
func writeConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
store:
  backend: %s
  dir: %q
sink:
  ledger_path: %q
metrics:
  enabled: true
worker:
  count: 2
  task_timeout: 5s
log:
  level: error
`, backend, filepath.Join(dir, "job_state"), filepath.Join(dir, "metrics.jsonl"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := BuildCLI()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

const snapshotsJSON = `[
  {"job_id": 1, "timestamp": "2025-01-01T00:00:00Z", "latency_ms": 100,
   "state": {"A": "wall_1_1_1_1", "C": "stair_3_3_1_1"}},
  {"job_id": 2, "timestamp": "2025-01-01T00:01:00Z", "latency_ms": 300,
   "state": {"A": "wall_4_1_1_1", "B": "door_2_2_1_1"}}
]`

func TestIngestReportStatus(t *testing.T) {
	cfgPath := writeConfig(t, "file")
	jobsPath := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(jobsPath, []byte(snapshotsJSON), 0644))

	out, err := execute(t, "ingest", "-c", cfgPath, "-f", jobsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "stored 2 snapshot(s)")

	out, err = execute(t, "report", "2", "-c", cfgPath)
	require.NoError(t, err)

	var rep types.DiffReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, []string{"B (door added at x:2, y:2)"}, rep.Added)
	assert.Equal(t, []string{"C removed"}, rep.Removed)
	assert.Equal(t, []string{"A (wall) moved 3 units east"}, rep.MovedOrModified)
	assert.Equal(t, "1 item(s) added. | 1 item(s) removed. | 1 item(s) modified.", rep.Summary)

	out, err = execute(t, "status", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "reports:        1")
	assert.Contains(t, out, "mean latency:   300.0 ms")
}

func TestRuntimeLogsLedgerAtDebug(t *testing.T) {
	cfgPath := writeConfig(t, "file")
	raw, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	debug := strings.Replace(string(raw), "level: error", "level: debug\n  format: text", 1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(debug), 0644))

	jobsPath := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(jobsPath, []byte(snapshotsJSON), 0644))

	var stderr bytes.Buffer
	root := BuildCLI()
	root.SetOut(io.Discard)
	root.SetErr(&stderr)
	root.SetArgs([]string{"ingest", "-c", cfgPath, "-f", jobsPath})
	require.NoError(t, root.Execute())

	ledgerPath := filepath.Join(filepath.Dir(cfgPath), "metrics.jsonl")
	assert.Contains(t, stderr.String(), `msg="metrics ledger opened"`)
	assert.Contains(t, stderr.String(), "path="+ledgerPath)
}

func TestReportRangeAndMissingJob(t *testing.T) {
	cfgPath := writeConfig(t, "file")
	jobsPath := filepath.Join(t.TempDir(), "jobs.json")
	require.NoError(t, os.WriteFile(jobsPath, []byte(snapshotsJSON), 0644))

	_, err := execute(t, "ingest", "-c", cfgPath, "-f", jobsPath)
	require.NoError(t, err)

	out, err := execute(t, "report", "--from", "1", "--to", "2", "-c", cfgPath)
	require.NoError(t, err)

	dec := json.NewDecoder(strings.NewReader(out))
	var ids []types.JobID
	for dec.More() {
		var rep types.DiffReport
		require.NoError(t, dec.Decode(&rep))
		ids = append(ids, rep.JobID)
	}
	assert.Equal(t, []types.JobID{1, 2}, ids)

	_, err = execute(t, "report", "9", "-c", cfgPath)
	assert.ErrorIs(t, err, report.ErrNotFound)

	_, err = execute(t, "report", "--from", "1", "--to", "3", "-c", cfgPath)
	assert.ErrorContains(t, err, "1 of 3 reports failed")
}

func TestSimulateWithReports(t *testing.T) {
	cfgPath := writeConfig(t, "memory")

	out, err := execute(t, "simulate", "-c", cfgPath, "--jobs", "3", "--objects", "20", "--seed", "7", "--report")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "job 1: 20 item(s) added.", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "job 2: "))
	assert.True(t, strings.HasPrefix(lines[2], "job 3: "))
}

func TestSimulatePrintFeedsIngest(t *testing.T) {
	cfgPath := writeConfig(t, "file")

	out, err := execute(t, "simulate", "-c", cfgPath, "--jobs", "2", "--seed", "3", "--print")
	require.NoError(t, err)

	var snaps []types.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, types.JobID(1), snaps[0].JobID)
	assert.Len(t, snaps[0].State, 50)

	jobsPath := filepath.Join(t.TempDir(), "sim.json")
	require.NoError(t, os.WriteFile(jobsPath, []byte(out), 0644))

	out, err = execute(t, "ingest", "-c", cfgPath, "-f", jobsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "stored 2 snapshot(s)")
}

func TestSimulateRejectsZeroJobs(t *testing.T) {
	_, err := execute(t, "simulate", "-c", writeConfig(t, "memory"), "--jobs", "0")
	assert.ErrorContains(t, err, "--jobs must be positive")
}

func TestShowStatus_NoLedgerYet(t *testing.T) {
	out, err := execute(t, "status", "-c", writeConfig(t, "file"))
	require.NoError(t, err)
	assert.Contains(t, out, "backend:        file")
	assert.Contains(t, out, "reports:        0")
	assert.NotContains(t, out, "mean latency")
}

func TestLoadConfigFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: tape\n"), 0644))

	_, err := execute(t, "status", "-c", path)
	assert.ErrorContains(t, err, "failed to load config")
}
