package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// --- Mock InfluxDB WriteAPI ---

type MockWriteAPI struct {
	WritePointFunc func(ctx context.Context, point ...*write.Point) error
	WrittenPoints  []*write.Point
}

func (m *MockWriteAPI) WritePoint(ctx context.Context, point ...*write.Point) error {
	if m.WritePointFunc != nil {
		if err := m.WritePointFunc(ctx, point...); err != nil {
			return err
		}
	}
	m.WrittenPoints = append(m.WrittenPoints, point...)
	return nil
}

func (m *MockWriteAPI) WriteRecord(ctx context.Context, line ...string) error {
	return nil
}

func (m *MockWriteAPI) EnableBatching()                 {}
func (m *MockWriteAPI) Flush(ctx context.Context) error { return nil }

func pointFields(p *write.Point) map[string]interface{} {
	out := map[string]interface{}{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestInfluxSinkInsert(t *testing.T) {
	mock := &MockWriteAPI{}
	s := NewInfluxSinkWithAPI(mock, "")

	rows, err := s.Insert(context.Background(), record("5", 2, 1, 3, 10))
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.Len(t, mock.WrittenPoints, 1)
	p := mock.WrittenPoints[0]
	assert.Equal(t, DefaultMeasurement, p.Name())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "job_id", p.TagList()[0].Key)
	assert.Equal(t, "5", p.TagList()[0].Value)
	assert.Equal(t, "2025-03-01T10:00:00Z", p.Time().UTC().Format("2006-01-02T15:04:05Z"))

	fields := pointFields(p)
	assert.EqualValues(t, 2000, fields["latency_ms"])
	assert.EqualValues(t, 2, fields["total_added"])
	assert.EqualValues(t, 1, fields["total_removed"])
	assert.EqualValues(t, 3, fields["total_modified"])
	assert.EqualValues(t, 10, fields["total_unchanged"])
	require.NoError(t, s.Close())
}

func TestInfluxSinkRowErrors(t *testing.T) {
	mock := &MockWriteAPI{}
	s := NewInfluxSinkWithAPI(mock, "job_results")

	rec := record("5", 0, 0, 0, 1)
	rec.Timestamp = "yesterday"
	rows, err := s.Insert(context.Background(), rec)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0], "timestamp")
	assert.Empty(t, mock.WrittenPoints)
}

func TestInfluxSinkWriteFailure(t *testing.T) {
	mock := &MockWriteAPI{
		WritePointFunc: func(ctx context.Context, point ...*write.Point) error {
			return errors.New("connection refused")
		},
	}
	s := NewInfluxSinkWithAPI(mock, "")

	rows, err := s.Insert(context.Background(), record("5", 1, 0, 0, 0))
	assert.Empty(t, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewInfluxSinkRequiresCredentials(t *testing.T) {
	_, err := NewInfluxSink(InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}

type stubSink struct {
	rows   []string
	err    error
	got    []types.MetricsRecord
	closed bool
}

func (s *stubSink) Insert(_ context.Context, rec types.MetricsRecord) ([]string, error) {
	s.got = append(s.got, rec)
	return s.rows, s.err
}

func (s *stubSink) Close() error {
	s.closed = true
	return nil
}

func TestMulti(t *testing.T) {
	ok := &stubSink{}
	rejecting := &stubSink{rows: []string{"bad row"}}
	failing := &stubSink{err: errors.New("down")}

	m := Multi{ok, rejecting, failing}
	rows, err := m.Insert(context.Background(), record("1", 1, 0, 0, 0))

	assert.Equal(t, []string{"sink[1]: bad row"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink[2]: down")
	for _, s := range []*stubSink{ok, rejecting, failing} {
		assert.Len(t, s.got, 1)
	}

	require.NoError(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
}

func TestDiscard(t *testing.T) {
	rows, err := Discard{}.Insert(context.Background(), record("1", 0, 0, 0, 0))
	assert.Nil(t, rows)
	assert.NoError(t, err)
}
