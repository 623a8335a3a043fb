package classifier

import (
	"testing"

	"github.com/ChuLiYu/buildtrace/internal/diff"
	"github.com/ChuLiYu/buildtrace/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeMove(t *testing.T) {
	testCases := []struct {
		name string
		id   string
		prev types.StateToken
		curr types.StateToken
		want string
	}{
		{"east and south", "D1", "door_5_5_1_1", "door_8_2_1_1", "D1 (door) moved 3 units east and 3 units south"},
		{"west only", "W1", "wall_10_0_1_1", "wall_4_0_1_1", "W1 (wall) moved 6 units west"},
		{"north only", "S1", "stair_0_0_1_1", "stair_0_2_1_1", "S1 (stair) moved 2 units north"},
		{"west and north", "C1", "column_3_3_1_1", "column_1_5_1_1", "C1 (column) moved 2 units west and 2 units north"},
		{"size change only", "W2", "wall_10_20_2_3", "wall_10_20_9_9", "W2 attributes modified (not position)."},
		{"category change only", "X1", "wall_1_1_1_1", "door_1_1_1_1", "X1 attributes modified (not position)."},
		{"previous category is used", "X2", "wall_1_1_1_1", "door_2_1_1_1", "X2 (wall) moved 1 units east"},
		{"corrupt previous reads as origin", "Q1", "garbage", "door_2_3_1_1", "Q1 (unknown) moved 2 units east and 3 units north"},
		{"both corrupt", "Q2", "garbage", "rubbish", "Q2 attributes modified (not position)."},
		{"delta beyond int64", "X", "a_-9223372036854775808_0_1_1", "a_9223372036854775807_0_1_1", "X (a) moved 18446744073709551615 units east"},
		{"delta beyond int64 westward", "X", "a_9223372036854775807_0_1_1", "a_-9223372036854775808_0_1_1", "X (a) moved 18446744073709551615 units west"},
		{"coordinates beyond int64", "H", "a_99999999999999999999_5_1_1", "a_99999999999999999998_7_1_1", "H (a) moved 1 units west and 2 units north"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DescribeMove(tc.id, tc.prev, tc.curr))
		})
	}
}

func TestDescribeAddedAndRemoved(t *testing.T) {
	assert.Equal(t, "B (door added at x:2, y:2)", DescribeAdded("B", types.DecodedToken{Category: "door", X: 2, Y: 2}))
	assert.Equal(t, "C removed", DescribeRemoved("C"))
}

func TestClassify(t *testing.T) {
	current := types.StateMap{
		"A": "wall_1_1_1_1",
		"B": "door_2_2_1_1",
		"D": "window_4_4_1_1",
	}
	previous := types.StateMap{
		"A": "wall_1_1_1_1",
		"C": "stair_3_3_1_1",
		"D": "window_5_4_1_1",
	}

	out := Classify(diff.Compute(current, previous), current)
	records := out.Records
	require.Len(t, records, 4)
	assert.Empty(t, out.Degraded)

	assert.Equal(t, types.ChangeAdded, records[0].Kind)
	assert.Equal(t, "B", records[0].EntityID)
	require.NotNil(t, records[0].Decoded)
	assert.Equal(t, types.DecodedToken{Category: "door", X: 2, Y: 2}, *records[0].Decoded)

	assert.Equal(t, types.ChangeRecord{Kind: types.ChangeRemoved, EntityID: "C"}, records[1])
	assert.Equal(t, types.ChangeRecord{Kind: types.ChangeUnchanged, EntityID: "A"}, records[2])
	assert.Equal(t, types.ChangeRecord{
		Kind:        types.ChangeModified,
		EntityID:    "D",
		Description: "D (window) moved 1 units west",
	}, records[3])

	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, Render(r))
	}
	assert.Equal(t, []string{"B (door added at x:2, y:2)", "C removed", "", "D (window) moved 1 units west"}, lines)
}

func TestClassifyReportsDegradedTokens(t *testing.T) {
	current := types.StateMap{
		"A": "garbage",             // added, malformed
		"B": "door_2_2_1_1",        // added, fine
		"M": "wall_x_1_1_1",        // modified, malformed now
		"N": "wall_2_1_1_1",        // modified, fine
		"U": "not_even_close_here", // unchanged, never decoded
	}
	previous := types.StateMap{
		"M": "wall_1_1_1_1",
		"N": "wall_1_1_1_1",
		"U": "not_even_close_here",
		"R": "rubbish", // removed, never decoded
	}

	out := Classify(diff.Compute(current, previous), current)
	assert.Equal(t, []string{"A", "M"}, out.Degraded)

	lines := make([]string, 0, len(out.Records))
	for _, r := range out.Records {
		if line := Render(r); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, []string{
		"A (unknown added at x:0, y:0)",
		"B (door added at x:2, y:2)",
		"R removed",
		"M (wall) moved 1 units west and 1 units south",
		"N (wall) moved 1 units east",
	}, lines)
}

func TestClassifyAddedBeyondIntRange(t *testing.T) {
	current := types.StateMap{"H": "column_99999999999999999999_5_1_1"}

	out := Classify(diff.Compute(current, nil), current)
	require.Len(t, out.Records, 1)
	assert.Empty(t, out.Degraded)
	assert.Nil(t, out.Records[0].Decoded)
	assert.Equal(t, "H (column added at x:99999999999999999999, y:5)", Render(out.Records[0]))
}
