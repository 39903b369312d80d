package offline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConflict_MergeTakesLaterTimestamp(t *testing.T) {
	local := map[string]any{"updatedAt": "2025-01-01T10:00:00Z", "x": 1}
	server := map[string]any{"updatedAt": "2025-01-01T11:00:00Z", "y": 2}

	got := ResolveConflict(local, server, StrategyMerge)

	assert.Equal(t, map[string]any{"x": 1, "y": 2, "updatedAt": "2025-01-01T11:00:00Z"}, got)
}

func TestResolveConflict_MergeLocalWins(t *testing.T) {
	local := map[string]any{"updatedAt": "2025-01-01T12:00:00Z", "name": "local", "stage": "won"}
	server := map[string]any{"updatedAt": "2025-01-01T11:00:00Z", "name": "server", "owner": "sam"}

	got := ResolveConflict(local, server, StrategyMerge)

	assert.Equal(t, "local", got["name"])
	assert.Equal(t, "won", got["stage"])
	assert.Equal(t, "sam", got["owner"])
	assert.Equal(t, "2025-01-01T12:00:00Z", got["updatedAt"])
}

func TestResolveConflict_TimestampFormats(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	tests := []struct {
		name   string
		local  any
		server any
		want   any
	}{
		{"time values", t1, t2, t2},
		{"epoch millis", float64(t1.UnixMilli()), float64(t2.UnixMilli()), float64(t2.UnixMilli())},
		{"mixed", t2.Format(time.RFC3339), t1.UnixMilli(), t2.Format(time.RFC3339)},
		{"unparsable local", "yesterday", t2, "yesterday"},
		{"unparsable server", t1, "soon", t1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveConflict(map[string]any{"updatedAt": tt.local}, map[string]any{"updatedAt": tt.server}, StrategyMerge)
			assert.Equal(t, tt.want, got["updatedAt"])
		})
	}
}

func TestResolveConflict_ServerOnlyTimestamp(t *testing.T) {
	got := ResolveConflict(map[string]any{"x": 1}, map[string]any{"updatedAt": "2025-01-01T10:00:00Z"}, StrategyMerge)
	assert.Equal(t, "2025-01-01T10:00:00Z", got["updatedAt"])
}

func TestResolveConflict_Strategies(t *testing.T) {
	local := map[string]any{"id": "1", "name": "local"}
	server := map[string]any{"id": "1", "name": "server"}

	assert.Equal(t, server, ResolveConflict(local, server, StrategyServer))
	assert.Equal(t, local, ResolveConflict(local, server, StrategyLocal))
}

func TestResolveConflict_DoesNotMutateInputs(t *testing.T) {
	local := map[string]any{"updatedAt": "2025-01-01T10:00:00Z", "x": 1}
	server := map[string]any{"updatedAt": "2025-01-01T11:00:00Z", "y": 2}

	for _, strategy := range []ConflictStrategy{StrategyMerge, StrategyLocal, StrategyServer} {
		got := ResolveConflict(local, server, strategy)
		got["z"] = 3
	}

	assert.Equal(t, map[string]any{"updatedAt": "2025-01-01T10:00:00Z", "x": 1}, local)
	assert.Equal(t, map[string]any{"updatedAt": "2025-01-01T11:00:00Z", "y": 2}, server)
}

func TestParseConflictStrategy(t *testing.T) {
	s, err := ParseConflictStrategy(" Merge ")
	require.NoError(t, err)
	assert.Equal(t, StrategyMerge, s)

	_, err = ParseConflictStrategy("newest")
	assert.Error(t, err)
}
