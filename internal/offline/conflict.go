package offline

import (
	"fmt"
	"strings"
	"time"
)

type ConflictStrategy string

const (
	StrategyServer ConflictStrategy = "server"
	StrategyLocal  ConflictStrategy = "local"
	StrategyMerge  ConflictStrategy = "merge"
)

func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch c := ConflictStrategy(strings.ToLower(strings.TrimSpace(s))); c {
	case StrategyServer, StrategyLocal, StrategyMerge:
		return c, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

const updatedAtField = "updatedAt"

// ResolveConflict picks the record to keep when a local update collides with
// the server copy. Neither input is modified.
//
// Merge takes every server field, overlays every local field, and sets
// updatedAt to the later of the two. If either timestamp cannot be parsed the
// local value stands.
func ResolveConflict(local, server map[string]any, strategy ConflictStrategy) map[string]any {
	switch strategy {
	case StrategyServer:
		return cloneData(server)
	case StrategyLocal:
		return cloneData(local)
	}

	merged := make(map[string]any, len(server)+len(local))
	for k, v := range server {
		merged[k] = v
	}
	for k, v := range local {
		merged[k] = v
	}

	localTS, localOK := parseTimestamp(local[updatedAtField])
	serverTS, serverOK := parseTimestamp(server[updatedAtField])
	if localOK && serverOK && serverTS.After(localTS) {
		merged[updatedAtField] = server[updatedAtField]
	}
	return merged
}

// parseTimestamp accepts RFC 3339 strings, time.Time and epoch milliseconds.
func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		return ts, err == nil
	case float64:
		return time.UnixMilli(int64(t)), true
	case int64:
		return time.UnixMilli(t), true
	case int:
		return time.UnixMilli(int64(t)), true
	}
	return time.Time{}, false
}
