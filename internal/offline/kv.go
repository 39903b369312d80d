package offline

import "context"

const (
	keyQueue       = "sync:queue"
	keyDeadLetters = "sync:deadletter"
	keyLastSync    = "sync:last"
	cachePrefix    = "cache:"
)

func cacheKey(e Entity) string {
	return cachePrefix + string(e)
}

// KV is durable key/value storage that survives process restarts.
type KV interface {
	// Get returns ok=false when the key does not exist.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
