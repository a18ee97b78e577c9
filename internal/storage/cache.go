// Package storage provides the local persisted cache, its deterministic key
// space, and the watch/notice tables used by the notifier.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	apperrors "github.com/user/nostrgit/internal/errors"
)

// Cache is the key-value store every component reads and writes through.
// Values are JSON documents.
type Cache interface {
	// Get decodes the value stored at key into dst and reports whether the
	// key existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set stores value at key. A value over the quota fails with
	// ErrStorageQuotaExceeded and leaves the previous value in place.
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	// Subscribe registers fn to be called with the key of every write.
	Subscribe(fn func(key string)) (unsubscribe func())
	Close() error
}

// encode serializes value and enforces the per-value quota.
func encode(key string, value any, quota int) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if quota > 0 && len(b) > quota {
		return nil, &apperrors.QuotaError{Key: key, Size: len(b), Limit: quota}
	}
	return b, nil
}

func decode(key string, raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// changeFeed fans write notifications out to subscribers.
type changeFeed struct {
	mu   sync.Mutex
	next int
	subs map[int]func(string)
}

func (f *changeFeed) subscribe(fn func(string)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func(string))
	}
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *changeFeed) notify(key string) {
	f.mu.Lock()
	fns := make([]func(string), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(key)
	}
}
