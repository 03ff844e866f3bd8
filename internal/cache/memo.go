package cache

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/dgallion1/docsum/internal/metrics"
)

// Memo runs functions at most once per fingerprint. Concurrent callers
// with the same key share one execution; later callers read the store.
// Store failures degrade to recomputation and are only logged.
type Memo struct {
	store Store
	group singleflight.Group
	log   *slog.Logger
}

func NewMemo(store Store, log *slog.Logger) *Memo {
	return &Memo{store: store, log: log}
}

// Do returns the memoized result of fn for (op, args). The bool reports
// whether the value came from the cache or a concurrent identical call.
// Errors from fn are never cached. A nil Memo just calls fn.
func Do[T any](ctx context.Context, m *Memo, op string, args []any, fn func(context.Context) (T, error)) (T, bool, error) {
	if m == nil {
		v, err := fn(ctx)
		return v, false, err
	}

	var zero T
	key, err := Key(op, args...)
	if err != nil {
		return zero, false, err
	}

	if v, ok := m.lookup(ctx, op, key); ok {
		var out T
		err := unmarshal(v, &out)
		if err == nil {
			metrics.RecordCacheLookup(op, true)
			return out, true, nil
		}
		m.log.Warn("discarding undecodable cache entry", "op", op, "key", key.String(), "error", err)
	}
	metrics.RecordCacheLookup(op, false)

	// Only the caller whose fn ran reports a fresh result; every other
	// caller in the flight got a copy.
	ran := false
	res, err, _ := m.group.Do(key.String(), func() (any, error) {
		ran = true
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		m.save(ctx, op, key, v)
		return v, nil
	})
	if err != nil {
		return zero, false, err
	}
	out, ok := res.(T)
	if !ok {
		return zero, false, fmt.Errorf("memo %s: unexpected result type %T", op, res)
	}
	return out, !ran, nil
}

func (m *Memo) lookup(ctx context.Context, op string, key Fingerprint) ([]byte, bool) {
	v, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.log.Warn("cache lookup failed", "op", op, "key", key.String(), "error", err)
		return nil, false
	}
	return v, ok
}

func (m *Memo) save(ctx context.Context, op string, key Fingerprint, v any) {
	b, err := marshal(v)
	if err != nil {
		m.log.Warn("cache encode failed", "op", op, "error", err)
		return
	}
	if err := m.store.Put(context.WithoutCancel(ctx), key, b); err != nil {
		m.log.Warn("cache write failed", "op", op, "key", key.String(), "error", err)
	}
}
