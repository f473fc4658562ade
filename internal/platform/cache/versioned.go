package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Versioned stores JSON values under a per-scope generation counter. Bumping
// the generation orphans every value written under the previous one, which
// then ages out through its TTL.
type Versioned struct {
	kv     KV
	prefix string
	ttl    time.Duration
}

func NewVersioned(kv KV, prefix string, ttl time.Duration) *Versioned {
	return &Versioned{kv: kv, prefix: prefix, ttl: ttl}
}

func (v *Versioned) genKey(scope string) string {
	return fmt.Sprintf("%s:%s:gen", v.prefix, scope)
}

// Generation returns the scope's current generation. A value computed from
// data read after Generation must be written with SetAt under that same
// generation, so that a Bump racing the computation orphans it.
func (v *Versioned) Generation(ctx context.Context, scope string) (string, error) {
	g, err := v.kv.Get(ctx, v.genKey(scope))
	if errors.Is(err, ErrMiss) {
		return "0", nil
	}
	return g, err
}

func (v *Versioned) key(scope, gen, key string) string {
	return fmt.Sprintf("%s:%s:g%s:%s", v.prefix, scope, gen, key)
}

// GetAt decodes the value stored for key under gen into dst and reports
// whether it was present.
func (v *Versioned) GetAt(ctx context.Context, scope, gen, key string, dst interface{}) (bool, error) {
	raw, err := v.kv.Get(ctx, v.key(scope, gen, key))
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (v *Versioned) SetAt(ctx context.Context, scope, gen, key string, val interface{}) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return v.kv.Set(ctx, v.key(scope, gen, key), string(b), v.ttl)
}

// Bump invalidates every value stored for scope.
func (v *Versioned) Bump(ctx context.Context, scope string) error {
	_, err := v.kv.Incr(ctx, v.genKey(scope))
	return err
}
