// Package inflight implements the in-flight coordinator: requests that
// share a cache key while the first is still in progress attach to its
// result instead of issuing a duplicate upstream call. A stateless proxy
// that forwards every request independently has no equivalent need for
// this, so it is grounded directly on golang.org/x/sync/singleflight, the
// standard tool for exactly this pattern.
package inflight

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/mihaisavezi/llmgateway/internal/gwerr"
)

// Coordinator de-duplicates concurrent work sharing the same key.
type Coordinator struct {
	group singleflight.Group
}

// New builds an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{}
}

// Do executes fn for key, or attaches to an identical call already in
// flight. shared reports whether the caller attached to
// another caller's in-flight call rather than triggering fn itself.
func Do[T any](c *Coordinator, key string, fn func() gwerr.Result[T]) (result gwerr.Result[T], shared bool) {
	v, err, wasShared := c.group.Do(key, func() (any, error) {
		r := fn()
		if !r.IsOk() {
			return nil, r.Err()
		}
		return r.Value(), nil
	})

	if err != nil {
		gerr, ok := err.(*gwerr.Error)
		if !ok {
			gerr = gwerr.Wrap(gwerr.InvalidResponse, err, "in-flight call failed")
		}
		return gwerr.Fail[T](gerr), wasShared
	}

	return gwerr.Ok(v.(T)), wasShared
}

// Forget evicts key so the next caller always starts fresh work, used when
// a coalesced call must not be reused (e.g. after an explicit cache
// invalidation for the same key).
func (c *Coordinator) Forget(key string) {
	c.group.Forget(key)
}

// DoContext is Do's cancellation-aware counterpart: it uses
// singleflight's DoChan so that a waiter detaching on ctx cancellation
// never affects the in-flight call itself or any other waiter — the
// upstream work keeps running (and the eventual result is still cached on
// success), only this caller stops waiting for it.
func DoContext[T any](ctx context.Context, c *Coordinator, key string, fn func() gwerr.Result[T]) (gwerr.Result[T], bool) {
	ch := c.group.DoChan(key, func() (any, error) {
		r := fn()
		if !r.IsOk() {
			return nil, r.Err()
		}
		return r.Value(), nil
	})

	select {
	case <-ctx.Done():
		return gwerr.Fail[T](gwerr.Wrap(gwerr.Cancelled, ctx.Err(), "in-flight call cancelled")), false
	case res := <-ch:
		if res.Err != nil {
			gerr, ok := res.Err.(*gwerr.Error)
			if !ok {
				gerr = gwerr.Wrap(gwerr.InvalidResponse, res.Err, "in-flight call failed")
			}
			return gwerr.Fail[T](gerr), res.Shared
		}
		return gwerr.Ok(res.Val.(T)), res.Shared
	}
}
