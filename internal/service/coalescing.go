package service

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// refreshGroup coalesces concurrent refreshes for the same flight key into one call.
// Waiters are tracked so callers (and tests) can observe how many are attached.
type refreshGroup struct {
	group   singleflight.Group
	waiters *stampedeTracker
}

func newRefreshGroup() *refreshGroup {
	return &refreshGroup{waiters: newStampedeTracker()}
}

// Do runs fn once per key among concurrent callers. Every caller receives the same
// result or error; each gets its own copy of the snapshot. A caller whose ctx ends stops waiting with ctx.Err(); the shared
// call keeps running for the others. leader reports whether this caller ran fn.
func (rg *refreshGroup) Do(ctx context.Context, key string, fn func() (models.Snapshot, error)) (snap models.Snapshot, leader bool, err error) {
	ran := false
	ch := rg.group.DoChan(key, func() (interface{}, error) {
		ran = true
		return fn()
	})
	rg.waiters.Join(key)
	defer rg.waiters.Leave(key)

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Snapshot{}, ran, res.Err
		}
		return res.Val.(models.Snapshot).Clone(), ran, nil
	case <-ctx.Done():
		return models.Snapshot{}, false, ctx.Err()
	}
}

// Pending returns the number of callers currently attached to key's flight.
func (rg *refreshGroup) Pending(key string) int {
	return rg.waiters.Pending(key)
}
