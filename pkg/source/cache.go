package source

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// defaultCacheSize bounds the reported-status memo so a long-running
// daemon's cache can't grow without bound across many tenants.
const defaultCacheSize = 4096

// reportKey identifies one (change, reporter action) pair a pipeline
// can report to. Pipeline disambiguation, when a change is shared by
// more than one pipeline's reporters, is expected to already live in
// action.Context (the convention this module's example tenants follow,
// e.g. "ci/conveyor/check" vs "ci/conveyor/gate").
type reportKey struct {
	change  string
	action  string
	context string
}

// CachingAdapter wraps an Adapter, memoizing the last result reported
// for a (change, action) pair so a pipeline re-processing an unchanged
// item across scheduler sweeps doesn't re-post an identical status or
// comment (spec §4.10). All other methods pass straight through.
type CachingAdapter struct {
	Adapter
	reported *lru.Cache
}

// NewCachingAdapter wraps adapter with an LRU-backed report cache.
func NewCachingAdapter(adapter Adapter) *CachingAdapter {
	cache, err := lru.New(defaultCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultCacheSize never is.
		panic(err)
	}
	return &CachingAdapter{Adapter: adapter, reported: cache}
}

// Report skips the underlying adapter call when the same result was
// already the last thing reported for this change and action.
func (c *CachingAdapter) Report(ctx context.Context, change model.Change, action model.ReporterAction, result model.Result, detailsURL string) error {
	key := reportKey{change: change.Identity(), action: action.Name, context: action.Context}
	if last, ok := c.reported.Get(key); ok && last == result {
		return nil
	}
	if err := c.Adapter.Report(ctx, change, action, result, detailsURL); err != nil {
		return err
	}
	c.reported.Add(key, result)
	return nil
}
