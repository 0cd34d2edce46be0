// Package nodepool brokers node allocation for builds. A Provisioner
// hands out model.NodeSets on request and expects each one returned
// exactly once, whether or not the build that used it ran to
// completion (spec §3, §8 invariant: a NodeSet is returned exactly
// once).
package nodepool

import (
	"context"
	"fmt"
	"sync"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// Provisioner requests and reclaims nodes for a job's labels.
type Provisioner interface {
	// RequestNodes blocks until a NodeSet matching labels is available
	// or ctx is canceled.
	RequestNodes(ctx context.Context, labels []string) (*model.NodeSet, error)
	// ReturnNodeSet releases ns back to the pool. Calling it twice for
	// the same NodeSet is a programming error; Tracker guards against
	// that for callers that route returns through it.
	ReturnNodeSet(ctx context.Context, ns *model.NodeSet) error
}

// Tracker wraps a Provisioner, enforcing the "returned exactly once"
// invariant and rejecting a second return of the same NodeSet instead
// of silently double-freeing capacity.
type Tracker struct {
	inner Provisioner

	mu      sync.Mutex
	pending map[*model.NodeSet]bool
}

// NewTracker wraps inner.
func NewTracker(inner Provisioner) *Tracker {
	return &Tracker{inner: inner, pending: make(map[*model.NodeSet]bool)}
}

func (t *Tracker) RequestNodes(ctx context.Context, labels []string) (*model.NodeSet, error) {
	ns, err := t.inner.RequestNodes(ctx, labels)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.pending[ns] = true
	t.mu.Unlock()
	return ns, nil
}

func (t *Tracker) ReturnNodeSet(ctx context.Context, ns *model.NodeSet) error {
	t.mu.Lock()
	if !t.pending[ns] {
		t.mu.Unlock()
		if ns.Returned {
			return fmt.Errorf("nodepool: node set already returned")
		}
		return fmt.Errorf("nodepool: returning a node set this tracker never allocated")
	}
	delete(t.pending, ns)
	t.mu.Unlock()

	if err := t.inner.ReturnNodeSet(ctx, ns); err != nil {
		return err
	}
	ns.Returned = true
	return nil
}
