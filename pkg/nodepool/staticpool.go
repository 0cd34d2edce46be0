package nodepool

import (
	"context"
	"fmt"
	"sync"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// StaticPool is a fixed-capacity Provisioner backed by a configured
// list of nodes, for standalone/single-process deployments that have
// no separate fleet-management service to delegate to. Node
// allocation is labeled bin-packing in miniature: a request is
// satisfied by picking one idle node per requested label, in order.
type StaticPool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	nodes []model.Node
	busy  map[string]bool // node name -> in use
}

// NewStaticPool builds a pool offering nodes, a fixed inventory
// available for the life of the process.
func NewStaticPool(nodes []model.Node) *StaticPool {
	p := &StaticPool{nodes: nodes, busy: make(map[string]bool, len(nodes))}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// RequestNodes blocks until one idle node per requested label is
// available, or ctx is canceled. Labels are matched by requiring each
// requested label be present among a candidate node's labels; a node
// can only satisfy one requested label per call.
func (p *StaticPool) RequestNodes(ctx context.Context, labels []string) (*model.NodeSet, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ns, ok := p.tryAllocateLocked(labels); ok {
			return ns, nil
		}
		p.cond.Wait()
	}
}

func (p *StaticPool) tryAllocateLocked(labels []string) (*model.NodeSet, bool) {
	allocated := make([]model.Node, 0, len(labels))
	claimed := make([]string, 0, len(labels))
	for _, label := range labels {
		node, ok := p.findIdleLocked(label, claimed)
		if !ok {
			return nil, false
		}
		allocated = append(allocated, node)
		claimed = append(claimed, node.Name)
	}
	for _, name := range claimed {
		p.busy[name] = true
	}
	return &model.NodeSet{Nodes: allocated}, true
}

func (p *StaticPool) findIdleLocked(label string, alreadyClaimed []string) (model.Node, bool) {
	for _, n := range p.nodes {
		if p.busy[n.Name] || contains(alreadyClaimed, n.Name) {
			continue
		}
		if contains(n.Labels, label) {
			return n, true
		}
	}
	return model.Node{}, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ReturnNodeSet frees every node in ns and wakes any blocked request.
func (p *StaticPool) ReturnNodeSet(ctx context.Context, ns *model.NodeSet) error {
	if ns == nil {
		return fmt.Errorf("nodepool: returning a nil node set")
	}
	p.mu.Lock()
	for _, n := range ns.Nodes {
		delete(p.busy, n.Name)
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

var _ Provisioner = (*StaticPool)(nil)
