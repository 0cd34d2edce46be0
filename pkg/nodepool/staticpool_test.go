package nodepool

import (
	"context"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

func TestStaticPoolAllocatesOneNodePerLabel(t *testing.T) {
	pool := NewStaticPool([]model.Node{
		{Name: "n1", Labels: []string{"linux"}},
		{Name: "n2", Labels: []string{"linux"}},
	})

	ns, err := pool.RequestNodes(context.Background(), []string{"linux", "linux"})
	if err != nil {
		t.Fatalf("RequestNodes: %v", err)
	}
	if len(ns.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(ns.Nodes))
	}
}

func TestStaticPoolBlocksUntilNodeIsReturned(t *testing.T) {
	pool := NewStaticPool([]model.Node{{Name: "n1", Labels: []string{"linux"}}})

	first, err := pool.RequestNodes(context.Background(), []string{"linux"})
	if err != nil {
		t.Fatalf("RequestNodes: %v", err)
	}

	secondDone := make(chan *model.NodeSet, 1)
	go func() {
		ns, err := pool.RequestNodes(context.Background(), []string{"linux"})
		if err != nil {
			t.Error(err)
			return
		}
		secondDone <- ns
	}()

	select {
	case <-secondDone:
		t.Fatal("second request should have blocked while the only node is busy")
	case <-time.After(50 * time.Millisecond):
	}

	if err := pool.ReturnNodeSet(context.Background(), first); err != nil {
		t.Fatalf("ReturnNodeSet: %v", err)
	}

	select {
	case ns := <-secondDone:
		if len(ns.Nodes) != 1 || ns.Nodes[0].Name != "n1" {
			t.Fatalf("unexpected reallocated node set: %+v", ns)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the blocked request to be satisfied")
	}
}

func TestStaticPoolRequestNodesHonorsContextCancellation(t *testing.T) {
	pool := NewStaticPool([]model.Node{{Name: "n1", Labels: []string{"gpu"}}})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := pool.RequestNodes(ctx, []string{"linux"}); err == nil {
		t.Fatal("expected an error for a label no node satisfies")
	}
}

func TestStaticPoolReturnNodeSetRejectsNil(t *testing.T) {
	pool := NewStaticPool(nil)
	if err := pool.ReturnNodeSet(context.Background(), nil); err == nil {
		t.Fatal("expected an error returning a nil node set")
	}
}
