package mutex

import (
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/logging"
	"github.com/conveyor-ci/conveyor/pkg/model"
)

func newBuild(uuid string) *model.Build {
	return model.NewBuild(&model.Job{Name: "deploy", Mutex: "deploy-lock"}, nil, uuid, time.Unix(0, 0))
}

func TestAcquireGrantsWhenFree(t *testing.T) {
	h := New(logging.NewNop())
	b := newBuild("b1")
	if !h.Acquire("deploy-lock", b) {
		t.Fatalf("expected Acquire to succeed on a free mutex")
	}
	if h.HolderFor("deploy-lock") != b {
		t.Fatalf("expected b to be the recorded holder")
	}
}

func TestAcquireIsIdempotentForSameHolder(t *testing.T) {
	h := New(logging.NewNop())
	b := newBuild("b1")
	h.Acquire("deploy-lock", b)
	if !h.Acquire("deploy-lock", b) {
		t.Fatalf("expected re-acquiring the same mutex by the same build to succeed")
	}
}

func TestAcquireBlocksSecondHolder(t *testing.T) {
	h := New(logging.NewNop())
	b1, b2 := newBuild("b1"), newBuild("b2")
	h.Acquire("deploy-lock", b1)
	if h.Acquire("deploy-lock", b2) {
		t.Fatalf("expected a second build to be denied the held mutex")
	}
}

func TestAcquireReclaimsFromTerminalHolder(t *testing.T) {
	h := New(logging.NewNop())
	b1, b2 := newBuild("b1"), newBuild("b2")
	h.Acquire("deploy-lock", b1)
	b1.Result = model.ResultFailure

	if !h.Acquire("deploy-lock", b2) {
		t.Fatalf("expected Acquire to reclaim from a build with a terminal result")
	}
	if h.HolderFor("deploy-lock") != b2 {
		t.Fatalf("expected b2 to be the new holder after reclaim")
	}
}

func TestReleaseByNonHolderIsNoop(t *testing.T) {
	h := New(logging.NewNop())
	b1, b2 := newBuild("b1"), newBuild("b2")
	h.Acquire("deploy-lock", b1)

	h.Release("deploy-lock", b2)
	if h.HolderFor("deploy-lock") != b1 {
		t.Fatalf("expected release by a non-holder to leave the holder unchanged")
	}
}

func TestReleaseByHolderFreesTheMutex(t *testing.T) {
	h := New(logging.NewNop())
	b1 := newBuild("b1")
	h.Acquire("deploy-lock", b1)
	h.Release("deploy-lock", b1)
	if h.HolderFor("deploy-lock") != nil {
		t.Fatalf("expected mutex to be free after release by its holder")
	}
}

func TestEmptyNameAlwaysAcquires(t *testing.T) {
	h := New(logging.NewNop())
	b := newBuild("b1")
	if !h.Acquire("", b) {
		t.Fatalf("expected a job with no mutex name to always acquire")
	}
}
