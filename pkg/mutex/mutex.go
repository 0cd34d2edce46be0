// Package mutex implements the named-mutex registry jobs declare
// against (model.Job.Mutex) to serialize builds that must not run
// concurrently — e.g. two jobs that both write the same external
// resource. Grounded on zuul's MutexHandler: one holder per name,
// idempotent acquire by the same build, and an anomaly-reclaim path
// for a holder whose build has already terminated without releasing.
package mutex

import (
	"sync"

	"go.uber.org/zap"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// Handler is the process-wide named-mutex registry. It is safe for
// concurrent use.
type Handler struct {
	log     *zap.SugaredLogger
	mu      sync.Mutex
	holders map[string]*model.Build
}

// New creates an empty Handler.
func New(log *zap.SugaredLogger) *Handler {
	return &Handler{log: log, holders: make(map[string]*model.Build)}
}

// Acquire attempts to claim the mutex named name on behalf of build.
// It reports true if build now holds (or already held) the mutex.
//
// If the current holder's build has already reached a terminal result
// without releasing — a scheduler/executor bookkeeping anomaly the
// mutex was never meant to survive — Acquire reclaims the mutex for
// the new build rather than deadlocking the pipeline behind a build
// that will never release it.
func (h *Handler) Acquire(name string, build *model.Build) bool {
	if name == "" {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	holder, held := h.holders[name]
	switch {
	case !held:
		h.holders[name] = build
		return true
	case holder == build:
		return true
	case holder.Result.IsTerminal():
		h.log.Warnw("reclaiming mutex from a build that completed without releasing it",
			"mutex", name, "previous_build", holder.UUID, "new_build", build.UUID)
		h.holders[name] = build
		return true
	default:
		return false
	}
}

// Release relinquishes the mutex named name if build currently holds
// it. Releasing a mutex the caller does not hold is a no-op, logged
// at warning level, matching zuul's release-is-harmless stance (a
// build that lost its mutex to a reclaim must not be able to steal it
// back by calling Release out of turn).
func (h *Handler) Release(name string, build *model.Build) {
	if name == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	holder, held := h.holders[name]
	if !held {
		h.log.Warnw("build released a mutex it does not hold", "mutex", name, "build", build.UUID)
		return
	}
	if holder != build {
		h.log.Warnw("build released a mutex it does not hold", "mutex", name, "build", build.UUID)
		return
	}
	delete(h.holders, name)
}

// HolderFor returns the build currently holding name, or nil.
func (h *Handler) HolderFor(name string) *model.Build {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.holders[name]
}
