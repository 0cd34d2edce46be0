package model

import "time"

// QueueItem is one change enqueued into one pipeline's shared queue.
// Its ItemAhead/ItemsBehind links form the total order within its
// SharedQueue (spec §3, §8 invariants); only SharedQueue mutates those
// links, preserving "ownership is exclusively by the SharedQueue" from
// the design notes.
type QueueItem struct {
	Change          Change
	Pipeline        *Pipeline
	Queue           *SharedQueue
	ItemAhead       *QueueItem
	ItemsBehind     []*QueueItem
	CurrentBuildSet *BuildSet
	JobTree         *JobTree
	EnqueueTime     time.Time
	Live            bool

	// MergeFailed records that the item's speculative merge failed
	// (MERGER_FAILURE); set by the pipeline manager before dequeue.
	MergeFailed bool
}

// ResetBuildSet replaces CurrentBuildSet with a fresh one, per the
// spec §3 invariant that only the latest build set is live. The
// previous BuildSet remains reachable to whatever holds a reference
// to it (e.g. a history slice a caller keeps), but this method does
// not retain one itself.
func (qi *QueueItem) ResetBuildSet() *BuildSet {
	qi.CurrentBuildSet = NewBuildSet(qi)
	return qi.CurrentBuildSet
}

// AtHead reports whether qi has no item ahead of it.
func (qi *QueueItem) AtHead() bool { return qi.ItemAhead == nil }

// SharedQueue is an ordered list of QueueItems for a set of projects
// that share an ordering constraint (spec §3). It is the sole owner
// of the ItemAhead/ItemsBehind links between its items.
type SharedQueue struct {
	Name     string
	Projects []*Project
	items    []*QueueItem // authoritative order, head first
}

// NewSharedQueue creates an empty shared queue over the given
// projects.
func NewSharedQueue(name string, projects []*Project) *SharedQueue {
	return &SharedQueue{Name: name, Projects: projects}
}

// HasProject reports whether p is one of the queue's member projects.
func (q *SharedQueue) HasProject(p *Project) bool {
	for _, existing := range q.Projects {
		if existing.Key() == p.Key() {
			return true
		}
	}
	return false
}

// Items returns the queue's items in order, head first. The returned
// slice is a copy; callers must not mutate it to reorder the queue —
// use Enqueue/Dequeue/Reorder instead.
func (q *SharedQueue) Items() []*QueueItem {
	out := make([]*QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of items currently enqueued.
func (q *SharedQueue) Len() int { return len(q.items) }

// Enqueue appends item to the tail of the queue, wiring its
// ItemAhead/ItemsBehind links, and marks it live.
// Enqueue expects the caller to have already set item.Pipeline.
func (q *SharedQueue) Enqueue(item *QueueItem) {
	item.Queue = q
	item.Live = true
	if n := len(q.items); n > 0 {
		tail := q.items[n-1]
		item.ItemAhead = tail
		tail.ItemsBehind = append(tail.ItemsBehind, item)
	} else {
		item.ItemAhead = nil
	}
	item.ItemsBehind = nil
	q.items = append(q.items, item)
}

// Dequeue removes item from the queue, relinking its neighbours so the
// chain invariant (ItemAhead is reverse of ItemsBehind) is preserved,
// and clears item's pipeline/queue fields together (spec §3 invariant:
// pipeline and queue are either both set or both cleared).
func (q *SharedQueue) Dequeue(item *QueueItem) {
	idx := q.indexOf(item)
	if idx < 0 {
		return
	}
	ahead := item.ItemAhead
	behind := item.ItemsBehind

	for _, b := range behind {
		b.ItemAhead = ahead
	}
	if ahead != nil {
		// Replace item with behind in ahead's ItemsBehind, preserving order.
		newBehind := make([]*QueueItem, 0, len(ahead.ItemsBehind)-1+len(behind))
		for _, existing := range ahead.ItemsBehind {
			if existing == item {
				newBehind = append(newBehind, behind...)
				continue
			}
			newBehind = append(newBehind, existing)
		}
		ahead.ItemsBehind = newBehind
	}

	q.items = append(q.items[:idx], q.items[idx+1:]...)

	item.ItemAhead = nil
	item.ItemsBehind = nil
	item.Pipeline = nil
	item.Queue = nil
	item.Live = false
}

// Promote moves the items identified by ids (in ids order, each id
// compared with matchID of every item) to the head of the queue,
// preserving the relative order of the remaining items behind them,
// and relinks the whole chain. matcher is not consulted. Ids that
// match no item are returned in notFound, and the queue is then left
// unchanged, so the caller can raise "change id not in queue" per
// spec §8.
func (q *SharedQueue) Promote(matcher func(*QueueItem) bool, ids []string, matchID func(*QueueItem) string) (promoted []*QueueItem, notFound []string) {
	byID := make(map[string]*QueueItem, len(q.items))
	for _, it := range q.items {
		byID[matchID(it)] = it
	}

	seen := make(map[*QueueItem]bool)
	for _, id := range ids {
		it, ok := byID[id]
		if !ok {
			notFound = append(notFound, id)
			continue
		}
		promoted = append(promoted, it)
		seen[it] = true
	}
	if len(notFound) > 0 {
		return promoted, notFound
	}

	rest := make([]*QueueItem, 0, len(q.items)-len(promoted))
	for _, it := range q.items {
		if !seen[it] {
			rest = append(rest, it)
		}
	}

	q.items = append(append([]*QueueItem{}, promoted...), rest...)
	q.relinkAll()
	return promoted, nil
}

// relinkAll rebuilds every item's ItemAhead/ItemsBehind from the
// current q.items order. Used after a bulk reorder (Promote).
func (q *SharedQueue) relinkAll() {
	for i, it := range q.items {
		if i == 0 {
			it.ItemAhead = nil
		} else {
			it.ItemAhead = q.items[i-1]
		}
	}
	for i, it := range q.items {
		behind := make([]*QueueItem, 0, 1)
		if i+1 < len(q.items) {
			behind = append(behind, q.items[i+1])
		}
		it.ItemsBehind = behind
	}
}

func (q *SharedQueue) indexOf(item *QueueItem) int {
	for i, it := range q.items {
		if it == item {
			return i
		}
	}
	return -1
}

// ItemsFrom returns item and every item currently queued behind it,
// head-to-tail, used by "reset all items behind" on dequeue-by-failure
// (spec §4.3).
func (q *SharedQueue) ItemsFrom(item *QueueItem) []*QueueItem {
	idx := q.indexOf(item)
	if idx < 0 {
		return nil
	}
	out := make([]*QueueItem, len(q.items)-idx)
	copy(out, q.items[idx:])
	return out
}
