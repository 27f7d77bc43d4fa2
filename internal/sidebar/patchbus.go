package sidebar

import (
	"reflect"
	"sync"
	"time"

	"github.com/opencode-studio/gateway/internal/model"
)

const (
	patchBufferMaxEvents = 2048
	patchBufferMaxBytes  = 8 * 1024 * 1024

	pollIntervalMin  = 1500 * time.Millisecond
	pollIntervalMax  = 8000 * time.Millisecond
	pollIntervalIdle = 2500 * time.Millisecond
)

// eventWeight is the approximate byte cost used to cap the replay buffer,
// avoiding a JSON re-marshal on every append.
func eventWeight(ev model.PatchEvent) int {
	w := 32
	for _, op := range ev.Ops {
		w += 64
		if op.Session != nil {
			w += len(op.Session.Title) + len(op.Session.Directory) + 96
		}
		if op.Directory != nil {
			w += len(op.Directory.Path) + 48
		}
	}
	return w
}

// Bus is the process-wide singleton that diffs successive sidebar snapshots
// into sequenced patch events and serves them to SSE subscribers, either by
// replaying from a known sequence number or by forcing a full resync when
// the requested sequence has aged out of the buffer.
type Bus struct {
	mu sync.Mutex

	seq    int64
	last   *model.SidebarSnapshot
	buffer []model.PatchEvent
	bytes  int

	latestUnbufferedSeq int64

	consecutiveEmptyPolls int
}

// NewBus returns an empty Bus with no prior snapshot.
func NewBus() *Bus {
	return &Bus{}
}

// Publish diffs snapshot against the previously published one, appends the
// resulting patch event (if non-empty) to the replay buffer, and returns it.
// A nil return means nothing changed.
func (b *Bus) Publish(snapshot *model.SidebarSnapshot, now time.Time) *model.PatchEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ops := diffSnapshots(b.last, snapshot)
	b.last = snapshot

	if len(ops) == 0 {
		b.consecutiveEmptyPolls++
		return nil
	}
	b.consecutiveEmptyPolls = 0

	b.seq++
	ev := model.PatchEvent{Seq: b.seq, Ts: now.UnixMilli(), Ops: ops}
	b.append(ev)
	return &ev
}

func (b *Bus) append(ev model.PatchEvent) {
	b.buffer = append(b.buffer, ev)
	b.bytes += eventWeight(ev)

	for len(b.buffer) > patchBufferMaxEvents || b.bytes > patchBufferMaxBytes {
		dropped := b.buffer[0]
		b.buffer = b.buffer[1:]
		b.bytes -= eventWeight(dropped)
		if dropped.Seq > b.latestUnbufferedSeq {
			b.latestUnbufferedSeq = dropped.Seq
		}
	}
}

// Replay returns every buffered event with Seq > sinceSeq. ok is false when
// the caller must be forced into a full resync instead: sinceSeq is ahead of
// the current seq, or it has aged out of the buffer (sinceSeq <=
// latestUnbufferedSeq).
func (b *Bus) Replay(sinceSeq int64) (events []model.PatchEvent, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sinceSeq > b.seq {
		return nil, false
	}
	if sinceSeq > 0 && sinceSeq <= b.latestUnbufferedSeq {
		return nil, false
	}

	out := make([]model.PatchEvent, 0, len(b.buffer))
	for _, ev := range b.buffer {
		if ev.Seq > sinceSeq {
			out = append(out, ev)
		}
	}
	return out, true
}

// CurrentSeq returns the sequence number of the most recently published
// event, or 0 if none has been published yet.
func (b *Bus) CurrentSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// LastSnapshot returns the most recently published snapshot, or nil.
func (b *Bus) LastSnapshot() *model.SidebarSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// ResetPrev clears the previous snapshot so the next Publish emits a full
// upsert stream. The poller calls this while it has no subscribers.
func (b *Bus) ResetPrev() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = nil
	b.consecutiveEmptyPolls = 0
}

// FullUpsertEvent synthesizes a patch event carrying an upsert op for every
// entity in the last published snapshot, stamped with the given seq. It is
// not appended to the replay buffer: it exists to serve forced resyncs,
// where a reconnecting client's cursor can no longer be satisfied from the
// buffer. Returns nil when no snapshot has been published yet.
func (b *Bus) FullUpsertEvent(seq int64, now time.Time) *model.PatchEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return nil
	}
	return &model.PatchEvent{Seq: seq, Ts: now.UnixMilli(), Ops: diffSnapshots(nil, b.last)}
}

// NextPollInterval implements the adaptive cadence: polls start at
// pollIntervalMin and double on every consecutive no-op poll, capped at
// pollIntervalMax; any emitted op resets the cadence.
func (b *Bus) NextPollInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	interval := pollIntervalMin
	for i := 0; i < b.consecutiveEmptyPolls && interval < pollIntervalMax; i++ {
		interval *= 2
	}
	if interval > pollIntervalMax {
		interval = pollIntervalMax
	}
	return interval
}

func diffSnapshots(old, next *model.SidebarSnapshot) []model.PatchOp {
	var ops []model.PatchOp

	if old == nil {
		next.Directories.Range(func(id string, d model.DirectoryEntry) bool {
			ops = append(ops, model.PatchOp{Kind: model.OpDirectoryUpsert, ID: id, Directory: &d})
			return true
		})
		next.Sessions.Range(func(id string, s model.SessionSummary) bool {
			ops = append(ops, model.PatchOp{Kind: model.OpSessionUpsert, ID: id, Session: &s})
			return true
		})
		next.Runtime.Range(func(id string, r model.SessionRuntime) bool {
			ops = append(ops, model.PatchOp{Kind: model.OpRuntimeUpsert, ID: id, Runtime: &r})
			return true
		})
		return ops
	}

	ops = append(ops, diffDirectories(old.Directories, next.Directories)...)
	ops = append(ops, diffSessions(old.Sessions, next.Sessions)...)
	ops = append(ops, diffRuntime(old.Runtime, next.Runtime)...)
	return ops
}

func diffDirectories(old, next *model.OrderedMap[model.DirectoryEntry]) []model.PatchOp {
	var ops []model.PatchOp
	next.Range(func(id string, d model.DirectoryEntry) bool {
		if prev, ok := old.Get(id); !ok || !reflect.DeepEqual(prev, d) {
			d := d
			ops = append(ops, model.PatchOp{Kind: model.OpDirectoryUpsert, ID: id, Directory: &d})
		}
		return true
	})
	for _, id := range old.Keys() {
		if _, ok := next.Get(id); !ok {
			ops = append(ops, model.PatchOp{Kind: model.OpDirectoryRemove, ID: id})
		}
	}
	return ops
}

func diffSessions(old, next *model.OrderedMap[model.SessionSummary]) []model.PatchOp {
	var ops []model.PatchOp
	next.Range(func(id string, s model.SessionSummary) bool {
		if prev, ok := old.Get(id); !ok || !reflect.DeepEqual(prev, s) {
			s := s
			ops = append(ops, model.PatchOp{Kind: model.OpSessionUpsert, ID: id, Session: &s})
		}
		return true
	})
	for _, id := range old.Keys() {
		if _, ok := next.Get(id); !ok {
			ops = append(ops, model.PatchOp{Kind: model.OpSessionRemove, ID: id})
		}
	}
	return ops
}

func diffRuntime(old, next *model.OrderedMap[model.SessionRuntime]) []model.PatchOp {
	var ops []model.PatchOp
	next.Range(func(id string, r model.SessionRuntime) bool {
		if prev, ok := old.Get(id); !ok || !reflect.DeepEqual(prev, r) {
			r := r
			ops = append(ops, model.PatchOp{Kind: model.OpRuntimeUpsert, ID: id, Runtime: &r})
		}
		return true
	})
	for _, id := range old.Keys() {
		if _, ok := next.Get(id); !ok {
			ops = append(ops, model.PatchOp{Kind: model.OpRuntimeRemove, ID: id})
		}
	}
	return ops
}
