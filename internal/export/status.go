package export

import (
	"log/slog"
	"sync"

	"github.com/lapseforge/lapseforge/internal/logging"
)

// State is a step of the export state machine:
// idle → exporting → unifying → completed | failed.
// Imports report through the same hub using importing.
type State string

const (
	StateIdle      State = "idle"
	StateExporting State = "exporting"
	StateUnifying  State = "unifying"
	StateImporting State = "importing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

const (
	KindExport = "export"
	KindImport = "import"
)

// Status is the UI-facing snapshot of one running job.
type Status struct {
	JobID          string  `json:"job_id"`
	Kind           string  `json:"kind"`
	State          State   `json:"state"`
	ExportProgress float64 `json:"export_progress"`
	UnifyProgress  float64 `json:"unify_progress"`
	ImportProgress float64 `json:"import_progress"`
	Extracted      int     `json:"extracted,omitempty"`
	Failed         int     `json:"failed,omitempty"`
	Total          int     `json:"total,omitempty"`
	ETASeconds     float64 `json:"eta_seconds,omitempty"`
	Success        bool    `json:"success"`
	Error          string  `json:"error,omitempty"`
	Output         string  `json:"output,omitempty"`
}

// Observer is notified of every status change, in order, on the hub's
// dispatch goroutine.
type Observer interface {
	StatusChanged(Status)
}

type ObserverFunc func(Status)

func (f ObserverFunc) StatusChanged(s Status) { f(s) }

type subscriber struct {
	jobID string
	ch    chan Status
}

// Hub owns job status. All mutations are queued and applied by a single
// dispatch goroutine, which also notifies observers and subscribers, so
// background work never touches the status directly.
type Hub struct {
	ops    chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	mu        sync.RWMutex
	current   Status
	latest    map[string]Status
	observers []Observer
	subs      map[int]subscriber
	nextSub   int
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	h := &Hub{
		ops:     make(chan func(), 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logging.WithComponent(logger, "status"),
		current: Status{State: StateIdle},
		latest:  make(map[string]Status),
		subs:    make(map[int]subscriber),
	}
	go h.loop()
	return h
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case fn := <-h.ops:
			fn()
		case <-h.quit:
			return
		}
	}
}

// Close stops the dispatch goroutine. Pending updates are dropped.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.quit)
		<-h.done
		h.mu.Lock()
		for id, sub := range h.subs {
			close(sub.ch)
			delete(h.subs, id)
		}
		h.mu.Unlock()
	})
}

func (h *Hub) dispatch(fn func()) {
	select {
	case h.ops <- fn:
	case <-h.quit:
	}
}

// Flush blocks until every update queued before the call has been applied.
func (h *Hub) Flush() {
	done := make(chan struct{})
	h.dispatch(func() { close(done) })
	select {
	case <-done:
	case <-h.quit:
	}
}

// Observe registers o for all future updates.
func (h *Hub) Observe(o Observer) {
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

// Subscribe returns a channel of updates for jobID (all jobs when empty).
// Slow readers only ever miss intermediate updates, never the latest one.
func (h *Hub) Subscribe(jobID string) (<-chan Status, func()) {
	ch := make(chan Status, 8)
	select {
	case <-h.quit:
		close(ch)
		return ch, func() {}
	default:
	}

	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = subscriber{jobID: jobID, ch: ch}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			close(sub.ch)
			delete(h.subs, id)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Current is the status of the most recently updated job.
func (h *Hub) Current() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Snapshot returns the last status reported for jobID.
func (h *Hub) Snapshot(jobID string) (Status, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.latest[jobID]
	return s, ok
}

// Track returns a handle that reports status for one job.
func (h *Hub) Track(jobID, kind string) *Tracker {
	return &Tracker{hub: h, jobID: jobID, kind: kind}
}

func (h *Hub) apply(jobID, kind string, mutate func(*Status)) {
	h.dispatch(func() {
		h.mu.Lock()
		s, ok := h.latest[jobID]
		if !ok {
			s = Status{JobID: jobID, Kind: kind, State: StateIdle}
		}
		mutate(&s)
		h.latest[jobID] = s
		h.current = s
		observers := append([]Observer(nil), h.observers...)
		for _, sub := range h.subs {
			if sub.jobID == "" || sub.jobID == jobID {
				offer(sub.ch, s)
			}
		}
		h.mu.Unlock()

		for _, o := range observers {
			o.StatusChanged(s)
		}
	})
}

// offer delivers s without blocking, discarding the oldest queued update
// when the channel is full.
func offer(ch chan Status, s Status) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Tracker reports progress for a single job. A nil Tracker discards updates.
type Tracker struct {
	hub   *Hub
	jobID string
	kind  string
}

func (t *Tracker) update(mutate func(*Status)) {
	if t == nil || t.hub == nil {
		return
	}
	t.hub.apply(t.jobID, t.kind, mutate)
}

// Begin resets the job and enters state.
func (t *Tracker) Begin(state State) {
	t.update(func(s *Status) {
		*s = Status{JobID: s.JobID, Kind: s.Kind, State: state}
	})
}

func (t *Tracker) ExportProgress(p float64) {
	t.update(func(s *Status) {
		s.State = StateExporting
		s.ExportProgress = p
	})
}

func (t *Tracker) UnifyProgress(p float64) {
	t.update(func(s *Status) {
		s.State = StateUnifying
		s.UnifyProgress = p
	})
}

// ImportProgress counts dropped frames as done so progress reaches 1 once
// every frame has been attempted.
func (t *Tracker) ImportProgress(extracted, failed, total int, eta float64) {
	t.update(func(s *Status) {
		s.State = StateImporting
		s.Extracted = extracted
		s.Failed = failed
		s.Total = total
		s.ETASeconds = eta
		if total > 0 {
			s.ImportProgress = min(1, float64(extracted+failed)/float64(total))
		}
	})
}

func (t *Tracker) Complete(output string) {
	t.update(func(s *Status) {
		s.State = StateCompleted
		s.Success = true
		s.Output = output
		s.Error = ""
	})
}

func (t *Tracker) Fail(err error) {
	t.update(func(s *Status) {
		s.State = StateFailed
		s.Success = false
		if err != nil {
			s.Error = err.Error()
		}
	})
}
