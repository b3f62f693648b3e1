package cycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	EventCycleStarted EventType = "cycle_started"
	EventCycleEnded   EventType = "cycle_ended"
	EventPhaseChanged EventType = "phase_changed"
)

// Event is one observed transition. Phase is the phase entered (for
// cycle_ended, the last phase the cycle was seen in).
type Event struct {
	Type      EventType `json:"type"`
	CycleID   int64     `json:"cycle_id"`
	Phase     Phase     `json:"phase"`
	PrevPhase Phase     `json:"prev_phase,omitempty"`
	Block     int64     `json:"block"`
	Info      Info      `json:"info"`
	At        time.Time `json:"at"`
}

// Handler runs side effects for a transition. It is called at most once per
// transition, synchronously and in event order; it must not call Advance.
type Handler func(ctx context.Context, ev Event) error

// BlockSource reports the current chain height.
type BlockSource interface {
	Height(ctx context.Context) (int64, error)
}

// Status is a read-only view of the scheduler's last-known state.
// DroppedEvents counts events a full subscriber buffer did not take.
type Status struct {
	Info          Info       `json:"info"`
	Initialized   bool       `json:"initialized"`
	LastPollAt    *time.Time `json:"last_poll_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	DroppedEvents uint64     `json:"dropped_events"`
}

type state struct {
	info        Info
	tracked     map[int64]Phase
	initialized bool
	lastPollAt  *time.Time
	lastErr     *string
}

// Scheduler maps block heights to cycle phases and emits transitions. All
// state changes go through Advance, which is serialized by transitionMu.
// mu only guards st and handlers, so reads never wait on handler I/O.
type Scheduler struct {
	params Params
	logger *zap.Logger
	now    func() time.Time

	transitionMu sync.Mutex

	mu       sync.Mutex
	st       state
	handlers []Handler

	subMu   sync.RWMutex
	subs    map[int]chan Event
	nextSub int
	dropped atomic.Uint64
}

func NewScheduler(params Params, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		params: params,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		subs:   map[int]chan Event{},
	}
}

func (s *Scheduler) Params() Params { return s.params }

// OnTransition registers a handler. Register before the first Advance.
func (s *Scheduler) OnTransition(h Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Subscribe returns a channel of events and a cancel func. Slow subscribers
// miss events rather than block the scheduler.
func (s *Scheduler) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// Snapshot returns a copy of the last derived cycle info.
func (s *Scheduler) Snapshot() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyInfo(s.st.info), s.st.initialized
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Info:          copyInfo(s.st.info),
		Initialized:   s.st.initialized,
		LastPollAt:    s.st.lastPollAt,
		LastError:     s.st.lastErr,
		DroppedEvents: s.dropped.Load(),
	}
}

// Tick polls src once. When the source fails the scheduler keeps its
// last-known state and emits nothing.
func (s *Scheduler) Tick(ctx context.Context, src BlockSource) error {
	if src == nil {
		return errors.New("nil block source")
	}
	height, err := src.Height(ctx)
	if err != nil {
		s.mu.Lock()
		now := s.now()
		msg := err.Error()
		s.st.lastPollAt = &now
		s.st.lastErr = &msg
		s.mu.Unlock()
		s.logger.Warn("block source unreachable, holding last-known cycle state", zap.Error(err))
		return err
	}
	_, err = s.Advance(ctx, height)
	return err
}

// Advance derives the state at block and runs handlers for every transition
// since the previous call. Heights at or below the last seen block are ignored.
// The new state is visible to Snapshot before the handlers run.
func (s *Scheduler) Advance(ctx context.Context, block int64) ([]Event, error) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	events, handlers, err := s.commit(block)
	if err != nil || len(events) == 0 {
		return events, err
	}

	for _, ev := range events {
		s.logger.Info("cycle transition",
			zap.String("event", string(ev.Type)),
			zap.Int64("cycle_id", ev.CycleID),
			zap.String("phase", string(ev.Phase)),
			zap.String("prev_phase", string(ev.PrevPhase)),
			zap.Int64("block", ev.Block),
		)
		for _, h := range handlers {
			if err := h(ctx, ev); err != nil {
				s.logger.Warn("transition handler failed",
					zap.String("event", string(ev.Type)),
					zap.Int64("cycle_id", ev.CycleID),
					zap.String("phase", string(ev.Phase)),
					zap.Error(err),
				)
			}
		}
		s.publish(ev)
	}
	return events, nil
}

// commit stores the state at block and returns the transitions it implies
// along with the handlers registered at that moment.
func (s *Scheduler) commit(block int64) ([]Event, []Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.st.lastPollAt = &now
	if s.st.initialized && block <= s.st.info.Block {
		s.st.lastErr = nil
		return nil, nil, nil
	}
	info, err := CurrentCycle(block, s.params)
	if err != nil {
		msg := err.Error()
		s.st.lastErr = &msg
		return nil, nil, err
	}
	s.st.lastErr = nil

	tracked := info.Tracked()
	events := diff(s.st.tracked, tracked, info, now)
	s.st.info = info
	s.st.tracked = tracked
	s.st.initialized = true

	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	return events, handlers, nil
}

func (s *Scheduler) publish(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// diff orders events as: ended cycles, the started cycle, then phase changes
// with the settling cycle before the current one.
func diff(prev, cur map[int64]Phase, info Info, at time.Time) []Event {
	var events []Event
	mk := func(t EventType, id int64, phase, prevPhase Phase) Event {
		return Event{Type: t, CycleID: id, Phase: phase, PrevPhase: prevPhase, Block: info.Block, Info: copyInfo(info), At: at}
	}

	ended := make([]int64, 0, len(prev))
	for id := range prev {
		if _, ok := cur[id]; !ok {
			ended = append(ended, id)
		}
	}
	sort.Slice(ended, func(i, j int) bool { return ended[i] < ended[j] })
	for _, id := range ended {
		events = append(events, mk(EventCycleEnded, id, prev[id], prev[id]))
	}

	if _, ok := prev[info.CycleID]; !ok {
		events = append(events, mk(EventCycleStarted, info.CycleID, info.Phase, ""))
	}

	ids := make([]int64, 0, len(cur))
	for id := range cur {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if p, ok := prev[id]; ok && p == cur[id] {
			continue
		}
		events = append(events, mk(EventPhaseChanged, id, cur[id], prev[id]))
	}
	return events
}

func copyInfo(i Info) Info {
	if i.Settling != nil {
		st := *i.Settling
		i.Settling = &st
	}
	return i
}
