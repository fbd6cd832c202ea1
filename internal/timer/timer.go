package timer

import (
	"io"
	"log"
	"sync"
	"time"

	"crabstack.local/projects/crab-stk/internal/stk"
)

type Kind string

const (
	KindDialog Kind = "dialog"
	KindTone   Kind = "tone"
)

// Key identifies a countdown. A slot has at most one timer per kind.
type Key struct {
	Slot stk.SlotID
	Kind Kind
}

// Fired is delivered to the sink when a countdown expires. CommandID names
// the command the countdown was started for so late expiries can be
// recognized as stale.
type Fired struct {
	Key       Key
	CommandID string
}

type stopFunc func() bool

type entry struct {
	commandID string
	total     time.Duration
	elapsed   time.Duration
	startedAt time.Time
	paused    bool
	gen       uint64
	stop      stopFunc
}

// Service runs pausable countdowns and posts expiries to a sink. Cancelling a
// countdown before it fires guarantees the sink is never called for it.
type Service struct {
	logger *log.Logger
	sink   func(Fired)

	mu      sync.Mutex
	timers  map[Key]*entry
	nextGen uint64
	closed  bool

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopFunc
}

func New(logger *log.Logger, sink func(Fired)) *Service {
	if sink == nil {
		panic("timer: sink is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		logger: logger,
		sink:   sink,
		timers: make(map[Key]*entry),
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) stopFunc {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// Start (re)arms the countdown for key. Any previous countdown under the
// same key is cancelled.
func (s *Service) Start(key Key, commandID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.timers[key]; ok && prev.stop != nil {
		prev.stop()
	}
	e := &entry{commandID: commandID, total: d}
	s.timers[key] = e
	s.armLocked(key, e, d)
	s.logger.Printf("timer started slot=%s kind=%s command_id=%s duration=%s", key.Slot, key.Kind, commandID, d)
}

func (s *Service) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return
	}
	if e.stop != nil {
		e.stop()
	}
	delete(s.timers, key)
}

// CancelSlot cancels every countdown of the slot.
func (s *Service) CancelSlot(slot stk.SlotID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.timers {
		if key.Slot != slot {
			continue
		}
		if e.stop != nil {
			e.stop()
		}
		delete(s.timers, key)
	}
}

// Pause freezes the countdown, keeping the elapsed time.
func (s *Service) Pause(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok || e.paused {
		return
	}
	if e.stop != nil {
		e.stop()
		e.stop = nil
	}
	e.elapsed += s.now().Sub(e.startedAt)
	e.paused = true
}

// Resume continues a paused countdown with the remaining time.
func (s *Service) Resume(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok || !e.paused {
		return
	}
	e.paused = false
	remaining := e.total - e.elapsed
	if remaining < 0 {
		remaining = 0
	}
	s.armLocked(key, e, remaining)
}

// Reset restarts the full countdown, typically on user activity in a dialog.
// A paused countdown stays paused with its elapsed time cleared.
func (s *Service) Reset(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return
	}
	e.elapsed = 0
	if e.paused {
		return
	}
	if e.stop != nil {
		e.stop()
	}
	s.armLocked(key, e, e.total)
}

// Active reports the command the countdown under key belongs to.
func (s *Service) Active(key Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return "", false
	}
	return e.commandID, true
}

// Close cancels every countdown. Later starts are ignored.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, e := range s.timers {
		if e.stop != nil {
			e.stop()
		}
		delete(s.timers, key)
	}
}

func (s *Service) armLocked(key Key, e *entry, d time.Duration) {
	s.nextGen++
	gen := s.nextGen
	e.gen = gen
	e.startedAt = s.now()
	e.stop = s.afterFunc(d, func() {
		s.fire(key, gen)
	})
}

func (s *Service) fire(key Key, gen uint64) {
	s.mu.Lock()
	e, ok := s.timers[key]
	if !ok || e.gen != gen || e.paused {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	commandID := e.commandID
	s.mu.Unlock()

	s.sink(Fired{Key: key, CommandID: commandID})
}
