// internal/supervisor/supervisor.go
//
// Package supervisor reacts to push-channel lifecycle events: it announces
// reconnects, resynchronizes the lobby collections afterwards and ends the
// lobby when the channel is gone for good.
package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/events"
	"github.com/jason-s-yu/sionline/internal/messages"
	"github.com/jason-s-yu/sionline/internal/observe"
)

// State of the push channel as seen by the supervisor.
type State int

const (
	Connected State = iota
	Reconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case Reconnecting:
		return "reconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return "connected"
	}
}

// Config wires a Supervisor. Every function is optional.
type Config struct {
	// ResyncDirectory and ResyncPresence replace the collections with fresh
	// server snapshots. They run in this order after every reconnect.
	ResyncDirectory func(ctx context.Context) error
	ResyncPresence  func(ctx context.Context) error
	// Notify shows a status line to the user.
	Notify func(text string)
	// Report surfaces a non-fatal resync failure.
	Report func(err error)
	// Terminate ends the lobby after the channel closed for good.
	Terminate func(err error)
	// Busy is raised while a resync runs.
	Busy   func(bool)
	Logger log.FieldLogger
}

// Supervisor handles Reconnecting, Reconnected and Closed events.
type Supervisor struct {
	cfg    Config
	logger log.FieldLogger
	state  observe.Value[State]

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates a supervisor in the Connected state.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	return &Supervisor{cfg: cfg, logger: cfg.Logger.WithField("component", "supervisor")}
}

// State returns the channel state.
func (s *Supervisor) State() State { return s.state.Get() }

// SubscribeState registers fn for state changes.
func (s *Supervisor) SubscribeState(fn func(State)) func() { return s.state.Subscribe(fn) }

// Attach subscribes the supervisor to the lifecycle events of bus.
func (s *Supervisor) Attach(bus *events.Bus) (detach func()) {
	unsubs := []func(){
		bus.Subscribe(events.Reconnecting, s.HandleReconnecting),
		bus.Subscribe(events.Reconnected, s.HandleReconnected),
		bus.Subscribe(events.Closed, s.HandleClosed),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// HandleReconnecting announces the outage. Collections are left untouched.
func (s *Supervisor) HandleReconnecting(e events.Event) error {
	s.state.Set(Reconnecting)
	text := messages.Reconnecting
	if e.Err != nil {
		text += " " + e.Err.Error()
	}
	s.notify(text)
	return nil
}

// HandleReconnected announces the recovery and starts a resync in the
// background. A resync still running from an earlier reconnect is cancelled.
func (s *Supervisor) HandleReconnected(events.Event) error {
	s.state.Set(Connected)
	s.notify(messages.Reconnected)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.resync(ctx, uuid.NewString())
	}()
	return nil
}

// HandleClosed ends the lobby.
func (s *Supervisor) HandleClosed(e events.Event) error {
	s.state.Set(Disconnected)
	text := messages.LostConnection
	if e.Err != nil {
		text += ": " + e.Err.Error()
	}
	s.logger.WithError(e.Err).Warn("push channel closed, leaving lobby")
	s.notify(text)
	s.Stop()
	if s.cfg.Terminate != nil {
		s.cfg.Terminate(e.Err)
	}
	return nil
}

// Stop cancels a running resync and waits for it. Later reconnects are ignored.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Wait blocks until no resync is running.
func (s *Supervisor) Wait() { s.wg.Wait() }

func (s *Supervisor) resync(ctx context.Context, id string) {
	logger := s.logger.WithField("resync", id)
	if s.cfg.Busy != nil {
		s.cfg.Busy(true)
		defer s.cfg.Busy(false)
	}

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"directory", s.cfg.ResyncDirectory},
		{"presence", s.cfg.ResyncPresence},
	}
	for _, step := range steps {
		if step.run == nil {
			continue
		}
		err := step.run(ctx)
		switch {
		case err == nil:
			logger.WithField("step", step.name).Debug("resync step done")
		case errors.Is(err, errs.ErrSuperseded), errs.IsCancelled(err), ctx.Err() != nil:
			logger.WithField("step", step.name).Debug("resync superseded")
			return
		default:
			logger.WithError(err).WithField("step", step.name).Warn("resync failed")
			if s.cfg.Report != nil {
				s.cfg.Report(err)
			}
		}
	}
}

func (s *Supervisor) notify(text string) {
	if s.cfg.Notify != nil {
		s.cfg.Notify(text)
	}
}
