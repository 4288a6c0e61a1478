package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/events"
	"github.com/jason-s-yu/sionline/internal/messages"
)

type recorder struct {
	mu         sync.Mutex
	steps      []string
	notices    []string
	reports    []error
	terminated []error
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

func (r *recorder) snapshot() ([]string, []string, []error, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...), append([]string(nil), r.notices...),
		append([]error(nil), r.reports...), append([]error(nil), r.terminated...)
}

func newRecorded(dir, pres func(context.Context) error) (*Supervisor, *recorder) {
	r := &recorder{}
	s := New(Config{
		ResyncDirectory: dir,
		ResyncPresence:  pres,
		Notify:          func(t string) { r.mu.Lock(); r.notices = append(r.notices, t); r.mu.Unlock() },
		Report:          func(err error) { r.mu.Lock(); r.reports = append(r.reports, err); r.mu.Unlock() },
		Terminate:       func(err error) { r.mu.Lock(); r.terminated = append(r.terminated, err); r.mu.Unlock() },
	})
	return s, r
}

func TestReconnectingOnlyNotifies(t *testing.T) {
	s, r := newRecorded(nil, nil)
	bus := events.NewBus(nil)
	s.Attach(bus)

	bus.Publish(events.Event{Kind: events.Reconnecting, Err: errors.New("eof")})

	steps, notices, _, _ := r.snapshot()
	assert.Empty(t, steps)
	assert.Equal(t, []string{messages.Reconnecting + " eof"}, notices)
	assert.Equal(t, Reconnecting, s.State())
}

func TestReconnectedResyncsDirectoryThenPresence(t *testing.T) {
	var r *recorder
	s, r := newRecorded(
		func(context.Context) error { r.add("directory"); return nil },
		func(context.Context) error { r.add("presence"); return nil },
	)
	bus := events.NewBus(nil)
	s.Attach(bus)

	bus.Publish(events.Event{Kind: events.Reconnecting})
	bus.Publish(events.Event{Kind: events.Reconnected})
	s.Wait()

	steps, notices, reports, _ := r.snapshot()
	assert.Equal(t, []string{"directory", "presence"}, steps)
	assert.Contains(t, notices, messages.Reconnected)
	assert.Empty(t, reports)
	assert.Equal(t, Connected, s.State())
}

func TestResyncErrorIsReportedNotFatal(t *testing.T) {
	var r *recorder
	boom := errs.Network("get games page", errors.New("503"))
	s, r := newRecorded(
		func(context.Context) error { return boom },
		func(context.Context) error { r.add("presence"); return nil },
	)

	require.NoError(t, s.HandleReconnected(events.Event{}))
	s.Wait()

	steps, _, reports, terminated := r.snapshot()
	assert.Equal(t, []string{"presence"}, steps)
	require.Len(t, reports, 1)
	assert.ErrorIs(t, reports[0], boom)
	assert.Empty(t, terminated)
}

func TestNewerReconnectSupersedesRunningResync(t *testing.T) {
	started := make(chan struct{}, 2)
	var calls int
	var mu sync.Mutex
	var r *recorder
	s, r := newRecorded(
		func(ctx context.Context) error {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			started <- struct{}{}
			if first {
				<-ctx.Done()
				return errs.FromContext(ctx.Err())
			}
			return nil
		},
		func(context.Context) error { r.add("presence"); return nil },
	)

	require.NoError(t, s.HandleReconnected(events.Event{}))
	<-started
	require.NoError(t, s.HandleReconnected(events.Event{}))
	<-started
	s.Wait()

	steps, _, reports, _ := r.snapshot()
	assert.Equal(t, []string{"presence"}, steps, "only the newest resync reaches presence")
	assert.Empty(t, reports)
}

func TestClosedTerminates(t *testing.T) {
	s, r := newRecorded(nil, nil)
	bus := events.NewBus(nil)
	detach := s.Attach(bus)
	defer detach()

	cause := errors.New("gave up")
	bus.Publish(events.Event{Kind: events.Closed, Err: cause})

	_, notices, _, terminated := r.snapshot()
	require.Len(t, terminated, 1)
	assert.ErrorIs(t, terminated[0], cause)
	assert.Equal(t, []string{messages.LostConnection + ": gave up"}, notices)
	assert.Equal(t, Disconnected, s.State())

	// reconnects after termination start nothing
	require.NoError(t, s.HandleReconnected(events.Event{}))
	done := make(chan struct{})
	go func() { s.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("resync started after termination")
	}
}
