// internal/gameserver/push.go
package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/events"
)

// StatusUserNameRejected is the close code of a push channel opened with a
// user name the server does not accept. Like a policy violation it ends the
// channel without reconnecting.
const StatusUserNameRejected websocket.StatusCode = 3002

// PushOptions tune reconnection of the push channel.
type PushOptions struct {
	// MaxAttempts is the number of redials after a drop before the channel
	// gives up and reports Closed. Zero retries forever.
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

func (o *PushOptions) defaults() {
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = o.MinBackoff
	}
}

// PushChannel is the server-to-client event stream. Data events and the
// Reconnecting, Reconnected and Closed lifecycle events arrive in order on
// Events. The channel is closed after Closed or after Close.
type PushChannel struct {
	url    string
	opts   PushOptions
	logger log.FieldLogger
	out    chan events.Event

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// OpenPush dials the push channel as userName and starts reading. The first
// dial must succeed; later drops are retried with exponential backoff.
func (c *Client) OpenPush(ctx context.Context, userName string, opts PushOptions) (*PushChannel, error) {
	opts.defaults()

	u := c.base.JoinPath("/ws")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"name": {userName}}.Encode()

	runCtx, cancel := context.WithCancel(context.Background())
	p := &PushChannel{
		url:    u.String(),
		opts:   opts,
		logger: c.logger.WithField("component", "push"),
		out:    make(chan events.Event, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if err := p.dial(ctx); err != nil {
		cancel()
		return nil, errs.Network("dial push channel", err)
	}
	p.logger.WithField("url", p.url).Info("push channel connected")

	go p.run(runCtx)
	return p, nil
}

// Events returns the event stream.
func (p *PushChannel) Events() <-chan events.Event { return p.out }

// Done is closed when the channel has stopped.
func (p *PushChannel) Done() <-chan struct{} { return p.done }

// Close stops the channel without emitting Closed.
func (p *PushChannel) Close() error {
	p.cancel()
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client leaving")
	}
	<-p.done
	return err
}

func (p *PushChannel) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, p.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	return nil
}

// run reads until the connection drops, then redials with backoff.
func (p *PushChannel) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.out)

	for {
		err := p.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		if isTerminal(err) {
			p.emit(ctx, events.Event{Kind: events.Closed, Timestamp: time.Now(), Err: err})
			return
		}

		p.logger.WithError(err).Warn("push channel lost, reconnecting")
		if !p.emit(ctx, events.Event{Kind: events.Reconnecting, Timestamp: time.Now(), Err: err}) {
			return
		}
		if err := p.redial(ctx); err != nil {
			if ctx.Err() == nil {
				p.logger.WithError(err).Error("push channel closed")
				p.emit(ctx, events.Event{Kind: events.Closed, Timestamp: time.Now(), Err: err})
			}
			return
		}
		p.logger.Info("push channel reconnected")
		if !p.emit(ctx, events.Event{Kind: events.Reconnected, Timestamp: time.Now()}) {
			return
		}
	}
}

func (p *PushChannel) redial(ctx context.Context) error {
	backoff := p.opts.MinBackoff
	var last error
	for attempt := 1; p.opts.MaxAttempts == 0 || attempt <= p.opts.MaxAttempts; attempt++ {
		p.logger.WithFields(log.Fields{"attempt": attempt, "backoff": backoff}).Debug("push channel redial")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if last = p.dial(ctx); last == nil {
			return nil
		}
		backoff *= 2
		if backoff > p.opts.MaxBackoff {
			backoff = p.opts.MaxBackoff
		}
	}
	return last
}

func (p *PushChannel) readLoop(ctx context.Context) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			p.logger.WithError(err).Warn("undecodable push frame ignored")
			continue
		}
		ev, err := env.ToEvent()
		if err != nil {
			p.logger.WithError(err).Warn("malformed push event ignored")
			continue
		}
		p.logger.WithField("kind", ev.Kind).Debug("push event")
		if !p.emit(ctx, ev) {
			return ctx.Err()
		}
	}
}

func (p *PushChannel) emit(ctx context.Context, ev events.Event) bool {
	select {
	case p.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// isTerminal reports close codes after which reconnecting cannot help.
func isTerminal(err error) bool {
	var ce websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.StatusPolicyViolation || ce.Code == StatusUserNameRejected
}
