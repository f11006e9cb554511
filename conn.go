package redipubsub

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// connState is one of a connection's three lifecycle states.
type connState byte

const (
	stateNeedsBootstrap connState = iota
	stateDisconnected
	stateConnected
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnected:
		return "connected"
	default:
		return "needs-bootstrap"
	}
}

// Conn is one Pub/Sub connection: its lifecycle state, subscription
// ledger and subscriber registry, driven by a single event-loop
// goroutine. Apart from the fixed settings and the ctx/cancel/done/
// events plumbing, every field is owned exclusively by that goroutine
// and must only be touched from inside a closure sent over events —
// one goroutine owns the socket and all mutable state, so nothing here
// needs a mutex.
type Conn[S comparable] struct {
	id      string
	cfg     Config
	logger  zerolog.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	events chan func()

	ledger   *ledger[S]
	registry *registry[S]
	backoff  *reconnectBackoff

	state         connState
	conn          net.Conn
	reader        *bufio.Reader
	peer          string
	generation    uint64
	everConnected bool
	lastErr       error
	reconnectTmr  *time.Timer
	terminal      bool
	fatalErr      error
}

// Option configures a Conn at Open time.
type Option[S comparable] func(*Conn[S])

// WithLogger attaches a zerolog.Logger for structured connection logs.
func WithLogger[S comparable](l zerolog.Logger) Option[S] {
	return func(c *Conn[S]) { c.logger = l }
}

// WithMetrics attaches a Metrics set built by NewMetrics.
func WithMetrics[S comparable](m *Metrics) Option[S] {
	return func(c *Conn[S]) { c.metrics = m }
}

// WithID overrides the default connection id (cfg's address) used to
// tag Events and log lines, useful when a process holds more than one
// Conn against the same address. Metric labels are not affected; they
// come from the connID passed to NewMetrics.
func WithID[S comparable](id string) Option[S] {
	return func(c *Conn[S]) { c.id = id }
}

// Open builds a Conn and starts its event loop. S is the subscriber
// identity type a caller uses to key its own subscriptions (commonly
// a channel, a connection id, or a pointer) — instantiate explicitly,
// e.g. Open[string](cfg).
//
// If cfg.SyncConnect is set, Open blocks on the initial connect and
// returns its error instead of entering the reconnect loop, aborting
// start-up on failure.
func Open[S comparable](cfg Config, opts ...Option[S]) (*Conn[S], error) {
	c := &Conn[S]{
		cfg:      cfg,
		id:       cfg.addr(),
		logger:   zerolog.Nop(),
		ledger:   newLedger[S](),
		registry: newRegistry[S](),
		backoff:  newReconnectBackoff(cfg.BackoffInitial, cfg.BackoffMax),
		done:     make(chan struct{}),
		events:   make(chan func(), 64),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}

	initial := stateNeedsBootstrap
	if cfg.SyncConnect {
		res, err := dial(cfg)
		if err != nil {
			c.cancel()
			return nil, fmt.Errorf("redipubsub: initial connect: %w", err)
		}
		c.conn = res.conn
		c.reader = res.reader
		c.peer = res.peer
		c.everConnected = true
		initial = stateConnected
	}

	go c.run(initial)
	return c, nil
}

// ID returns the connection's identifier, stamped on every Event it
// produces.
func (c *Conn[S]) ID() string { return c.id }

// Done returns a channel closed once the event loop has fully
// terminated, whether by Close or by a fatal error.
func (c *Conn[S]) Done() <-chan struct{} { return c.done }

// Err returns the reason the Conn stopped on its own (with
// ExitOnDisconnect set: a lost connection or a failed connect attempt),
// or nil if it is still running or was shut down via Close. A failed
// SyncConnect is reported by Open instead. Only meaningful after Done()
// is closed.
func (c *Conn[S]) Err() error { return c.fatalErr }

// Close stops the event loop, closes the underlying socket if any, and
// notifies every registered subscriber with a final Disconnected
// event. It blocks until the loop has exited.
func (c *Conn[S]) Close() error {
	c.cancel()
	<-c.done
	return nil
}

// Subscribe registers subscriber's interest in channels, returning its
// SubscriberRef. done is the subscriber's death notification: once it
// fires, every interest belonging to subscriber is dropped and,
// if connected, the now-orphaned targets are unsubscribed on the wire.
// endpoint receives every Event addressed to subscriber from this Conn.
func (c *Conn[S]) Subscribe(subscriber S, done <-chan struct{}, endpoint Endpoint, channels ...string) (SubscriberRef, error) {
	return c.subscribe(ChannelKind, subscriber, done, endpoint, channels)
}

// PSubscribe is Subscribe's glob-pattern counterpart.
func (c *Conn[S]) PSubscribe(subscriber S, done <-chan struct{}, endpoint Endpoint, patterns ...string) (SubscriberRef, error) {
	return c.subscribe(PatternKind, subscriber, done, endpoint, patterns)
}

func (c *Conn[S]) subscribe(kind Kind, subscriber S, done <-chan struct{}, endpoint Endpoint, names []string) (SubscriberRef, error) {
	reply := make(chan subscribeReply, 1)
	fn := func() { c.doSubscribe(kind, subscriber, done, endpoint, names, reply) }
	select {
	case c.events <- fn:
	case <-c.ctx.Done():
		return 0, ErrClosed
	}
	select {
	case r := <-reply:
		return r.ref, r.err
	case <-c.ctx.Done():
		return 0, ErrClosed
	}
}

// Unsubscribe drops subscriber's interest in channels. Names subscriber
// never subscribed to are silently ignored.
func (c *Conn[S]) Unsubscribe(subscriber S, channels ...string) error {
	return c.unsubscribe(ChannelKind, subscriber, channels)
}

// PUnsubscribe is Unsubscribe's glob-pattern counterpart.
func (c *Conn[S]) PUnsubscribe(subscriber S, patterns ...string) error {
	return c.unsubscribe(PatternKind, subscriber, patterns)
}

func (c *Conn[S]) unsubscribe(kind Kind, subscriber S, names []string) error {
	reply := make(chan error, 1)
	fn := func() { c.doUnsubscribe(kind, subscriber, names, reply) }
	select {
	case c.events <- fn:
	case <-c.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.ctx.Done():
		return ErrClosed
	}
}

type subscribeReply struct {
	ref SubscriberRef
	err error
}

// run is the single event-loop goroutine. It owns every field of c
// except the request-submission channels and ctx.
func (c *Conn[S]) run(initial connState) {
	defer close(c.done)
	c.state = initial

	switch c.state {
	case stateNeedsBootstrap:
		// Go's channel semantics give the startup postponement for
		// free: any Subscribe/PSubscribe call racing Open() is simply
		// queued on c.events, and its caller waits for the reply, until
		// this very goroutine starts its select loop below, by which
		// point state is already disconnected.
		c.state = stateDisconnected
		c.attemptConnect()
	case stateDisconnected:
		c.attemptConnect()
	case stateConnected:
		c.generation++
		c.startReader(c.generation)
	}

	for !c.terminal {
		select {
		case fn := <-c.events:
			fn()
		case <-c.ctx.Done():
			c.teardown()
			return
		}
	}
	c.teardown()
}

func (c *Conn[S]) teardown() {
	if c.reconnectTmr != nil {
		c.reconnectTmr.Stop()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	reason := c.fatalErr
	if reason == nil {
		reason = ErrClosed
	}
	c.notifyAllDisconnected(reason)
}

// attemptConnect starts a new connect attempt in its own goroutine,
// tagged with a fresh generation so stale results from an attempt the
// loop has since abandoned are recognized and dropped.
func (c *Conn[S]) attemptConnect() {
	c.generation++
	gen := c.generation
	cfg := c.cfg
	go func() {
		res, err := dial(cfg)
		send := func() { c.onConnectResult(gen, res, err) }
		select {
		case c.events <- send:
		case <-c.ctx.Done():
		}
	}()
}

func (c *Conn[S]) onConnectResult(gen uint64, res connResult, err error) {
	if gen != c.generation {
		return
	}
	if err != nil {
		c.logger.WithLevel(c.cfg.Log.FailedConnection).Err(err).Str("conn", c.id).Str("addr", c.cfg.addr()).
			Msg("redipubsub: connect failed")
		if c.cfg.ExitOnDisconnect {
			c.fatalErr = err
			c.terminal = true
			return
		}
		c.armReconnectTimer(c.backoff.next(), gen)
		return
	}

	c.conn = res.conn
	c.reader = res.reader
	c.peer = res.peer
	c.backoff.reset()
	wasReconnect := c.everConnected
	c.everConnected = true
	c.state = stateConnected
	if wasReconnect && c.metrics != nil {
		c.metrics.reconnects.Inc()
	}
	c.logger.WithLevel(c.cfg.Log.Reconnection).Str("conn", c.id).Str("peer", c.peer).
		Msg("redipubsub: connected")

	// Drop any pending target that lost its last subscriber while
	// disconnected, then resubscribe to everything still pending.
	c.ledger.purgeEmptyPending()
	channels, patterns := splitTargets(c.ledger.pendingTargets())
	if len(channels) > 0 || len(patterns) > 0 {
		c.sendWire(buildSubscribeCmd(channels, patterns), gen)
	}
	if c.conn == nil {
		// The resubscribe write failed; onTransportError has already
		// closed the socket and scheduled the next step.
		return
	}
	c.startReader(gen)
	c.updateGauges()
}

func (c *Conn[S]) armReconnectTimer(delay time.Duration, gen uint64) {
	c.reconnectTmr = time.AfterFunc(delay, func() {
		send := func() { c.onReconnectTimer(gen) }
		select {
		case c.events <- send:
		case <-c.ctx.Done():
		}
	})
}

func (c *Conn[S]) onReconnectTimer(gen uint64) {
	if gen != c.generation {
		return
	}
	c.attemptConnect()
}

// startReader spawns the goroutine that owns the socket's read side
// for generation gen: it decodes one frame at a time and hands each
// one (or a terminal error) back to the event loop. It stops on its
// own after the first error — no explicit cancellation is needed
// beyond closing the socket, which unblocks any in-flight Read.
func (c *Conn[S]) startReader(gen uint64) {
	reader := c.reader
	go func() {
		for {
			frame, err := decodeFrame(reader)
			if err != nil {
				send := func() { c.onTransportError(gen, err) }
				select {
				case c.events <- send:
				case <-c.ctx.Done():
				}
				return
			}
			send := func() { c.onFrame(gen, frame) }
			select {
			case c.events <- send:
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// sendWire writes buf to the live socket, driving a transport error
// through the same path a failed read would if the write fails.
func (c *Conn[S]) sendWire(buf []byte, gen uint64) {
	if len(buf) == 0 || gen != c.generation || c.conn == nil {
		return
	}
	writeDeadline(c.conn, c.cfg)
	if _, err := c.conn.Write(buf); err != nil {
		c.onTransportError(gen, fmt.Errorf("%w: %v", errConnLost, err))
		return
	}
	if c.metrics != nil {
		c.metrics.wireCommandsSent.Inc()
	}
}

func (c *Conn[S]) onTransportError(gen uint64, err error) {
	if gen != c.generation || c.state != stateConnected {
		return
	}
	oldPeer := c.peer
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.reader = nil
	c.peer = ""
	c.logger.WithLevel(c.cfg.Log.Disconnection).Err(err).Str("conn", c.id).Str("peer", oldPeer).
		Msg("redipubsub: disconnected")

	if c.cfg.ExitOnDisconnect {
		c.fatalErr = err
		c.terminal = true
		return
	}

	c.ledger.onDisconnectReset()
	c.lastErr = err
	c.notifyAllDisconnected(err)
	c.state = stateDisconnected
	c.updateGauges()
	c.armReconnectTimer(c.backoff.next(), gen)
}

func (c *Conn[S]) onFrame(gen uint64, f pushFrame) {
	if gen != c.generation || c.state != stateConnected {
		return
	}
	switch f.kind {
	case frameSubscribe:
		c.onConfirm(Channel(f.channel), Subscribed)
	case framePSubscribe:
		c.onConfirm(Pattern(f.pattern), PSubscribed)
	case frameUnsubscribe:
		if c.ledger.onUnsubscribeConfirmed(Channel(f.channel)) {
			c.sendWire(buildSubscribeCmd([]string{f.channel}, nil), gen)
		}
	case framePUnsubscribe:
		if c.ledger.onUnsubscribeConfirmed(Pattern(f.pattern)) {
			c.sendWire(buildSubscribeCmd(nil, []string{f.pattern}), gen)
		}
	case frameMessage:
		c.fanOut(Channel(f.channel), Event{Kind: Message, Channel: f.channel, Payload: f.payload})
	case framePMessage:
		c.fanOut(Pattern(f.pattern), Event{Kind: PMessage, Pattern: f.pattern, Channel: f.channel, Payload: f.payload})
	}
	c.updateGauges()
}

func (c *Conn[S]) onConfirm(target Target, kind EventKind) {
	migrated := c.ledger.onSubscribeConfirmed(target)
	if len(migrated) == 0 {
		c.logger.Debug().Str("conn", c.id).Str("target", target.String()).
			Msg("redipubsub: stale subscribe confirmation")
		return
	}
	for _, s := range migrated {
		ref, ep, ok := c.registry.lookup(s)
		if !ok {
			continue
		}
		ev := Event{ConnID: c.id, Ref: ref, Kind: kind}
		if target.Kind == PatternKind {
			ev.Pattern = target.Name
		} else {
			ev.Channel = target.Name
		}
		ep.Deliver(ev)
	}
}

func (c *Conn[S]) fanOut(target Target, tmpl Event) {
	subs := c.ledger.confirmedSubscribers(target)
	if len(subs) == 0 {
		return
	}
	for s := range subs {
		ref, ep, ok := c.registry.lookup(s)
		if !ok {
			continue
		}
		ev := tmpl
		ev.ConnID = c.id
		ev.Ref = ref
		ep.Deliver(ev)
		if c.metrics != nil {
			c.metrics.messagesDelivered.Inc()
		}
	}
}

func (c *Conn[S]) doSubscribe(kind Kind, subscriber S, done <-chan struct{}, endpoint Endpoint, names []string, reply chan subscribeReply) {
	ref, isNew := c.registry.acquire(subscriber, endpoint)
	if isNew {
		c.watchSubscriber(subscriber, done)
	}

	targets := make([]Target, len(names))
	for i, n := range names {
		targets[i] = Target{Kind: kind, Name: n}
	}
	toWire, alreadyConfirmed := c.ledger.addInterest(targets, subscriber)

	// The reply always precedes any resulting Event.
	reply <- subscribeReply{ref: ref, err: nil}

	confirmedKind := Subscribed
	if kind == PatternKind {
		confirmedKind = PSubscribed
	}
	for _, t := range alreadyConfirmed {
		ev := Event{ConnID: c.id, Ref: ref, Kind: confirmedKind}
		if kind == PatternKind {
			ev.Pattern = t.Name
		} else {
			ev.Channel = t.Name
		}
		endpoint.Deliver(ev)
	}

	if c.state != stateConnected {
		endpoint.Deliver(Event{ConnID: c.id, Ref: ref, Kind: Disconnected, Err: c.lastErr})
		c.updateGauges()
		return
	}

	if len(toWire) > 0 {
		channels, patterns := splitTargets(toWire)
		c.sendWire(buildSubscribeCmd(channels, patterns), c.generation)
	}
	c.updateGauges()
}

func (c *Conn[S]) doUnsubscribe(kind Kind, subscriber S, names []string, reply chan error) {
	targets := make([]Target, len(names))
	for i, n := range names {
		targets[i] = Target{Kind: kind, Name: n}
	}
	toWire, affected := c.ledger.removeInterest(targets, subscriber)

	reply <- nil

	ref, endpoint, ok := c.registry.lookup(subscriber)
	if ok {
		unsubKind := Unsubscribed
		if kind == PatternKind {
			unsubKind = PUnsubscribed
		}
		for _, t := range affected {
			ev := Event{ConnID: c.id, Ref: ref, Kind: unsubKind}
			if kind == PatternKind {
				ev.Pattern = t.Name
			} else {
				ev.Channel = t.Name
			}
			endpoint.Deliver(ev)
		}
	}

	c.registry.releaseIfIdle(subscriber, c.ledger)

	if c.state == stateConnected && len(toWire) > 0 {
		channels, patterns := splitTargets(toWire)
		c.sendWire(buildUnsubscribeCmd(channels, patterns), c.generation)
	}
	c.updateGauges()
}

// watchSubscriber spawns a goroutine that waits for a subscriber's
// death notification and, once it fires, tells the event loop to drop
// its interests: one blocked goroutine per live subscriber, no
// polling.
func (c *Conn[S]) watchSubscriber(subscriber S, deathCh <-chan struct{}) {
	go func() {
		select {
		case <-deathCh:
		case <-c.ctx.Done():
			return
		}
		send := func() { c.onSubscriberDeath(subscriber) }
		select {
		case c.events <- send:
		case <-c.ctx.Done():
		}
	}()
}

func (c *Conn[S]) onSubscriberDeath(subscriber S) {
	channelOrphans, patternOrphans := c.ledger.dropSubscriber(subscriber)
	c.registry.forget(subscriber)
	if c.state == stateConnected && (len(channelOrphans) > 0 || len(patternOrphans) > 0) {
		c.sendWire(buildUnsubscribeCmd(namesOf(channelOrphans), namesOf(patternOrphans)), c.generation)
	}
	c.updateGauges()
}

func (c *Conn[S]) notifyAllDisconnected(reason error) {
	c.registry.forEach(func(_ S, ref SubscriberRef, endpoint Endpoint) {
		endpoint.Deliver(Event{ConnID: c.id, Ref: ref, Kind: Disconnected, Err: reason})
	})
}

func (c *Conn[S]) updateGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.confirmedTargets.Set(float64(len(c.ledger.confirmed)))
	c.metrics.pendingTargets.Set(float64(len(c.ledger.pending)))
}

func splitTargets(targets []Target) (channels, patterns []string) {
	for _, t := range targets {
		if t.Kind == PatternKind {
			patterns = append(patterns, t.Name)
		} else {
			channels = append(channels, t.Name)
		}
	}
	return channels, patterns
}

func namesOf(targets []Target) []string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	return names
}
