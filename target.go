package redipubsub

import "fmt"

// Kind discriminates a Target between an exact channel match and a
// glob pattern match.
type Kind byte

const (
	// ChannelKind identifies an exact-match SUBSCRIBE target.
	ChannelKind Kind = iota
	// PatternKind identifies a glob-match PSUBSCRIBE target.
	PatternKind
)

func (k Kind) String() string {
	if k == PatternKind {
		return "pattern"
	}
	return "channel"
}

// Target is a subscription subject: either an exact channel name or a
// glob pattern. Names are opaque byte strings; Target is comparable
// and safe to use as a map key.
type Target struct {
	Kind Kind
	Name string
}

// Channel builds an exact-match Target.
func Channel(name string) Target { return Target{Kind: ChannelKind, Name: name} }

// Pattern builds a glob-match Target.
func Pattern(glob string) Target { return Target{Kind: PatternKind, Name: glob} }

func (t Target) String() string {
	return fmt.Sprintf("%s(%s)", t.Kind, t.Name)
}

// SubscriberRef is an opaque, stable token issued on a subscriber's
// first subscribe call and reused for every subsequent operation from
// the same subscriber. It is attached to every Event so the receiving
// subscriber can demultiplex across connections and targets.
type SubscriberRef uint64

// EventKind identifies which of an Event's fields are set.
type EventKind byte

const (
	// Subscribed carries {channel}.
	Subscribed EventKind = iota
	// PSubscribed carries {pattern}.
	PSubscribed
	// Unsubscribed carries {channel}.
	Unsubscribed
	// PUnsubscribed carries {pattern}.
	PUnsubscribed
	// Message carries {channel, payload}.
	Message
	// PMessage carries {pattern, channel, payload}.
	PMessage
	// Disconnected carries {error} or {reason}.
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Subscribed:
		return "subscribed"
	case PSubscribed:
		return "psubscribed"
	case Unsubscribed:
		return "unsubscribed"
	case PUnsubscribed:
		return "punsubscribed"
	case Message:
		return "message"
	case PMessage:
		return "pmessage"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is delivered to a subscriber's endpoint. ConnID identifies the
// Conn that produced it (stable across reconnects); Ref is the
// subscriber's own SubscriberRef, present so a subscriber listening
// across multiple connections can demultiplex.
type Event struct {
	ConnID  string
	Ref     SubscriberRef
	Kind    EventKind
	Channel string
	Pattern string
	Payload []byte
	Err     error
}

// Endpoint receives Events for one subscriber. Deliver must not block
// indefinitely: the connection's single event loop calls it inline
// between processing other events, so a slow or blocked Deliver stalls
// every other subscriber sharing the connection. Implementations
// backed by a channel should therefore either buffer generously or
// hand off to a consumer goroutine immediately.
type Endpoint interface {
	Deliver(Event)
}

// EndpointFunc adapts a plain function to an Endpoint.
type EndpointFunc func(Event)

// Deliver calls f.
func (f EndpointFunc) Deliver(e Event) { f(e) }

// ChanEndpoint delivers events onto a buffered channel. Sends are
// non-blocking: a full channel drops the event rather than stalling
// the connection's event loop. Delivery is at-most-once: once a
// subscriber stops draining its channel, nothing guarantees it will
// see every event even within a single live connection.
type ChanEndpoint chan Event

// Deliver implements Endpoint.
func (c ChanEndpoint) Deliver(e Event) {
	select {
	case c <- e:
	default:
	}
}
