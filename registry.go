package redipubsub

// registry tracks live subscribers, remembers where to deliver their
// Events, and issues the per-subscriber SubscriberRef handed back to
// callers.
//
// Like the ledger, registry is mutated only by the connection's single
// event-loop goroutine; no internal locking is required.
type registry[S comparable] struct {
	nextRef uint64
	entries map[S]registryEntry[S]
}

type registryEntry[S comparable] struct {
	ref      SubscriberRef
	endpoint Endpoint
}

func newRegistry[S comparable]() *registry[S] {
	return &registry[S]{entries: make(map[S]registryEntry[S])}
}

// acquire is idempotent: a subscriber already registered gets back its
// existing ref (endpoint is ignored — a subscriber's endpoint is fixed
// at its first subscribe call). isNew reports whether this call
// allocated a fresh ref, so the caller knows whether to install a new
// death watch.
func (r *registry[S]) acquire(subscriber S, endpoint Endpoint) (ref SubscriberRef, isNew bool) {
	if e, ok := r.entries[subscriber]; ok {
		return e.ref, false
	}
	r.nextRef++
	ref = SubscriberRef(r.nextRef)
	r.entries[subscriber] = registryEntry[S]{ref: ref, endpoint: endpoint}
	return ref, true
}

// ref reports the SubscriberRef of an already-registered subscriber.
func (r *registry[S]) ref(subscriber S) (SubscriberRef, bool) {
	e, ok := r.entries[subscriber]
	return e.ref, ok
}

// lookup reports both the ref and the delivery endpoint of an
// already-registered subscriber.
func (r *registry[S]) lookup(subscriber S) (SubscriberRef, Endpoint, bool) {
	e, ok := r.entries[subscriber]
	return e.ref, e.endpoint, ok
}

// forget unconditionally removes subscriber's registry entry,
// regardless of any remaining ledger interest. Used when a subscriber
// has died (its done channel fired): the ledger side is cleared by
// dropSubscriber in the same step.
func (r *registry[S]) forget(subscriber S) {
	delete(r.entries, subscriber)
}

// releaseIfIdle removes subscriber's registry entry if it no longer
// appears in any ledger subscriber set. Used after an explicit
// Unsubscribe/PUnsubscribe, where the subscriber itself is still alive
// and may resubscribe later.
func (r *registry[S]) releaseIfIdle(subscriber S, l *ledger[S]) {
	if hasInterest(l, subscriber) {
		return
	}
	delete(r.entries, subscriber)
}

// forEach visits every currently registered subscriber. Used to fan
// out a connection-wide event (Disconnected) to everyone.
func (r *registry[S]) forEach(fn func(subscriber S, ref SubscriberRef, endpoint Endpoint)) {
	for s, e := range r.entries {
		fn(s, e.ref, e.endpoint)
	}
}

func hasInterest[S comparable](l *ledger[S], subscriber S) bool {
	for _, set := range l.confirmed {
		if _, ok := set[subscriber]; ok {
			return true
		}
	}
	for _, set := range l.pending {
		if _, ok := set[subscriber]; ok {
			return true
		}
	}
	return false
}
