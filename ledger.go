package redipubsub

// ledger is the subscription ledger: two maps from Target to the set
// of subscribers interested in it, one for targets Redis has
// confirmed and one for targets still awaiting confirmation.
//
// All operations are pure state transformations with no I/O; they are
// called only from the connection's single event-loop goroutine, so
// no internal locking is required.
type ledger[S comparable] struct {
	confirmed map[Target]map[S]struct{}
	pending   map[Target]map[S]struct{}
}

func newLedger[S comparable]() *ledger[S] {
	return &ledger[S]{
		confirmed: make(map[Target]map[S]struct{}),
		pending:   make(map[Target]map[S]struct{}),
	}
}

// addInterest records subscriber's interest in each of targets.
//
// toWire holds the targets that need a fresh wire SUBSCRIBE/PSUBSCRIBE
// because this is the first local interest in them. alreadyConfirmed
// holds the targets that were already confirmed, so the caller can
// notify subscriber synchronously without waiting on the wire.
func (l *ledger[S]) addInterest(targets []Target, subscriber S) (toWire, alreadyConfirmed []Target) {
	for _, t := range targets {
		if set, ok := l.confirmed[t]; ok {
			set[subscriber] = struct{}{}
			alreadyConfirmed = append(alreadyConfirmed, t)
			continue
		}
		if set, ok := l.pending[t]; ok {
			set[subscriber] = struct{}{}
			continue
		}
		l.pending[t] = map[S]struct{}{subscriber: {}}
		toWire = append(toWire, t)
	}
	return toWire, alreadyConfirmed
}

// removeInterest drops subscriber's interest in each of targets.
// affected holds every target subscriber actually had interest in (the
// caller notifies :unsubscribed/:punsubscribed for these); toWire is
// the subset that just became orphaned (empty subscriber set) and
// therefore needs a wire UNSUBSCRIBE/PUNSUBSCRIBE. Targets not
// present, or not subscribed by subscriber, are silently ignored as
// usage errors and appear in neither slice.
func (l *ledger[S]) removeInterest(targets []Target, subscriber S) (toWire, affected []Target) {
	for _, t := range targets {
		found, orphaned := l.dropFromSet(l.confirmed, t, subscriber)
		if !found {
			found, orphaned = l.dropFromSet(l.pending, t, subscriber)
		}
		if !found {
			continue
		}
		affected = append(affected, t)
		if orphaned {
			toWire = append(toWire, t)
		}
	}
	return toWire, affected
}

// dropFromSet removes subscriber from m[t], reporting found=true if it
// was present at all and orphaned=true if removing it emptied the set
// (in which case the entry is deleted from m).
func (l *ledger[S]) dropFromSet(m map[Target]map[S]struct{}, t Target, subscriber S) (found, orphaned bool) {
	set, ok := m[t]
	if !ok {
		return false, false
	}
	if _, ok := set[subscriber]; !ok {
		return false, false
	}
	delete(set, subscriber)
	if len(set) == 0 {
		delete(m, t)
		return true, true
	}
	return true, false
}

// dropSubscriber removes subscriber from every target in both maps.
// Orphaned targets are partitioned by kind so the caller can issue the
// matching wire unsubscriptions.
func (l *ledger[S]) dropSubscriber(subscriber S) (channelOrphans, patternOrphans []Target) {
	collect := func(m map[Target]map[S]struct{}) {
		for t, set := range m {
			if _, ok := set[subscriber]; !ok {
				continue
			}
			delete(set, subscriber)
			if len(set) != 0 {
				continue
			}
			delete(m, t)
			if t.Kind == PatternKind {
				patternOrphans = append(patternOrphans, t)
			} else {
				channelOrphans = append(channelOrphans, t)
			}
		}
	}
	collect(l.confirmed)
	collect(l.pending)
	return channelOrphans, patternOrphans
}

// onSubscribeConfirmed migrates any pending entry for target to
// confirmed, returning the subscribers that migrated so each can be
// notified. A confirmation for a target with no pending entry (a
// stale or out-of-order ack) is a no-op; the caller is expected to log
// it at debug level.
func (l *ledger[S]) onSubscribeConfirmed(target Target) (migrated []S) {
	set, ok := l.pending[target]
	if !ok {
		return nil
	}
	delete(l.pending, target)
	migrated = make([]S, 0, len(set))
	for s := range set {
		migrated = append(migrated, s)
	}
	l.confirmed[target] = set
	return migrated
}

// onUnsubscribeConfirmed handles a server-side UNSUBSCRIBE/PUNSUBSCRIBE
// ack. If confirmed still holds a non-empty set for target, a
// subscriber re-subscribed (or never left) while the unsubscribe was
// in flight: the set moves back to pending and resubscribe reports
// true so the caller re-issues the wire SUBSCRIBE. Otherwise this is a
// normal, uncontested unsubscribe confirmation and there is nothing
// left to do.
func (l *ledger[S]) onUnsubscribeConfirmed(target Target) (resubscribe bool) {
	set, ok := l.confirmed[target]
	if !ok || len(set) == 0 {
		return false
	}
	delete(l.confirmed, target)
	l.pending[target] = set
	return true
}

// onDisconnectReset moves every confirmed target back to pending:
// confirmed must be empty while disconnected.
func (l *ledger[S]) onDisconnectReset() {
	for t, set := range l.confirmed {
		if existing, ok := l.pending[t]; ok {
			// Invariant 1 rules this out in practice (a Target never
			// appears in both maps), but merge defensively rather than
			// clobber if it ever does.
			for s := range set {
				existing[s] = struct{}{}
			}
			continue
		}
		l.pending[t] = set
	}
	l.confirmed = make(map[Target]map[S]struct{})
}

// pendingTargets returns every Target currently in pending, i.e. the
// full interest set while disconnected, or the set to resubscribe to
// on reconnect.
func (l *ledger[S]) pendingTargets() []Target {
	targets := make([]Target, 0, len(l.pending))
	for t := range l.pending {
		targets = append(targets, t)
	}
	return targets
}

// purgeEmptyPending drops pending targets whose subscriber set is
// empty — unsubscribes that happened while disconnected. In this
// implementation empty sets are never actually stored
// (removeInterest/dropSubscriber delete the entry immediately), so
// this exists for defensive symmetry and is cheap to call
// unconditionally.
func (l *ledger[S]) purgeEmptyPending() {
	for t, set := range l.pending {
		if len(set) == 0 {
			delete(l.pending, t)
		}
	}
}

// confirmedSubscribers returns the live subscriber set for target, or
// nil if it has none (used on the hot path for message/pmessage
// fan-out).
func (l *ledger[S]) confirmedSubscribers(target Target) map[S]struct{} {
	return l.confirmed[target]
}
