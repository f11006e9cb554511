package redipubsub

import "testing"

func TestLedgerAddInterestFirstSubscriberGoesToWire(t *testing.T) {
	l := newLedger[string]()
	toWire, confirmed := l.addInterest([]Target{Channel("a")}, "sub1")
	if len(toWire) != 1 || toWire[0] != Channel("a") {
		t.Errorf("toWire = %v, want [Channel(a)]", toWire)
	}
	if len(confirmed) != 0 {
		t.Errorf("alreadyConfirmed = %v, want none", confirmed)
	}
}

func TestLedgerAddInterestSecondSubscriberJoinsPending(t *testing.T) {
	l := newLedger[string]()
	l.addInterest([]Target{Channel("a")}, "sub1")
	toWire, confirmed := l.addInterest([]Target{Channel("a")}, "sub2")
	if len(toWire) != 0 {
		t.Errorf("toWire = %v, want none (already pending)", toWire)
	}
	if len(confirmed) != 0 {
		t.Errorf("alreadyConfirmed = %v, want none (not yet confirmed)", confirmed)
	}
}

func TestLedgerAddInterestAgainstConfirmedTarget(t *testing.T) {
	l := newLedger[string]()
	l.addInterest([]Target{Channel("a")}, "sub1")
	l.onSubscribeConfirmed(Channel("a"))

	toWire, confirmed := l.addInterest([]Target{Channel("a")}, "sub2")
	if len(toWire) != 0 {
		t.Errorf("toWire = %v, want none", toWire)
	}
	if len(confirmed) != 1 || confirmed[0] != Channel("a") {
		t.Errorf("alreadyConfirmed = %v, want [Channel(a)]", confirmed)
	}
	if _, ok := l.confirmed[Channel("a")]["sub2"]; !ok {
		t.Error("sub2 not recorded in confirmed set")
	}
}

func TestLedgerOnSubscribeConfirmedMigratesAllPendingSubscribers(t *testing.T) {
	l := newLedger[string]()
	l.addInterest([]Target{Channel("a")}, "sub1")
	l.addInterest([]Target{Channel("a")}, "sub2")

	migrated := l.onSubscribeConfirmed(Channel("a"))
	if len(migrated) != 2 {
		t.Fatalf("migrated = %v, want 2 subscribers", migrated)
	}
	if _, ok := l.pending[Channel("a")]; ok {
		t.Error("target still in pending after confirmation")
	}
	if len(l.confirmed[Channel("a")]) != 2 {
		t.Error("confirmed set missing a migrated subscriber")
	}
}

func TestLedgerOnSubscribeConfirmedStaleAckIsNoop(t *testing.T) {
	l := newLedger[string]()
	migrated := l.onSubscribeConfirmed(Channel("never-requested"))
	if migrated != nil {
		t.Errorf("migrated = %v, want nil for a stale ack", migrated)
	}
}

func TestLedgerRemoveInterestOrphansGoToWire(t *testing.T) {
	l := newLedger[string]()
	l.addInterest([]Target{Channel("a")}, "sub1")
	l.onSubscribeConfirmed(Channel("a"))

	toWire, affected := l.removeInterest([]Target{Channel("a")}, "sub1")
	if len(toWire) != 1 || toWire[0] != Channel("a") {
		t.Errorf("toWire = %v, want [Channel(a)] (last subscriber left)", toWire)
	}
	if len(affected) != 1 {
		t.Errorf("affected = %v, want [Channel(a)]", affected)
	}
}

func TestLedgerRemoveInterestSharedTargetStaysOnWire(t *testing.T) {
	l := newLedger[string]()
	l.addInterest([]Target{Channel("a")}, "sub1")
	l.addInterest([]Target{Channel("a")}, "sub2")
	l.onSubscribeConfirmed(Channel("a"))

	toWire, affected := l.removeInterest([]Target{Channel("a")}, "sub1")
	if len(toWire) != 0 {
		t.Errorf("toWire = %v, want none (sub2 still interested)", toWire)
	}
	if len(affected) != 1 {
		t.Errorf("affected = %v, want [Channel(a)]", affected)
	}
	if _, ok := l.confirmed[Channel("a")]["sub2"]; !ok {
		t.Error("sub2 dropped from confirmed set unexpectedly")
	}
}

// TestLedgerRemoveInterestUnknownTargetIsSilentlyIgnored covers the
// usage-error rule: unsubscribing from a target never subscribed to
// is a silent no-op, not an error.
func TestLedgerRemoveInterestUnknownTargetIsSilentlyIgnored(t *testing.T) {
	l := newLedger[string]()
	toWire, affected := l.removeInterest([]Target{Channel("never-subscribed")}, "sub1")
	if len(toWire) != 0 || len(affected) != 0 {
		t.Errorf("toWire=%v affected=%v, want both empty", toWire, affected)
	}
}

// TestLedgerResubscribeRaceDuringUnsubscribe covers a subscriber
// re-subscribing to a target while its UNSUBSCRIBE is still in flight
// to the server. The orphaned target left both maps, so the new
// interest lands in pending and addInterest already hands it back for
// a fresh wire SUBSCRIBE; the late UNSUBSCRIBE ack then finds nothing
// confirmed, asks for no second SUBSCRIBE, and leaves the new interest
// pending.
func TestLedgerResubscribeRaceDuringUnsubscribe(t *testing.T) {
	l := newLedger[string]()
	l.addInterest([]Target{Channel("a")}, "sub1")
	l.onSubscribeConfirmed(Channel("a"))

	// sub1 unsubscribes: target orphaned, UNSUBSCRIBE goes on the wire.
	toWire, _ := l.removeInterest([]Target{Channel("a")}, "sub1")
	if len(toWire) != 1 {
		t.Fatalf("toWire = %v, want orphaned Channel(a)", toWire)
	}

	// Before the server's UNSUBSCRIBE ack arrives, sub2 subscribes again.
	l.addInterest([]Target{Channel("a")}, "sub2")
	if _, ok := l.confirmed[Channel("a")]; ok {
		t.Error("target should not be confirmed while UNSUBSCRIBE is in flight")
	}

	// The server's UNSUBSCRIBE ack now arrives.
	resub := l.onUnsubscribeConfirmed(Channel("a"))
	if resub {
		t.Fatal("onUnsubscribeConfirmed = true, want false (sub2's SUBSCRIBE is already pending)")
	}
	if _, ok := l.pending[Channel("a")]["sub2"]; !ok {
		t.Error("sub2 lost from pending after the race resolved")
	}
}

func TestLedgerOnUnsubscribeConfirmedNormalCaseIsNoop(t *testing.T) {
	l := newLedger[string]()
	resub := l.onUnsubscribeConfirmed(Channel("a"))
	if resub {
		t.Error("onUnsubscribeConfirmed = true for an uncontested unsubscribe")
	}
}

func TestLedgerDropSubscriberPartitionsOrphansByKind(t *testing.T) {
	l := newLedger[string]()
	l.addInterest([]Target{Channel("a"), Pattern("b*")}, "sub1")
	l.onSubscribeConfirmed(Channel("a"))
	l.onSubscribeConfirmed(Pattern("b*"))

	channels, patterns := l.dropSubscriber("sub1")
	if len(channels) != 1 || channels[0] != Channel("a") {
		t.Errorf("channelOrphans = %v, want [Channel(a)]", channels)
	}
	if len(patterns) != 1 || patterns[0] != Pattern("b*") {
		t.Errorf("patternOrphans = %v, want [Pattern(b*)]", patterns)
	}
}

// TestLedgerOnDisconnectResetSatisfiesInvariant4 checks that confirmed
// is empty and every prior confirmed target reappears in pending,
// preserving its subscriber set.
func TestLedgerOnDisconnectResetSatisfiesInvariant4(t *testing.T) {
	l := newLedger[string]()
	l.addInterest([]Target{Channel("a")}, "sub1")
	l.onSubscribeConfirmed(Channel("a"))

	l.onDisconnectReset()
	if len(l.confirmed) != 0 {
		t.Errorf("confirmed = %v, want empty after disconnect", l.confirmed)
	}
	if _, ok := l.pending[Channel("a")]["sub1"]; !ok {
		t.Error("sub1 lost from pending after disconnect reset")
	}
}

func TestLedgerPurgeEmptyPending(t *testing.T) {
	l := newLedger[string]()
	l.pending[Channel("ghost")] = map[string]struct{}{}
	l.purgeEmptyPending()
	if _, ok := l.pending[Channel("ghost")]; ok {
		t.Error("empty pending entry survived purge")
	}
}
