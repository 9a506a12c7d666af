package rete

import "github.com/pkg/errors"

// Sentinel errors, matched with errors.Is by callers (spec §7.1).
var (
	// ErrUnknownFact is returned by RemoveFact/UpdateFact for a
	// FactID never added, or already removed.
	ErrUnknownFact = errors.New("rete: unknown fact")

	// ErrUnknownProduction is returned by RemoveProduction for a
	// ProductionID never added, or already removed.
	ErrUnknownProduction = errors.New("rete: unknown production")

	// ErrReentrantFire is returned when Fire, AddFact, RemoveFact,
	// UpdateFact, AddProduction, or RemoveProduction is called from a
	// second goroutine while the engine is already inside Fire's
	// non-reentrant section (spec §5, "Non-reentrancy").
	ErrReentrantFire = errors.New("rete: engine is not reentrant")

	// ErrNoMatch is returned by a driver's own match-picking loop when
	// the conflict set is empty; the core no longer exposes a "pick the
	// oldest and fire it" primitive (spec §1 excludes the convenience
	// run(n) loop from the core).
	ErrNoMatch = errors.New("rete: no match to fire")

	// ErrUnboundVariable is returned by AddProduction when a TEST or
	// BIND references a variable no earlier positive condition binds
	// (spec §4.1, §7.1).
	ErrUnboundVariable = errors.New("rete: unbound variable")

	// ErrStaleMatch is returned by Fire when the given Match is no
	// longer a live conflict-set entry (spec §6, Fire's "match no
	// longer valid" error case).
	ErrStaleMatch = errors.New("rete: match is no longer live")
)

// TestPanicError wraps a recovered panic from a TEST or BIND
// predicate. It is only ever surfaced when the engine is constructed
// with StrictMode (spec §7.1); otherwise a panicking predicate is
// treated as if it had returned false and is only logged, not
// recorded as a test error and not raised to the caller.
type TestPanicError struct {
	Name    string
	Recovered interface{}
}

func (e *TestPanicError) Error() string {
	return errors.Errorf("rete: TEST/BIND %q panicked: %v", e.Name, e.Recovered).Error()
}
