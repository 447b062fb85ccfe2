package domain

import (
	"github.com/trialstock/trialstock-backend/pkg/errors"
)

// Status is the lifecycle state of a stock item.
type Status string

const (
	StatusAvailable         Status = "AVAILABLE"
	StatusQuarantine        Status = "QUARANTINE"
	StatusReserved          Status = "RESERVED"
	StatusExpired           Status = "EXPIRED"
	StatusDestroyed         Status = "DESTROYED"
	StatusReturnedToSponsor Status = "RETURNED_TO_SPONSOR"
)

// StatusEvent is something that happens to a stock item and may move it to a
// new status.
type StatusEvent string

const (
	// EventReturnToStock re-adds returned units to dispensable stock.
	EventReturnToStock StatusEvent = "RETURN_TO_STOCK"
	// EventQuarantine places the item in quarantine (manual or via return).
	EventQuarantine StatusEvent = "QUARANTINE"
	// EventRelease releases a quarantined item back to stock.
	EventRelease StatusEvent = "RELEASE"
	// EventSponsorReturn hands the item back to the sponsor.
	EventSponsorReturn StatusEvent = "SPONSOR_RETURN"
	// EventDestroyedToZero fires when a destruction empties the item.
	EventDestroyedToZero StatusEvent = "DESTROYED_TO_ZERO"
	// EventExpire is raised by the expiry sweep.
	EventExpire StatusEvent = "EXPIRE"
)

// transitions is the explicit status machine: current status x event -> new
// status. Events absent for a status are not permitted from it. DESTROYED and
// RETURNED_TO_SPONSOR have no outgoing transitions.
var transitions = map[Status]map[StatusEvent]Status{
	StatusAvailable: {
		EventReturnToStock:   StatusAvailable,
		EventQuarantine:      StatusQuarantine,
		EventSponsorReturn:   StatusReturnedToSponsor,
		EventDestroyedToZero: StatusDestroyed,
		EventExpire:          StatusExpired,
	},
	StatusQuarantine: {
		EventReturnToStock:   StatusAvailable,
		EventQuarantine:      StatusQuarantine,
		EventRelease:         StatusAvailable,
		EventSponsorReturn:   StatusReturnedToSponsor,
		EventDestroyedToZero: StatusDestroyed,
	},
	StatusReserved: {
		EventReturnToStock:   StatusAvailable,
		EventQuarantine:      StatusQuarantine,
		EventSponsorReturn:   StatusReturnedToSponsor,
		EventDestroyedToZero: StatusDestroyed,
		EventExpire:          StatusExpired,
	},
	StatusExpired: {
		EventReturnToStock:   StatusAvailable,
		EventQuarantine:      StatusQuarantine,
		EventSponsorReturn:   StatusReturnedToSponsor,
		EventDestroyedToZero: StatusDestroyed,
	},
}

// Apply transitions the status with the given event. Returns InvalidState if
// the event is not permitted from the current status.
func (s Status) Apply(event StatusEvent) (Status, error) {
	if next, ok := transitions[s][event]; ok {
		return next, nil
	}
	return s, errors.InvalidState(string(event), string(s))
}

// CanApply reports whether the event is permitted from the current status.
func (s Status) CanApply(event StatusEvent) bool {
	_, ok := transitions[s][event]
	return ok
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Dispensable reports whether units may be dispensed from this status.
// EXPIRED is deliberately excluded: expired lots can still be destroyed but
// must never reach a patient.
func (s Status) Dispensable() bool {
	return s == StatusAvailable
}

// Valid reports whether the value is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusQuarantine, StatusReserved,
		StatusExpired, StatusDestroyed, StatusReturnedToSponsor:
		return true
	}
	return false
}
