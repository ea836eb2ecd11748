// Package lifecycle holds the booking state machine: which actor may apply which
// action, and which status and ledger effect each legal transition produces.
package lifecycle

import (
	"gearshare/internal/domain"
	"gearshare/internal/models"
)

type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

// ParseAction rejects anything outside the four known actions.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionApprove, ActionReject, ActionCancel, ActionComplete:
		return a, nil
	}
	return "", domain.Validation("unknown action %q", s)
}

// Actor identifies who drives a transition. System is set for scheduled jobs.
type Actor struct {
	UserID string
	System bool
}

func User(id string) Actor {
	return Actor{UserID: id}
}

// System is the actor used by the completion sweep.
var System = Actor{System: true}

func (a Actor) String() string {
	if a.System {
		return "system"
	}
	return a.UserID
}

// Effect is the change a transition makes to the availability ledger.
type Effect int

const (
	EffectNone Effect = iota
	EffectBlock
	EffectUnblock
)

func (e Effect) String() string {
	switch e {
	case EffectBlock:
		return "block"
	case EffectUnblock:
		return "unblock"
	default:
		return "none"
	}
}

type Transition struct {
	From   models.BookingStatus
	Action Action
	To     models.BookingStatus
	Effect Effect
}

type edge struct {
	from   models.BookingStatus
	action Action
}

var transitions = map[edge]Transition{
	{models.BookingPending, ActionApprove}:   {models.BookingPending, ActionApprove, models.BookingApproved, EffectBlock},
	{models.BookingPending, ActionReject}:    {models.BookingPending, ActionReject, models.BookingRejected, EffectNone},
	{models.BookingPending, ActionCancel}:    {models.BookingPending, ActionCancel, models.BookingCancelled, EffectNone},
	{models.BookingApproved, ActionCancel}:   {models.BookingApproved, ActionCancel, models.BookingCancelled, EffectUnblock},
	{models.BookingApproved, ActionComplete}: {models.BookingApproved, ActionComplete, models.BookingCompleted, EffectNone},
}

// Authorize reports whether actor may attempt action on b at all.
// It runs before Next so an outsider never learns the booking's state.
func Authorize(b *models.Booking, actor Actor, action Action) error {
	isOwner := !actor.System && actor.UserID != "" && actor.UserID == b.OwnerID
	isRenter := !actor.System && actor.UserID != "" && actor.UserID == b.RenterID

	switch action {
	case ActionApprove, ActionReject:
		if !isOwner {
			return domain.Unauthorized("only the listing owner can %s this booking", action)
		}
	case ActionCancel:
		if !isOwner && !isRenter {
			return domain.Unauthorized("only the renter or the owner can cancel this booking")
		}
		if b.Status == models.BookingPending && !isRenter {
			return domain.Unauthorized("only the renter can withdraw a pending request")
		}
	case ActionComplete:
		if !actor.System && !isOwner {
			return domain.Unauthorized("only the listing owner can complete this booking")
		}
	default:
		return domain.Validation("unknown action %q", action)
	}
	return nil
}

// Next returns the transition action triggers from b's current status.
func Next(b *models.Booking, action Action) (Transition, error) {
	t, ok := transitions[edge{b.Status, action}]
	if !ok {
		return Transition{}, domain.InvalidState("cannot %s a booking that is %s", action, b.Status)
	}
	return t, nil
}

// Plan authorizes actor and then resolves the transition.
func Plan(b *models.Booking, actor Actor, action Action) (Transition, error) {
	if err := Authorize(b, actor, action); err != nil {
		return Transition{}, err
	}
	return Next(b, action)
}

// Transitions lists every legal transition.
func Transitions() []Transition {
	out := make([]Transition, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, t)
	}
	return out
}
