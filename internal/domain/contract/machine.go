package contract

import (
	"fmt"

	dealroom_errors "dealroom-chat/pkg/errors"
)

// successors is the negotiation table. A freshly proposed offer behaves
// exactly like one with no recorded transition.
var successors = map[Status][]Status{
	StatusNone:               {StatusAcceptedByCreator, StatusWithdrawnByCompany},
	StatusProposedByCompany:  {StatusAcceptedByCreator, StatusWithdrawnByCompany},
	StatusAcceptedByCreator:  {StatusCancelledByCreator, StatusFinishedByCreator},
	StatusFinishedByCreator:  {StatusApprovedByCompany},
	StatusWithdrawnByCompany: nil,
	StatusCancelledByCreator: nil,
	StatusApprovedByCompany:  nil,
}

// Valid reports whether s is one of the recorded kinds.
func (s Status) Valid() bool {
	switch s {
	case StatusProposedByCompany, StatusAcceptedByCreator, StatusWithdrawnByCompany,
		StatusCancelledByCreator, StatusFinishedByCreator, StatusApprovedByCompany:
		return true
	}
	return false
}

// Terminal reports whether no transition may follow s.
func (s Status) Terminal() bool {
	next, ok := successors[s]
	return ok && len(next) == 0
}

// Side returns the party allowed to record s.
func (s Status) Side() Side {
	switch s {
	case StatusProposedByCompany, StatusWithdrawnByCompany, StatusApprovedByCompany:
		return SideCompany
	default:
		return SideCreator
	}
}

// Adjudicate accepts or rejects next as the successor of current. It never
// mutates anything; callers insert the transition themselves when it returns nil.
func Adjudicate(current, next Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", dealroom_errors.ErrIllegalContractTransition, next)
	}
	allowed, ok := successors[current]
	if !ok {
		return fmt.Errorf("%w: unknown current status %q", dealroom_errors.ErrIllegalContractTransition, current)
	}
	for _, s := range allowed {
		if s == next {
			return nil
		}
	}
	if current == StatusNone {
		return fmt.Errorf("%w: %s cannot open an offer", dealroom_errors.ErrIllegalContractTransition, next)
	}
	return fmt.Errorf("%w: %s cannot follow %s", dealroom_errors.ErrIllegalContractTransition, next, current)
}

// AdjudicateBy additionally checks that side is the party entitled to record next.
func AdjudicateBy(current, next Status, side Side) error {
	if err := Adjudicate(current, next); err != nil {
		return err
	}
	if next.Side() != side {
		return fmt.Errorf("%w: %s must be recorded by the %s side", dealroom_errors.ErrIllegalContractTransition, next, next.Side())
	}
	return nil
}

// ValidateProposal checks the opening of a new offer.
func ValidateProposal(payoutCents int64, side Side) error {
	if side != SideCompany {
		return fmt.Errorf("%w: only the company side can propose an offer", dealroom_errors.ErrIllegalContractTransition)
	}
	if payoutCents <= 0 {
		return fmt.Errorf("%w: payout must be positive", dealroom_errors.ErrInvalidContractProposition)
	}
	return nil
}
