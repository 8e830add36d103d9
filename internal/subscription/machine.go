package subscription

import (
	"time"

	ierr "homepro/internal/errors"
)

// Machine drives a Subscription through its lifecycle. Every method mutates
// the subscription passed in and never performs I/O; charging is the caller's
// job, the machine only records the outcome.
type Machine struct {
	TrialPeriod    time.Duration
	Period         time.Duration
	RetryIntervals []time.Duration
}

func NewMachine(trialDays, periodDays int, retryIntervals []time.Duration) *Machine {
	return &Machine{
		TrialPeriod:    time.Duration(trialDays) * 24 * time.Hour,
		Period:         time.Duration(periodDays) * 24 * time.Hour,
		RetryIntervals: retryIntervals,
	}
}

// Start begins the trial for a freshly signed-up account.
func (m *Machine) Start(accountID string, now time.Time) (*Subscription, error) {
	sub := &Subscription{
		AccountID:  accountID,
		State:      StateNone,
		PriorState: StateNone,
	}
	if err := m.transition(sub, StateTrialing); err != nil {
		return nil, err
	}
	sub.TrialEndsAt = now.Add(m.TrialPeriod)
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = sub.TrialEndsAt
	return sub, nil
}

// Cancel schedules termination at the end of the current period. The state
// does not change. Cancelling twice is a no-op.
func (m *Machine) Cancel(sub *Subscription) error {
	if !sub.State.InGoodStanding() {
		return stateError("cancel", sub.State, "Only trialing or active subscriptions can be cancelled")
	}
	sub.CancelAtPeriodEnd = true
	return nil
}

// NeedsCharge reports whether reactivating sub at now requires collecting a
// fresh payment first.
func (m *Machine) NeedsCharge(sub *Subscription, now time.Time) (bool, error) {
	switch sub.State {
	case StateTrialing, StateActive:
		return false, nil
	case StateCanceled:
		return !now.Before(sub.CurrentPeriodEnd), nil
	case StatePastDue, StateUnpaid, StateIncomplete, StateIncompleteExpired, StatePaused:
		return true, nil
	default:
		return false, stateError("reactivate", sub.State, "There is no subscription to reactivate")
	}
}

// Reactivate undoes a pending or effective cancellation. charged must be true
// when NeedsCharge said so and the charge went through.
func (m *Machine) Reactivate(sub *Subscription, now time.Time, charged bool) error {
	needsCharge, err := m.NeedsCharge(sub, now)
	if err != nil {
		return err
	}

	if !needsCharge {
		if sub.State == StateCanceled {
			prior := sub.PriorState
			if !prior.InGoodStanding() {
				prior = StateActive
			}
			if err := m.transition(sub, prior); err != nil {
				return err
			}
			sub.PriorState = StateCanceled
			sub.CanceledAt = nil
		}
		sub.CancelAtPeriodEnd = false
		return nil
	}

	if !charged {
		return stateError("reactivate", sub.State, "A successful payment is required to reactivate this subscription")
	}
	return m.renew(sub, now, now)
}

// Due returns the billing event that has come due at now, if any.
func (m *Machine) Due(sub *Subscription, now time.Time) Event {
	switch sub.State {
	case StateTrialing:
		if !now.Before(sub.TrialEndsAt) {
			return EventTrialEnd
		}
	case StateActive:
		if !now.Before(sub.CurrentPeriodEnd) {
			return EventPeriodEnd
		}
	case StatePastDue:
		if sub.NextRetryAt != nil && !now.Before(*sub.NextRetryAt) {
			return EventRetry
		}
	}
	return EventNone
}

// ChargeRequired reports whether handling event needs a collection attempt.
// A pending cancellation simply lets the period run out.
func (m *Machine) ChargeRequired(sub *Subscription, event Event) bool {
	switch event {
	case EventTrialEnd, EventPeriodEnd:
		return !sub.CancelAtPeriodEnd
	case EventRetry:
		return true
	}
	return false
}

// Advance applies the result of a due billing event.
func (m *Machine) Advance(sub *Subscription, now time.Time, event Event, outcome Outcome) error {
	if event == EventNone {
		return nil
	}
	if m.Due(sub, now) != event {
		return stateError(string(event), sub.State, "Billing event is not due for this subscription")
	}

	if (event == EventTrialEnd || event == EventPeriodEnd) && sub.CancelAtPeriodEnd && outcome != OutcomePaid {
		return m.cancelNow(sub, now)
	}

	switch event {
	case EventTrialEnd:
		switch outcome {
		case OutcomePaid:
			return m.collected(sub, now, now)
		case OutcomeDeclined:
			return m.transition(sub, StateIncomplete)
		case OutcomeNoPaymentMethod:
			return m.transition(sub, StateIncompleteExpired)
		}
	case EventPeriodEnd, EventRetry:
		switch outcome {
		case OutcomePaid:
			return m.collected(sub, now, sub.CurrentPeriodEnd)
		case OutcomeDeclined, OutcomeNoPaymentMethod:
			return m.recordFailure(sub, now)
		}
	}
	return stateError(string(event), sub.State, "Billing outcome is not valid for this event")
}

func (m *Machine) renew(sub *Subscription, now, periodStart time.Time) error {
	if err := m.transition(sub, StateActive); err != nil {
		return err
	}
	end := periodStart.Add(m.Period)
	if !end.After(now) {
		periodStart, end = now, now.Add(m.Period)
	}
	sub.CurrentPeriodStart = periodStart
	sub.CurrentPeriodEnd = end
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	sub.FailedAttempts = 0
	sub.NextRetryAt = nil
	return nil
}

// collected renews after a successful collection. A cancellation requested
// while the charge was in flight takes effect at the end of the paid period.
func (m *Machine) collected(sub *Subscription, now, periodStart time.Time) error {
	pending := sub.CancelAtPeriodEnd
	if err := m.renew(sub, now, periodStart); err != nil {
		return err
	}
	sub.CancelAtPeriodEnd = pending
	return nil
}

func (m *Machine) recordFailure(sub *Subscription, now time.Time) error {
	sub.FailedAttempts++
	retry := sub.FailedAttempts - 1
	if retry >= len(m.RetryIntervals) {
		return m.cancelNow(sub, now)
	}
	if err := m.transition(sub, StatePastDue); err != nil {
		return err
	}
	next := now.Add(m.RetryIntervals[retry])
	sub.NextRetryAt = &next
	return nil
}

func (m *Machine) cancelNow(sub *Subscription, now time.Time) error {
	from := sub.State
	if err := m.transition(sub, StateCanceled); err != nil {
		return err
	}
	sub.PriorState = from
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = &now
	sub.NextRetryAt = nil
	return nil
}

func (m *Machine) transition(sub *Subscription, to State) error {
	if !CanTransition(sub.State, to) {
		return stateError(string(to), sub.State, "This subscription cannot move to the requested state")
	}
	sub.State = to
	return nil
}

func stateError(action string, from State, hint string) error {
	return ierr.NewError("invalid subscription transition").
		WithHint(hint).
		WithReportableDetails(map[string]any{
			"action": action,
			"state":  from,
		}).
		Mark(ierr.ErrStateTransition)
}
