package subscription

import (
	"time"

	ierr "homepro/internal/errors"

	"github.com/samber/lo"
)

type State string

const (
	StateNone              State = "none"
	StateTrialing          State = "trialing"
	StateActive            State = "active"
	StatePastDue           State = "past_due"
	StateUnpaid            State = "unpaid"
	StateCanceled          State = "canceled"
	StateIncomplete        State = "incomplete"
	StateIncompleteExpired State = "incomplete_expired"
	StatePaused            State = "paused"
)

var allStates = []State{
	StateNone,
	StateTrialing,
	StateActive,
	StatePastDue,
	StateUnpaid,
	StateCanceled,
	StateIncomplete,
	StateIncompleteExpired,
	StatePaused,
}

func (s State) String() string {
	return string(s)
}

func (s State) Validate() error {
	if !lo.Contains(allStates, s) {
		return ierr.NewError("invalid subscription state").
			WithHint("Invalid subscription state").
			WithReportableDetails(map[string]any{
				"state":          s,
				"allowed_states": allStates,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// InGoodStanding reports whether the subscription currently grants service.
func (s State) InGoodStanding() bool {
	return s == StateTrialing || s == StateActive
}

// Subscription is the billing lifecycle of one professional account.
type Subscription struct {
	AccountID          string     `db:"account_id" json:"-"`
	State              State      `db:"state" json:"state"`
	PriorState         State      `db:"prior_state" json:"-"`
	TrialEndsAt        time.Time  `db:"trial_ends_at" json:"trialEndsAt"`
	CurrentPeriodStart time.Time  `db:"current_period_start" json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time  `db:"current_period_end" json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool       `db:"cancel_at_period_end" json:"cancelAtPeriodEnd"`
	CanceledAt         *time.Time `db:"canceled_at" json:"canceledAt,omitempty"`
	FailedAttempts     int        `db:"failed_attempts" json:"failedAttempts,omitempty"`
	NextRetryAt        *time.Time `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	// PeriodChargeKey is the idempotency key of the charge that paid for the
	// current period, empty when nothing was collected for it.
	PeriodChargeKey    string     `db:"period_charge_key" json:"-"`
	UpdatedAt          time.Time  `db:"updated_at" json:"-"`
}

// Clone returns a deep copy so callers can mutate a candidate without touching
// the state they read.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.CanceledAt != nil {
		t := *s.CanceledAt
		c.CanceledAt = &t
	}
	if s.NextRetryAt != nil {
		t := *s.NextRetryAt
		c.NextRetryAt = &t
	}
	return &c
}

// Event is a time-driven billing event that is due for a subscription.
type Event string

const (
	EventNone      Event = ""
	EventTrialEnd  Event = "trial_end"
	EventPeriodEnd Event = "period_end"
	EventRetry     Event = "retry"
)

// Outcome is what happened when the billing cycle tried to collect.
type Outcome string

const (
	OutcomeNotCharged      Outcome = "not_charged"
	OutcomePaid            Outcome = "paid"
	OutcomeDeclined        Outcome = "declined"
	OutcomeNoPaymentMethod Outcome = "no_payment_method"
)
