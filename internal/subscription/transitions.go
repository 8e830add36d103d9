package subscription

// Transition is a state change the machine is allowed to make.
type Transition struct {
	From State
	To   State
}

var validTransitions = map[Transition]bool{
	{StateNone, StateTrialing}:                true, // signup completes
	{StateTrialing, StateActive}:              true, // trial converted
	{StateTrialing, StateIncomplete}:          true, // trial ended, charge declined
	{StateTrialing, StateIncompleteExpired}:   true, // trial ended, no payment method
	{StateTrialing, StateCanceled}:            true, // pending cancellation reached trial end
	{StateActive, StateActive}:                true, // renewal
	{StateActive, StatePastDue}:               true, // renewal declined
	{StateActive, StateCanceled}:              true, // pending cancellation reached period end
	{StatePastDue, StatePastDue}:              true, // retry declined
	{StatePastDue, StateActive}:               true, // retry or reactivation paid
	{StatePastDue, StateCanceled}:             true, // retries exhausted
	{StateCanceled, StateTrialing}:            true, // reactivated before period end
	{StateCanceled, StateActive}:              true, // reactivated
	{StateIncomplete, StateActive}:            true, // user retried payment
	{StateIncompleteExpired, StateActive}:     true, // user retried payment
	{StateUnpaid, StateActive}:                true, // user retried payment
	{StatePaused, StateActive}:                true, // resumed with payment
}

// CanTransition checks if moving from one state to another is allowed.
func CanTransition(from, to State) bool {
	return validTransitions[Transition{from, to}]
}
