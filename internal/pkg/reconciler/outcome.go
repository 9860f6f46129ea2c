package reconciler

// Outcome is what the checkout widget reported for an attempt. It is one of
// Success, Failure or WindowClosed.
type Outcome interface {
	isOutcome()
}

// Success means the gateway accepted the charge. It is not yet settled; the
// attempt stays pending until verification confirms it.
type Success struct {
	TransactionID string
	Reference     string
}

// Failure means the widget reported a non-successful charge.
type Failure struct {
	Reason string
}

// WindowClosed means the user dismissed the widget. It may race a late
// Success for the same attempt.
type WindowClosed struct{}

func (Success) isOutcome()      {}
func (Failure) isOutcome()      {}
func (WindowClosed) isOutcome() {}
