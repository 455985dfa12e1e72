package order

// Status is an order lifecycle state.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusPaid       Status = "Paid"
	StatusProcessing Status = "Processing"
	StatusShipping   Status = "Shipping"
	StatusDelivered  Status = "Delivered"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"

	// StatusUnknown is reported for orders without any history row. It is
	// never stored.
	StatusUnknown Status = "Unknown"
)

// ParseStatus converts s into a stored Status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusPaid, StatusProcessing, StatusShipping,
		StatusDelivered, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

// Final reports whether no further transition is allowed from s.
func (s Status) Final() bool {
	switch s {
	case StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether an order in status s may be cancelled.
func (s Status) Cancellable() bool {
	switch s {
	case StatusPending, StatusPaid, StatusProcessing:
		return true
	}
	return false
}

// transitionSources lists, per target, the statuses a seller may move an
// order from. Cancellation is handled separately by Service.Cancel.
var transitionSources = map[Status][]Status{
	StatusProcessing: {StatusPending, StatusPaid},
	StatusShipping:   {StatusPending, StatusPaid, StatusProcessing},
	StatusDelivered:  {StatusShipping},
}

// CanTransition reports whether a seller may move an order from current to target.
func CanTransition(current, target Status) bool {
	for _, s := range transitionSources[target] {
		if s == current {
			return true
		}
	}
	return false
}

var descriptions = map[Status]string{
	StatusPending:    "Order has been placed",
	StatusPaid:       "Payment has been received",
	StatusProcessing: "Seller is preparing the order",
	StatusShipping:   "Order has been handed over to the carrier",
	StatusDelivered:  "Order has been delivered",
	StatusCompleted:  "Order has been completed",
}

func describe(s Status) string {
	return descriptions[s]
}

func describeCancel(bySeller bool) string {
	if bySeller {
		return "Order was cancelled by the seller"
	}
	return "Order was cancelled by the buyer"
}
