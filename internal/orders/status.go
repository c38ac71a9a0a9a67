package orders

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusGenerating     Status = "generating"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusRefunded       Status = "refunded"
)

// generating -> paid is reserved for the reconciliation sweep re-arming a stuck order.
var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusPaid: true, StatusFailed: true},
	StatusPaid:           {StatusGenerating: true},
	StatusGenerating:     {StatusCompleted: true, StatusFailed: true, StatusPaid: true},
	StatusCompleted:      {},
	StatusFailed:         {StatusRefunded: true},
	StatusRefunded:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Final reports whether no transition leaves s. A failed order is terminal
// for the saga but not final, since it may still be refunded.
func (s Status) Final() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// Terminal reports whether the saga has finished with the order.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefunded
}
