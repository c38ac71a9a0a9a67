package orders

const (
	TopicOrderPaid      = "order.paid"
	TopicOrderFinalized = "order.finalized"
	TopicNotifications  = "order.notifications"
)

// PartitionKey keeps every event of one order on the same partition.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
