package domain

import "time"

// TimelineEvent - запись истории статусов заказа.
type TimelineEvent struct {
	OrderID       string
	FromStatus    OrderStatus
	ToStatus      OrderStatus
	ChangedBy     string
	ChangedByRole ActorRole
	Reason        string
	Occurred      time.Time
}
