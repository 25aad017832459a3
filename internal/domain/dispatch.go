package domain

const EventOrderStatusChanged = "order_status_changed"

// DispatchEvent is handed to the outbound email/SMS queue.
type DispatchEvent struct {
	Type         string      `json:"type"`
	OrderID      string      `json:"orderId"`
	Status       OrderStatus `json:"status"`
	RestaurantID string      `json:"restaurantId"`
	UserID       string      `json:"userId,omitempty"`
}

func NewOrderStatusEvent(o *OrderState) DispatchEvent {
	return DispatchEvent{
		Type:         EventOrderStatusChanged,
		OrderID:      o.OrderID,
		Status:       o.Status,
		RestaurantID: o.RestaurantID,
		UserID:       o.UserID,
	}
}

// Dispatcher forwards events without waiting for delivery.
type Dispatcher interface {
	Forward(event DispatchEvent)
}
