package domain

// Push-channel message types.
const (
	MsgInitialOrders        = "initial_orders"
	MsgOrderUpdate          = "order_update"
	MsgOrderSubscribed      = "order_subscribed"
	MsgOrderUnsubscribed    = "order_unsubscribed"
	MsgPendingNotifications = "pending_notifications"
	MsgNotification         = "notification"
	MsgMarkedRead           = "marked_read"
	MsgPong                 = "pong"
	MsgError                = "error"

	MsgSubscribeOrder   = "subscribe_order"
	MsgUnsubscribeOrder = "unsubscribe_order"
	MsgMarkRead         = "mark_read"
	MsgMarkAllRead      = "mark_all_read"
	MsgPing             = "ping"
)

type InitialOrdersMessage struct {
	Type   string       `json:"type"`
	Orders []OrderState `json:"orders"`
}

type OrderUpdateMessage struct {
	Type  string     `json:"type"`
	Order OrderState `json:"order"`
}

type SubscriptionMessage struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId"`
}

type PendingNotificationsMessage struct {
	Type          string               `json:"type"`
	Notifications []NotificationRecord `json:"notifications"`
}

type NotificationMessage struct {
	Type         string             `json:"type"`
	Notification NotificationRecord `json:"notification"`
}

// MarkedReadMessage acknowledges mark_read (NotificationID set) and
// mark_all_read (Count set).
type MarkedReadMessage struct {
	Type           string `json:"type"`
	NotificationID string `json:"notificationId,omitempty"`
	Count          int    `json:"count"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ClientMessage is the union of everything clients send on either channel.
type ClientMessage struct {
	Type           string `json:"type"`
	OrderID        string `json:"orderId,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
}
