package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// OrderStatus is an open string type. The constants document the values the
// ordering frontend emits; any other value is accepted as-is.
type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusReady          OrderStatus = "ready"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

// OrderState is the live view of one order inside a tracking partition.
// Revision increases by one on every applied update in the authoritative
// partition and orders mirrored copies.
type OrderState struct {
	OrderID      string
	Status       OrderStatus
	RestaurantID string
	UserID       string
	UpdatedAt    time.Time
	Revision     uint64
	Extra        map[string]any
}

var orderStateKeys = []string{"orderId", "status", "restaurantId", "userId", "updatedAt", "revision"}

// Clone returns a copy whose Extra map can be mutated independently.
func (o *OrderState) Clone() *OrderState {
	c := *o
	c.Extra = maps.Clone(o.Extra)
	return &c
}

// MarshalJSON flattens Extra into the top-level object. Known fields always
// win over Extra keys of the same name.
func (o OrderState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o.Extra)+len(orderStateKeys))
	for k, v := range o.Extra {
		out[k] = v
	}
	for _, k := range orderStateKeys {
		delete(out, k)
	}

	out["orderId"] = o.OrderID
	out["status"] = o.Status
	out["restaurantId"] = o.RestaurantID
	if o.UserID != "" {
		out["userId"] = o.UserID
	}
	out["updatedAt"] = o.UpdatedAt
	out["revision"] = o.Revision
	return json.Marshal(out)
}

func (o *OrderState) UnmarshalJSON(data []byte) error {
	fields, extra, err := splitFields(data, orderStateKeys)
	if err != nil {
		return err
	}

	var state OrderState
	if err := decodeFields(fields, map[string]any{
		"orderId":      &state.OrderID,
		"status":       &state.Status,
		"restaurantId": &state.RestaurantID,
		"userId":       &state.UserID,
		"updatedAt":    &state.UpdatedAt,
		"revision":     &state.Revision,
	}); err != nil {
		return err
	}
	state.Extra = extra
	*o = state
	return nil
}

// StatusUpdate is the command that moves an order to a new status. Any
// fields beyond the known ones are carried in Extra and merged into the
// order's payload.
type StatusUpdate struct {
	OrderID      string         `json:"orderId" validate:"required"`
	Status       OrderStatus    `json:"status" validate:"required"`
	RestaurantID string         `json:"restaurantId" validate:"required"`
	UserID       string         `json:"userId,omitempty"`
	Extra        map[string]any `json:"-"`
}

var statusUpdateKeys = []string{"orderId", "status", "restaurantId", "userId"}

func (u *StatusUpdate) UnmarshalJSON(data []byte) error {
	fields, extra, err := splitFields(data, statusUpdateKeys)
	if err != nil {
		return err
	}

	var cmd StatusUpdate
	if err := decodeFields(fields, map[string]any{
		"orderId":      &cmd.OrderID,
		"status":       &cmd.Status,
		"restaurantId": &cmd.RestaurantID,
		"userId":       &cmd.UserID,
	}); err != nil {
		return err
	}
	cmd.Extra = extra
	*u = cmd
	return nil
}

// Validate checks the fields every tracking partition needs. The restaurant
// id is only required by the control plane, which routes on it.
func (u StatusUpdate) Validate() error {
	if u.OrderID == "" {
		return fmt.Errorf("%w: orderId is required", ErrInvalidCommand)
	}
	if u.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidCommand)
	}
	return nil
}

func splitFields(data []byte, known []string) (map[string]json.RawMessage, map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	fields := make(map[string]json.RawMessage, len(known))
	for _, k := range known {
		if v, ok := raw[k]; ok {
			fields[k] = v
			delete(raw, k)
		}
	}

	var extra map[string]any
	if len(raw) > 0 {
		extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var decoded any
			if err := json.Unmarshal(v, &decoded); err != nil {
				return nil, nil, fmt.Errorf("field %q: %w", k, err)
			}
			extra[k] = decoded
		}
	}
	return fields, extra, nil
}

func decodeFields(fields map[string]json.RawMessage, targets map[string]any) error {
	for k, v := range fields {
		if string(v) == "null" {
			continue
		}
		if err := json.Unmarshal(v, targets[k]); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}
