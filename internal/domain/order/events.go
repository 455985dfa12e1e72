package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/payment"
)

// Event types published through the outbox.
const (
	EventCreated       = "order.created"
	EventStatusChanged = "order.status_changed"
	EventCancelled     = "order.cancelled"
)

// CreatedPayload is the body of an EventCreated event.
type CreatedPayload struct {
	OrderID       uuid.UUID       `json:"orderId"`
	BuyerID       uuid.UUID       `json:"buyerId"`
	ShopID        uuid.UUID       `json:"shopId"`
	FinalAmount   decimal.Decimal `json:"finalAmount"`
	PaymentMethod payment.Method  `json:"paymentMethod"`
	Items         []EventItem     `json:"items"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// EventItem is an order line inside an event payload.
type EventItem struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// StatusPayload is the body of EventStatusChanged and EventCancelled events.
type StatusPayload struct {
	OrderID     uuid.UUID `json:"orderId"`
	Status      Status    `json:"status"`
	Description string    `json:"description"`
	ActorID     uuid.UUID `json:"actorId"`
	At          time.Time `json:"at"`
}

func createdEvent(o *Order) Event {
	items := make([]EventItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = EventItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return Event{
		Type: EventCreated,
		Key:  o.ID.String(),
		Payload: CreatedPayload{
			OrderID:       o.ID,
			BuyerID:       o.BuyerID,
			ShopID:        o.ShopID,
			FinalAmount:   o.FinalAmount,
			PaymentMethod: o.PaymentMethod,
			Items:         items,
			CreatedAt:     o.CreatedAt,
		},
	}
}

func statusEvent(typ string, orderID, actorID uuid.UUID, e HistoryEntry) Event {
	return Event{
		Type: typ,
		Key:  orderID.String(),
		Payload: StatusPayload{
			OrderID:     orderID,
			Status:      e.Status,
			Description: e.Description,
			ActorID:     actorID,
			At:          e.CreatedAt,
		},
	}
}
