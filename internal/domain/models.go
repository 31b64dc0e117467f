package domain

import "time"

type EscrowStatus string

const (
	EscrowHeld             EscrowStatus = "HELD"
	EscrowDisputed         EscrowStatus = "DISPUTED"
	EscrowReleasedToSeller EscrowStatus = "RELEASED_TO_SELLER"
	EscrowReleasedToDriver EscrowStatus = "RELEASED_TO_DRIVER"
	EscrowRefunded         EscrowStatus = "REFUNDED"
)

type ReleaseTarget string

const (
	TargetSeller ReleaseTarget = "SELLER"
	TargetDriver ReleaseTarget = "DRIVER"
)

type ResolutionAction string

const (
	ResolveRefund  ResolutionAction = "refund"
	ResolveRelease ResolutionAction = "release"
	ResolvePartial ResolutionAction = "partial"
)

// Amounts are int64 minor units (kobo). Splits must be exact:
// SellerAmount + DriverAmount + PlatformFee == TotalAmount.
type EscrowTransaction struct {
	ID              string       `json:"id"`
	OrderID         string       `json:"order_id"`
	BuyerID         string       `json:"buyer_id"`
	SellerID        string       `json:"seller_id"`
	DriverID        *string      `json:"driver_id,omitempty"`
	TotalAmount     int64        `json:"total_amount"`
	SellerAmount    int64        `json:"seller_amount"`
	DriverAmount    int64        `json:"driver_amount"`
	PlatformFee     int64        `json:"platform_fee"`
	RefundedAmount  int64        `json:"refunded_amount"`
	Status          EscrowStatus `json:"status"`
	PaymentRef      string       `json:"payment_reference"`
	DisputeReason   *string      `json:"dispute_reason,omitempty"`
	DisputedBy      *string      `json:"disputed_by,omitempty"`
	Priority        *string      `json:"priority,omitempty"`
	ResolutionNotes *string      `json:"resolution_notes,omitempty"`
	ResolvedBy      *string      `json:"resolved_by,omitempty"`
	AutoReleaseAt   *time.Time   `json:"auto_release_at,omitempty"`
	ReleasedAt      *time.Time   `json:"released_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// SplitValid reports whether the three-way split adds up to the total.
func (e EscrowTransaction) SplitValid() bool {
	return e.SellerAmount >= 0 && e.DriverAmount >= 0 && e.PlatformFee >= 0 &&
		e.SellerAmount+e.DriverAmount+e.PlatformFee == e.TotalAmount
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryAccepted  DeliveryStatus = "ACCEPTED"
	DeliveryPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryCancelled DeliveryStatus = "CANCELLED"
)

// validNext holds the forward edges of the delivery state machine.
// DELIVERED may follow either PICKED_UP or IN_TRANSIT; CANCELLED is only
// reachable from PENDING and ACCEPTED.
var validNext = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPending:   {DeliveryAccepted, DeliveryCancelled},
	DeliveryAccepted:  {DeliveryPickedUp, DeliveryCancelled},
	DeliveryPickedUp:  {DeliveryInTransit, DeliveryDelivered},
	DeliveryInTransit: {DeliveryDelivered},
}

func CanTransition(from, to DeliveryStatus) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryCancelled
}

type Urgency string

const (
	UrgencyNormal  Urgency = "normal"
	UrgencyUrgent  Urgency = "urgent"
	UrgencyExpress Urgency = "express"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type DeliveryRequest struct {
	ID           string         `json:"id"`
	OrderID      string         `json:"order_id"`
	MerchantID   string         `json:"merchant_id"`
	CustomerID   string         `json:"customer_id"`
	DriverID     *string        `json:"driver_id,omitempty"`
	PickupAddr   string         `json:"pickup_address"`
	DeliveryAddr string         `json:"delivery_address"`
	PickupCoords *GeoPoint      `json:"pickup_coords,omitempty"`
	DropCoords   *GeoPoint      `json:"delivery_coords,omitempty"`
	DeliveryFee  int64          `json:"delivery_fee"`
	Urgency      Urgency        `json:"urgency"`
	Status       DeliveryStatus `json:"status"`
	ExpiresAt    time.Time      `json:"expires_at"`
	AcceptedAt   *time.Time     `json:"accepted_at,omitempty"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type DriverProfile struct {
	UserID          string     `json:"user_id"`
	IsOnline        bool       `json:"is_online"`
	IsAvailable     bool       `json:"is_available"`
	Tier            string     `json:"tier"` // standard | premium
	Rating          float64    `json:"rating"`
	TotalDeliveries int        `json:"total_deliveries"`
	TotalEarnings   int64      `json:"total_earnings"`
	Location        *GeoPoint  `json:"location,omitempty"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
}

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderInDelivery OrderStatus = "in_delivery"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

type Order struct {
	ID           string      `json:"id"`
	CustomerID   string      `json:"customer_id"`
	MerchantID   string      `json:"merchant_id"`
	DriverID     *string     `json:"driver_id,omitempty"`
	TotalAmount  int64       `json:"total_amount"`
	Status       OrderStatus `json:"status"`
	PickupAddr   string      `json:"pickup_address"`
	DeliveryAddr string      `json:"delivery_address"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TrackingEvent is append-only; history for an order or delivery is
// reconstructed by replaying its events in order.
type TrackingEvent struct {
	ID         string         `json:"id"`
	DeliveryID string         `json:"delivery_id"`
	OrderID    string         `json:"order_id"`
	EventType  string         `json:"event_type"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type DeliveryMessage struct {
	ID         string    `json:"id"`
	DeliveryID string    `json:"delivery_id"`
	SenderID   string    `json:"sender_id"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}
