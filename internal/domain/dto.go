package domain

import (
	"fmt"
	"strings"
)

// Request payloads are validated in full before any state-machine
// transition; the first invalid field rejects the request.

type HoldEscrowRequest struct {
	OrderID      string  `json:"order_id"`
	BuyerID      string  `json:"buyer_id"`
	SellerID     string  `json:"seller_id"`
	DriverID     *string `json:"driver_id,omitempty"`
	TotalAmount  int64   `json:"total_amount"`
	SellerAmount int64   `json:"seller_amount"`
	DriverAmount int64   `json:"driver_amount"`
	PlatformFee  int64   `json:"platform_fee"`
	PaymentRef   string  `json:"payment_reference"`
}

func (r HoldEscrowRequest) Validate() error {
	switch {
	case r.OrderID == "":
		return fmt.Errorf("%w: order_id is required", ErrValidation)
	case r.BuyerID == "":
		return fmt.Errorf("%w: buyer_id is required", ErrValidation)
	case r.SellerID == "":
		return fmt.Errorf("%w: seller_id is required", ErrValidation)
	case r.TotalAmount <= 0:
		return fmt.Errorf("%w: total_amount must be positive", ErrInvalidAmount)
	case r.SellerAmount < 0 || r.DriverAmount < 0 || r.PlatformFee < 0:
		return fmt.Errorf("%w: split parts must not be negative", ErrInvalidAmount)
	case r.SellerAmount+r.DriverAmount+r.PlatformFee != r.TotalAmount:
		return fmt.Errorf("%w: %d+%d+%d != %d", ErrInvalidSplit,
			r.SellerAmount, r.DriverAmount, r.PlatformFee, r.TotalAmount)
	}
	return nil
}

type ReleaseEscrowRequest struct {
	Target ReleaseTarget `json:"target"`
	Reason string        `json:"reason"`
}

func (r ReleaseEscrowRequest) Validate() error {
	if r.Target != TargetSeller && r.Target != TargetDriver {
		return fmt.Errorf("%w: target must be SELLER or DRIVER", ErrValidation)
	}
	return nil
}

type DisputeRequest struct {
	Reason string `json:"reason"`
}

func (r DisputeRequest) Validate() error {
	if strings.TrimSpace(r.Reason) == "" {
		return fmt.Errorf("%w: dispute reason is required", ErrValidation)
	}
	return nil
}

type ResolveDisputeRequest struct {
	Action        ResolutionAction `json:"action"`
	Notes         string           `json:"notes"`
	PartialAmount int64            `json:"partial_amount,omitempty"`
}

func (r ResolveDisputeRequest) Validate() error {
	switch r.Action {
	case ResolveRefund, ResolveRelease, ResolvePartial:
	default:
		return fmt.Errorf("%w: action must be refund, release or partial", ErrValidation)
	}
	// every resolution carries a written justification for the audit trail
	if strings.TrimSpace(r.Notes) == "" {
		return fmt.Errorf("%w: resolution notes are required", ErrValidation)
	}
	return nil
}

type EscalateRequest struct {
	Priority string `json:"priority"`
	Notes    string `json:"notes"`
}

func (r EscalateRequest) Validate() error {
	switch r.Priority {
	case "high", "critical":
	default:
		return fmt.Errorf("%w: priority must be high or critical", ErrValidation)
	}
	return nil
}

type CreateDeliveryRequest struct {
	OrderID      string    `json:"order_id"`
	CustomerID   string    `json:"customer_id"`
	PickupAddr   string    `json:"pickup_address"`
	DeliveryAddr string    `json:"delivery_address"`
	PickupCoords *GeoPoint `json:"pickup_coords,omitempty"`
	DropCoords   *GeoPoint `json:"delivery_coords,omitempty"`
	DeliveryFee  int64     `json:"delivery_fee"`
	Urgency      Urgency   `json:"urgency"`
}

func (r CreateDeliveryRequest) Validate() error {
	switch {
	case r.OrderID == "":
		return fmt.Errorf("%w: order_id is required", ErrValidation)
	case r.CustomerID == "":
		return fmt.Errorf("%w: customer_id is required", ErrValidation)
	case r.PickupAddr == "":
		return fmt.Errorf("%w: pickup_address is required", ErrValidation)
	case r.DeliveryAddr == "":
		return fmt.Errorf("%w: delivery_address is required", ErrValidation)
	case r.DeliveryFee <= 0:
		return fmt.Errorf("%w: delivery_fee must be positive", ErrInvalidAmount)
	}
	switch r.Urgency {
	case "", UrgencyNormal, UrgencyUrgent, UrgencyExpress:
	default:
		return fmt.Errorf("%w: unknown urgency %q", ErrValidation, r.Urgency)
	}
	return nil
}

type UpdateDeliveryStatusRequest struct {
	Status   DeliveryStatus `json:"status"`
	Location *GeoPoint      `json:"location,omitempty"`
	ProofURL string         `json:"proof_url,omitempty"`
}

func (r UpdateDeliveryStatusRequest) Validate() error {
	switch r.Status {
	case DeliveryPickedUp, DeliveryInTransit, DeliveryDelivered:
		return nil
	default:
		return fmt.Errorf("%w: drivers may only set PICKED_UP, IN_TRANSIT or DELIVERED", ErrValidation)
	}
}

type DeliveryMessageRequest struct {
	Body string `json:"body"`
}

func (r DeliveryMessageRequest) Validate() error {
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("%w: message body is required", ErrValidation)
	}
	return nil
}

type EmergencyRequest struct {
	Details string `json:"details"`
}

func (r EmergencyRequest) Validate() error {
	if strings.TrimSpace(r.Details) == "" {
		return fmt.Errorf("%w: emergency details are required", ErrValidation)
	}
	return nil
}

type VerifyPaymentRequest struct {
	Reference string  `json:"reference"`
	OrderID   string  `json:"order_id"`
	BuyerID   string  `json:"buyer_id"`
	SellerID  string  `json:"seller_id"`
	DriverID  *string `json:"driver_id,omitempty"`
	DriverFee int64   `json:"driver_fee"`
}

func (r VerifyPaymentRequest) Validate() error {
	switch {
	case r.Reference == "":
		return fmt.Errorf("%w: payment reference is required", ErrValidation)
	case r.OrderID == "":
		return fmt.Errorf("%w: order_id is required", ErrValidation)
	case r.BuyerID == "":
		return fmt.Errorf("%w: buyer_id is required", ErrValidation)
	case r.SellerID == "":
		return fmt.Errorf("%w: seller_id is required", ErrValidation)
	case r.DriverFee < 0:
		return fmt.Errorf("%w: driver_fee must not be negative", ErrInvalidAmount)
	}
	return nil
}
