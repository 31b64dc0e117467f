package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHoldEscrowRequestValidate(t *testing.T) {
	valid := HoldEscrowRequest{
		OrderID: "o1", BuyerID: "b1", SellerID: "s1",
		TotalAmount: 10000, SellerAmount: 8750, DriverAmount: 1000, PlatformFee: 250,
		PaymentRef: "ref",
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.SellerAmount = 8751
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSplit)

	bad = valid
	bad.TotalAmount = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidAmount)

	bad = valid
	bad.BuyerID = ""
	assert.ErrorIs(t, bad.Validate(), ErrValidation)
}

func TestResolveDisputeRequestValidate(t *testing.T) {
	assert.ErrorIs(t, ResolveDisputeRequest{Action: "split"}.Validate(), ErrValidation)
	assert.ErrorIs(t, ResolveDisputeRequest{Action: ResolveRefund, Notes: "   "}.Validate(), ErrValidation)
	assert.NoError(t, ResolveDisputeRequest{Action: ResolveRefund, Notes: "buyer provided proof"}.Validate())
}

func TestUpdateDeliveryStatusRequestValidate(t *testing.T) {
	assert.NoError(t, UpdateDeliveryStatusRequest{Status: DeliveryPickedUp}.Validate())
	assert.NoError(t, UpdateDeliveryStatusRequest{Status: DeliveryDelivered}.Validate())
	assert.ErrorIs(t, UpdateDeliveryStatusRequest{Status: DeliveryAccepted}.Validate(), ErrValidation)
	assert.ErrorIs(t, UpdateDeliveryStatusRequest{Status: DeliveryCancelled}.Validate(), ErrValidation)
}

func TestCreateDeliveryRequestValidate(t *testing.T) {
	valid := CreateDeliveryRequest{
		OrderID: "o1", CustomerID: "c1",
		PickupAddr: "12 Allen Ave", DeliveryAddr: "3 Marina Rd",
		DeliveryFee: 1500,
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.DeliveryFee = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidAmount)

	bad = valid
	bad.Urgency = "yesterday"
	assert.ErrorIs(t, bad.Validate(), ErrValidation)
}
