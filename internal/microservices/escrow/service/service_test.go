package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swiftdrop/internal/audit"
	"swiftdrop/internal/common/logger"
	"swiftdrop/internal/config"
	"swiftdrop/internal/domain"
	"swiftdrop/internal/gateway"
	"swiftdrop/internal/microservices/escrow/repository"
	"swiftdrop/internal/realtime"
)

// fakeRepo keeps escrows in memory and enforces the same status guards as
// the SQL repository, including the settle-before-commit ordering.
type fakeRepo struct {
	escrows map[string]domain.EscrowTransaction
	seq     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{escrows: map[string]domain.EscrowTransaction{}}
}

func (f *fakeRepo) CreateHoldTx(_ context.Context, esc domain.EscrowTransaction, _ string) (domain.EscrowTransaction, error) {
	f.seq++
	esc.ID = fmt.Sprintf("esc-%d", f.seq)
	esc.Status = domain.EscrowHeld
	f.escrows[esc.ID] = esc
	return esc, nil
}

func (f *fakeRepo) ReleaseTx(ctx context.Context, id string, target domain.ReleaseTarget, _, _ string, settle repository.SettleFunc) (domain.EscrowTransaction, error) {
	esc, ok := f.escrows[id]
	if !ok {
		return domain.EscrowTransaction{}, domain.ErrNotFound
	}
	if esc.Status != domain.EscrowHeld {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: escrow is %s", domain.ErrInvalidState, esc.Status)
	}
	if err := settle(ctx, esc); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if target == domain.TargetDriver {
		esc.Status = domain.EscrowReleasedToDriver
	} else {
		esc.Status = domain.EscrowReleasedToSeller
	}
	f.escrows[id] = esc
	return esc, nil
}

func (f *fakeRepo) DisputeTx(_ context.Context, id, raisedBy, reason string) (domain.EscrowTransaction, error) {
	esc, ok := f.escrows[id]
	if !ok {
		return domain.EscrowTransaction{}, domain.ErrNotFound
	}
	if esc.Status != domain.EscrowHeld {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: escrow is %s", domain.ErrInvalidState, esc.Status)
	}
	esc.Status = domain.EscrowDisputed
	esc.DisputeReason = &reason
	esc.DisputedBy = &raisedBy
	f.escrows[id] = esc
	return esc, nil
}

func (f *fakeRepo) ResolveTx(ctx context.Context, id string, action domain.ResolutionAction, notes string, partialAmount int64, actor string, settle repository.SettleFunc) (domain.EscrowTransaction, error) {
	esc, ok := f.escrows[id]
	if !ok {
		return domain.EscrowTransaction{}, domain.ErrNotFound
	}
	if esc.Status != domain.EscrowDisputed {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: escrow is %s", domain.ErrInvalidState, esc.Status)
	}
	if err := settle(ctx, esc); err != nil {
		return domain.EscrowTransaction{}, err
	}
	esc.ResolutionNotes = &notes
	esc.ResolvedBy = &actor
	switch action {
	case domain.ResolveRefund:
		esc.Status = domain.EscrowRefunded
		esc.RefundedAmount = esc.TotalAmount
	case domain.ResolveRelease:
		esc.Status = domain.EscrowReleasedToSeller
	case domain.ResolvePartial:
		esc.Status = domain.EscrowRefunded
		esc.RefundedAmount = partialAmount
	}
	f.escrows[id] = esc
	return esc, nil
}

func (f *fakeRepo) EscalateTx(_ context.Context, id, priority, _, _ string) (domain.EscrowTransaction, error) {
	esc, ok := f.escrows[id]
	if !ok {
		return domain.EscrowTransaction{}, domain.ErrNotFound
	}
	esc.Priority = &priority
	f.escrows[id] = esc
	return esc, nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (domain.EscrowTransaction, error) {
	esc, ok := f.escrows[id]
	if !ok {
		return domain.EscrowTransaction{}, domain.ErrNotFound
	}
	return esc, nil
}

func (f *fakeRepo) List(_ context.Context, status string, _, _ int) ([]domain.EscrowTransaction, error) {
	var out []domain.EscrowTransaction
	for _, esc := range f.escrows {
		if status == "" || string(esc.Status) == status {
			out = append(out, esc)
		}
	}
	return out, nil
}

func (f *fakeRepo) Timeline(context.Context, string, int, int) ([]audit.Entry, error) {
	return nil, nil
}

type transferCall struct {
	amount int64
	payee  string
}

type refundCall struct {
	reference string
	amount    int64
}

type fakeGateway struct {
	verifyResult gateway.VerifyResult
	verifyErr    error
	transferErr  error
	refundErr    error
	transfers    []transferCall
	refunds      []refundCall
}

func (g *fakeGateway) Charge(context.Context, int64, string) (string, error) {
	return "charge-ref", nil
}

func (g *fakeGateway) Verify(context.Context, string) (gateway.VerifyResult, error) {
	return g.verifyResult, g.verifyErr
}

func (g *fakeGateway) Transfer(_ context.Context, amount int64, payee, _ string) (string, error) {
	if g.transferErr != nil {
		return "", g.transferErr
	}
	g.transfers = append(g.transfers, transferCall{amount: amount, payee: payee})
	return "transfer-code", nil
}

func (g *fakeGateway) Refund(_ context.Context, reference string, amount int64) (string, error) {
	if g.refundErr != nil {
		return "", g.refundErr
	}
	g.refunds = append(g.refunds, refundCall{reference: reference, amount: amount})
	return "refund-id", nil
}

func newTestService(gw gateway.Client) (EscrowServiceInterface, *fakeRepo) {
	repo := newFakeRepo()
	svc := New(repo, gw, realtime.NopPublisher{}, config.EscrowConfig{PlatformFeeBps: 250}, logger.New("test"))
	return svc, repo
}

func holdReq() domain.HoldEscrowRequest {
	driver := "driver-1"
	return domain.HoldEscrowRequest{
		OrderID: "order-1", BuyerID: "buyer-1", SellerID: "seller-1", DriverID: &driver,
		TotalAmount: 10000, SellerAmount: 8750, DriverAmount: 1000, PlatformFee: 250,
		PaymentRef: "pay-ref-1",
	}
}

func TestSplit(t *testing.T) {
	seller, driver, fee, err := Split(10000, 1000, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(8750), seller)
	assert.Equal(t, int64(1000), driver)
	assert.Equal(t, int64(250), fee)
	assert.Equal(t, int64(10000), seller+driver+fee)

	// fee is floored, seller takes the remainder
	seller, driver, fee, err = Split(999, 100, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(24), fee)
	assert.Equal(t, int64(999), seller+driver+fee)

	_, _, _, err = Split(0, 0, 250)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, _, _, err = Split(1000, 1500, 250)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, _, _, err = Split(1000, 990, 250)
	assert.ErrorIs(t, err, domain.ErrInvalidSplit)
}

func TestHoldRejectsBadSplit(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})
	req := holdReq()
	req.PlatformFee = 300

	_, err := svc.Hold(context.Background(), req, "buyer-1")
	assert.ErrorIs(t, err, domain.ErrInvalidSplit)
}

func TestVerifyAndHold(t *testing.T) {
	gw := &fakeGateway{verifyResult: gateway.VerifyResult{
		Reference: "pay-ref-1", Status: "success", Amount: 10000,
	}}
	svc, _ := newTestService(gw)

	held, err := svc.VerifyAndHold(context.Background(), domain.VerifyPaymentRequest{
		Reference: "pay-ref-1", OrderID: "order-1", BuyerID: "buyer-1", SellerID: "seller-1",
		DriverFee: 1000,
	}, "buyer-1")
	require.NoError(t, err)

	assert.Equal(t, domain.EscrowHeld, held.Status)
	assert.Equal(t, int64(10000), held.TotalAmount)
	assert.Equal(t, int64(250), held.PlatformFee)
	assert.Equal(t, int64(1000), held.DriverAmount)
	assert.True(t, held.SplitValid())
}

func TestVerifyAndHoldRejectsFailedPayment(t *testing.T) {
	gw := &fakeGateway{verifyResult: gateway.VerifyResult{Reference: "r", Status: "abandoned"}}
	svc, repo := newTestService(gw)

	_, err := svc.VerifyAndHold(context.Background(), domain.VerifyPaymentRequest{
		Reference: "r", OrderID: "o", BuyerID: "b", SellerID: "s",
	}, "b")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, repo.escrows)
}

func TestVerifyAndHoldGatewayError(t *testing.T) {
	gw := &fakeGateway{verifyErr: errors.New("connection reset")}
	svc, _ := newTestService(gw)

	_, err := svc.VerifyAndHold(context.Background(), domain.VerifyPaymentRequest{
		Reference: "r", OrderID: "o", BuyerID: "b", SellerID: "s",
	}, "b")
	assert.ErrorIs(t, err, domain.ErrGatewayFailure)
}

func TestReleaseToSeller(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(gw)
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)

	released, err := svc.Release(context.Background(), held.ID, domain.ReleaseEscrowRequest{
		Target: domain.TargetSeller, Reason: "delivery confirmed",
	}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, domain.EscrowReleasedToSeller, released.Status)
	require.Len(t, gw.transfers, 1)
	assert.Equal(t, transferCall{amount: 8750, payee: "seller-1"}, gw.transfers[0])
}

func TestReleaseToDriver(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(gw)
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)

	released, err := svc.Release(context.Background(), held.ID, domain.ReleaseEscrowRequest{
		Target: domain.TargetDriver,
	}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, domain.EscrowReleasedToDriver, released.Status)
	require.Len(t, gw.transfers, 1)
	assert.Equal(t, transferCall{amount: 1000, payee: "driver-1"}, gw.transfers[0])
}

func TestReleaseToDriverWithoutDriver(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})
	req := holdReq()
	req.DriverID = nil
	req.SellerAmount = 9750
	req.DriverAmount = 0
	held, err := svc.Hold(context.Background(), req, "buyer-1")
	require.NoError(t, err)

	_, err = svc.Release(context.Background(), held.ID, domain.ReleaseEscrowRequest{
		Target: domain.TargetDriver,
	}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestReleaseGatewayFailureKeepsFundsHeld(t *testing.T) {
	gw := &fakeGateway{transferErr: errors.New("insufficient balance")}
	svc, repo := newTestService(gw)
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)

	_, err = svc.Release(context.Background(), held.ID, domain.ReleaseEscrowRequest{
		Target: domain.TargetSeller,
	}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrGatewayFailure)
	assert.Equal(t, domain.EscrowHeld, repo.escrows[held.ID].Status)
}

func TestDoubleReleaseRejected(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)

	_, err = svc.Release(context.Background(), held.ID, domain.ReleaseEscrowRequest{Target: domain.TargetSeller}, "admin-1")
	require.NoError(t, err)

	_, err = svc.Release(context.Background(), held.ID, domain.ReleaseEscrowRequest{Target: domain.TargetSeller}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestDisputeThenRefund(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(gw)
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)

	disputed, err := svc.Dispute(context.Background(), held.ID, domain.DisputeRequest{
		Reason: "package never arrived",
	}, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowDisputed, disputed.Status)

	resolved, err := svc.Resolve(context.Background(), held.ID, domain.ResolveDisputeRequest{
		Action: domain.ResolveRefund, Notes: "driver GPS confirms no drop-off",
	}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, domain.EscrowRefunded, resolved.Status)
	assert.Equal(t, resolved.TotalAmount, resolved.RefundedAmount)
	require.Len(t, gw.refunds, 1)
	assert.Equal(t, refundCall{reference: "pay-ref-1", amount: 10000}, gw.refunds[0])
}

func TestDisputeRequiresHeld(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)

	_, err = svc.Release(context.Background(), held.ID, domain.ReleaseEscrowRequest{Target: domain.TargetSeller}, "admin-1")
	require.NoError(t, err)

	_, err = svc.Dispute(context.Background(), held.ID, domain.DisputeRequest{Reason: "late"}, "buyer-1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestResolveRequiresDisputed(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), held.ID, domain.ResolveDisputeRequest{
		Action: domain.ResolveRefund, Notes: "notes",
	}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestResolvePartial(t *testing.T) {
	gw := &fakeGateway{}
	svc, repo := newTestService(gw)
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)
	_, err = svc.Dispute(context.Background(), held.ID, domain.DisputeRequest{Reason: "half the order missing"}, "buyer-1")
	require.NoError(t, err)

	resolved, err := svc.Resolve(context.Background(), held.ID, domain.ResolveDisputeRequest{
		Action: domain.ResolvePartial, Notes: "both sides agreed to 40%", PartialAmount: 4000,
	}, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, domain.EscrowRefunded, resolved.Status)
	assert.Equal(t, int64(4000), resolved.RefundedAmount)

	// buyer refunded 4000, seller paid the 6000 remainder
	require.Len(t, gw.refunds, 1)
	assert.Equal(t, refundCall{reference: "pay-ref-1", amount: 4000}, gw.refunds[0])
	require.Len(t, gw.transfers, 1)
	assert.Equal(t, transferCall{amount: 6000, payee: "seller-1"}, gw.transfers[0])

	// the recorded split is untouched by a partial resolution
	assert.True(t, repo.escrows[held.ID].SplitValid())
}

func TestResolvePartialBounds(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)
	_, err = svc.Dispute(context.Background(), held.ID, domain.DisputeRequest{Reason: "damaged"}, "buyer-1")
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), held.ID, domain.ResolveDisputeRequest{
		Action: domain.ResolvePartial, Notes: "n", PartialAmount: 0,
	}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Resolve(context.Background(), held.ID, domain.ResolveDisputeRequest{
		Action: domain.ResolvePartial, Notes: "n", PartialAmount: 10001,
	}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestResolveGatewayFailureKeepsDisputed(t *testing.T) {
	gw := &fakeGateway{refundErr: errors.New("timeout")}
	svc, repo := newTestService(gw)
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)
	_, err = svc.Dispute(context.Background(), held.ID, domain.DisputeRequest{Reason: "missing"}, "buyer-1")
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), held.ID, domain.ResolveDisputeRequest{
		Action: domain.ResolveRefund, Notes: "refund the buyer",
	}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrGatewayFailure)
	assert.Equal(t, domain.EscrowDisputed, repo.escrows[held.ID].Status)
}

func TestEscalate(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})
	held, err := svc.Hold(context.Background(), holdReq(), "buyer-1")
	require.NoError(t, err)
	_, err = svc.Dispute(context.Background(), held.ID, domain.DisputeRequest{Reason: "fraud suspected"}, "seller-1")
	require.NoError(t, err)

	escalated, err := svc.Escalate(context.Background(), held.ID, domain.EscalateRequest{
		Priority: "critical", Notes: "large amount",
	}, "admin-1")
	require.NoError(t, err)
	require.NotNil(t, escalated.Priority)
	assert.Equal(t, "critical", *escalated.Priority)

	_, err = svc.Escalate(context.Background(), held.ID, domain.EscalateRequest{Priority: "asap"}, "admin-1")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
