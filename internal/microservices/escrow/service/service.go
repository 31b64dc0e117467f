package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"swiftdrop/internal/audit"
	"swiftdrop/internal/common/logger"
	"swiftdrop/internal/common/metrics"
	"swiftdrop/internal/config"
	"swiftdrop/internal/domain"
	"swiftdrop/internal/gateway"
	"swiftdrop/internal/microservices/escrow/repository"
	"swiftdrop/internal/realtime"
)

type EscrowServiceInterface interface {
	VerifyAndHold(ctx context.Context, req domain.VerifyPaymentRequest, actor string) (domain.EscrowTransaction, error)
	Hold(ctx context.Context, req domain.HoldEscrowRequest, actor string) (domain.EscrowTransaction, error)
	Release(ctx context.Context, escrowID string, req domain.ReleaseEscrowRequest, actor string) (domain.EscrowTransaction, error)
	Dispute(ctx context.Context, escrowID string, req domain.DisputeRequest, raisedBy string) (domain.EscrowTransaction, error)
	Resolve(ctx context.Context, escrowID string, req domain.ResolveDisputeRequest, actor string) (domain.EscrowTransaction, error)
	Escalate(ctx context.Context, escrowID string, req domain.EscalateRequest, actor string) (domain.EscrowTransaction, error)
	Get(ctx context.Context, escrowID string) (domain.EscrowTransaction, []audit.Entry, error)
	List(ctx context.Context, status string, limit, offset int) ([]domain.EscrowTransaction, error)
}

// EscrowService owns the fund-holding lifecycle. All state transitions go
// through the repository's locked transactions; the gateway legs are
// injected into those transactions so local state never advances past a
// failed transfer.
type EscrowService struct {
	repo repository.EscrowRepositoryInterface
	gw   gateway.Client
	pub  realtime.Publisher
	cfg  config.EscrowConfig
	lg   *logger.Logger
}

func New(repo repository.EscrowRepositoryInterface, gw gateway.Client, pub realtime.Publisher, cfg config.EscrowConfig, lg *logger.Logger) EscrowServiceInterface {
	return &EscrowService{repo: repo, gw: gw, pub: pub, cfg: cfg, lg: lg}
}

// Split computes the seller/driver/fee partition of a total. The platform
// fee is floor(total*bps/10000); the seller takes the remainder so the
// three parts always sum exactly to the total.
func Split(total, driverFee int64, feeBps int) (seller, driver, fee int64, err error) {
	if total <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: total must be positive", domain.ErrInvalidAmount)
	}
	if driverFee < 0 || driverFee > total {
		return 0, 0, 0, fmt.Errorf("%w: driver fee out of range", domain.ErrInvalidAmount)
	}
	fee = total * int64(feeBps) / 10000
	if driverFee+fee > total {
		return 0, 0, 0, fmt.Errorf("%w: fee and driver share exceed total", domain.ErrInvalidSplit)
	}
	seller = total - driverFee - fee
	return seller, driverFee, fee, nil
}

// VerifyAndHold confirms a charge with the gateway and, on success, holds
// the verified amount with a split computed from the order terms.
func (s *EscrowService) VerifyAndHold(ctx context.Context, req domain.VerifyPaymentRequest, actor string) (domain.EscrowTransaction, error) {
	if err := req.Validate(); err != nil {
		return domain.EscrowTransaction{}, err
	}

	res, err := s.gw.Verify(ctx, req.Reference)
	if err != nil {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: verify %s: %v", domain.ErrGatewayFailure, req.Reference, err)
	}
	if res.Status != "success" {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidState, req.Reference, res.Status)
	}

	seller, driver, fee, err := Split(res.Amount, req.DriverFee, s.cfg.PlatformFeeBps)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	return s.Hold(ctx, domain.HoldEscrowRequest{
		OrderID:      req.OrderID,
		BuyerID:      req.BuyerID,
		SellerID:     req.SellerID,
		DriverID:     req.DriverID,
		TotalAmount:  res.Amount,
		SellerAmount: seller,
		DriverAmount: driver,
		PlatformFee:  fee,
		PaymentRef:   req.Reference,
	}, actor)
}

func (s *EscrowService) Hold(ctx context.Context, req domain.HoldEscrowRequest, actor string) (domain.EscrowTransaction, error) {
	if err := req.Validate(); err != nil {
		return domain.EscrowTransaction{}, err
	}

	esc := domain.EscrowTransaction{
		OrderID:      req.OrderID,
		BuyerID:      req.BuyerID,
		SellerID:     req.SellerID,
		DriverID:     req.DriverID,
		TotalAmount:  req.TotalAmount,
		SellerAmount: req.SellerAmount,
		DriverAmount: req.DriverAmount,
		PlatformFee:  req.PlatformFee,
		PaymentRef:   req.PaymentRef,
	}
	if s.cfg.AutoReleaseWindow > 0 {
		t := time.Now().UTC().Add(s.cfg.AutoReleaseWindow)
		esc.AutoReleaseAt = &t
	}

	held, err := s.repo.CreateHoldTx(ctx, esc, actor)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(held.Status)).Inc()
	s.lg.Info("escrow_held", map[string]any{"escrow_id": held.ID, "order_id": held.OrderID, "total": held.TotalAmount})
	s.fanout(ctx, held, "escrow.held")
	return held, nil
}

func (s *EscrowService) Release(ctx context.Context, escrowID string, req domain.ReleaseEscrowRequest, actor string) (domain.EscrowTransaction, error) {
	if err := req.Validate(); err != nil {
		return domain.EscrowTransaction{}, err
	}

	settle := func(ctx context.Context, esc domain.EscrowTransaction) error {
		amount := esc.SellerAmount
		payee := esc.SellerID
		if req.Target == domain.TargetDriver {
			if esc.DriverID == nil {
				return fmt.Errorf("%w: escrow has no driver", domain.ErrInvalidState)
			}
			amount = esc.DriverAmount
			payee = *esc.DriverID
		}
		if _, err := s.gw.Transfer(ctx, amount, payee, req.Reason); err != nil {
			return fmt.Errorf("%w: transfer to %s: %v", domain.ErrGatewayFailure, payee, err)
		}
		return nil
	}

	released, err := s.repo.ReleaseTx(ctx, escrowID, req.Target, actor, req.Reason, settle)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(released.Status)).Inc()
	s.lg.Info("escrow_released", map[string]any{"escrow_id": released.ID, "target": string(req.Target), "actor": actor})
	s.fanout(ctx, released, "escrow.released")
	return released, nil
}

func (s *EscrowService) Dispute(ctx context.Context, escrowID string, req domain.DisputeRequest, raisedBy string) (domain.EscrowTransaction, error) {
	if err := req.Validate(); err != nil {
		return domain.EscrowTransaction{}, err
	}

	disputed, err := s.repo.DisputeTx(ctx, escrowID, raisedBy, strings.TrimSpace(req.Reason))
	if err != nil {
		return domain.EscrowTransaction{}, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(disputed.Status)).Inc()
	s.lg.Info("escrow_disputed", map[string]any{"escrow_id": disputed.ID, "raised_by": raisedBy})
	s.fanout(ctx, disputed, "escrow.disputed")
	s.pub.Publish(ctx, realtime.AdminRoom("disputes"), "escrow.disputed", disputed)
	return disputed, nil
}

func (s *EscrowService) Resolve(ctx context.Context, escrowID string, req domain.ResolveDisputeRequest, actor string) (domain.EscrowTransaction, error) {
	if err := req.Validate(); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if req.Action == domain.ResolvePartial && req.PartialAmount <= 0 {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: partial amount must be positive", domain.ErrInvalidAmount)
	}

	settle := func(ctx context.Context, esc domain.EscrowTransaction) error {
		switch req.Action {
		case domain.ResolveRefund:
			if _, err := s.gw.Refund(ctx, esc.PaymentRef, esc.TotalAmount); err != nil {
				return fmt.Errorf("%w: refund %s: %v", domain.ErrGatewayFailure, esc.PaymentRef, err)
			}
		case domain.ResolveRelease:
			if _, err := s.gw.Transfer(ctx, esc.SellerAmount, esc.SellerID, "dispute resolved in seller favor"); err != nil {
				return fmt.Errorf("%w: transfer to %s: %v", domain.ErrGatewayFailure, esc.SellerID, err)
			}
		case domain.ResolvePartial:
			if req.PartialAmount <= 0 || req.PartialAmount > esc.TotalAmount {
				return fmt.Errorf("%w: partial amount %d not in (0, %d]",
					domain.ErrInvalidAmount, req.PartialAmount, esc.TotalAmount)
			}
			if _, err := s.gw.Refund(ctx, esc.PaymentRef, req.PartialAmount); err != nil {
				return fmt.Errorf("%w: partial refund %s: %v", domain.ErrGatewayFailure, esc.PaymentRef, err)
			}
			remainder := esc.TotalAmount - req.PartialAmount
			if remainder > 0 {
				if _, err := s.gw.Transfer(ctx, remainder, esc.SellerID, "partial dispute resolution remainder"); err != nil {
					return fmt.Errorf("%w: remainder transfer to %s: %v", domain.ErrGatewayFailure, esc.SellerID, err)
				}
			}
		}
		return nil
	}

	resolved, err := s.repo.ResolveTx(ctx, escrowID, req.Action, strings.TrimSpace(req.Notes), req.PartialAmount, actor, settle)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(resolved.Status)).Inc()
	s.lg.Info("dispute_resolved", map[string]any{
		"escrow_id": resolved.ID, "action": string(req.Action), "actor": actor,
	})
	s.fanout(ctx, resolved, "escrow.resolved")
	s.pub.Publish(ctx, realtime.AdminRoom("disputes"), "escrow.resolved", resolved)
	return resolved, nil
}

func (s *EscrowService) Escalate(ctx context.Context, escrowID string, req domain.EscalateRequest, actor string) (domain.EscrowTransaction, error) {
	if err := req.Validate(); err != nil {
		return domain.EscrowTransaction{}, err
	}

	escalated, err := s.repo.EscalateTx(ctx, escrowID, req.Priority, req.Notes, actor)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}

	s.lg.Info("dispute_escalated", map[string]any{"escrow_id": escalated.ID, "priority": req.Priority, "actor": actor})
	s.pub.Publish(ctx, realtime.AdminRoom("disputes"), "escrow.escalated", escalated)
	return escalated, nil
}

func (s *EscrowService) Get(ctx context.Context, escrowID string) (domain.EscrowTransaction, []audit.Entry, error) {
	esc, err := s.repo.Get(ctx, escrowID)
	if err != nil {
		return domain.EscrowTransaction{}, nil, err
	}
	timeline, err := s.repo.Timeline(ctx, escrowID, 100, 0)
	if err != nil {
		return domain.EscrowTransaction{}, nil, err
	}
	return esc, timeline, nil
}

func (s *EscrowService) List(ctx context.Context, status string, limit, offset int) ([]domain.EscrowTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, status, limit, offset)
}

// fanout notifies buyer, seller and the admin escrow dashboard of a
// committed transition. Best effort.
func (s *EscrowService) fanout(ctx context.Context, esc domain.EscrowTransaction, event string) {
	realtime.FanOut(ctx, s.pub, event, esc,
		realtime.UserRoom(esc.BuyerID),
		realtime.UserRoom(esc.SellerID),
		realtime.OrderRoom(esc.OrderID),
		realtime.AdminRoom("escrow"),
	)
}
