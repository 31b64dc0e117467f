package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"swiftdrop/internal/common/logger"
	"swiftdrop/internal/common/metrics"
	"swiftdrop/internal/config"
	"swiftdrop/internal/domain"
	"swiftdrop/internal/microservices/delivery/repository"
	"swiftdrop/internal/realtime"
)

type DeliveryServiceInterface interface {
	Request(ctx context.Context, req domain.CreateDeliveryRequest, merchantID string) (domain.DeliveryRequest, error)
	Accept(ctx context.Context, requestID, driverID string) (domain.DeliveryRequest, error)
	UpdateStatus(ctx context.Context, requestID, driverID string, req domain.UpdateDeliveryStatusRequest) (domain.DeliveryRequest, error)
	Communicate(ctx context.Context, requestID, senderID string, req domain.DeliveryMessageRequest) (domain.DeliveryMessage, error)
	ReportEmergency(ctx context.Context, requestID, reporterID string, req domain.EmergencyRequest) error
	Cancel(ctx context.Context, requestID, actor, reason string) (domain.DeliveryRequest, error)
	ExpirePending(ctx context.Context, batch int) (int, error)
	Get(ctx context.Context, requestID string) (domain.DeliveryRequest, error)
	ListByDriver(ctx context.Context, driverID string, limit, offset int) ([]domain.DeliveryRequest, error)
	ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]domain.DeliveryRequest, error)
	Timeline(ctx context.Context, requestID string, limit, offset int) ([]domain.TrackingEvent, error)
}

type DeliveryService struct {
	repo repository.DeliveryRepositoryInterface
	pub  realtime.Publisher
	cfg  config.DeliveryConfig
	lg   *logger.Logger
}

func New(repo repository.DeliveryRepositoryInterface, pub realtime.Publisher, cfg config.DeliveryConfig, lg *logger.Logger) DeliveryServiceInterface {
	return &DeliveryService{repo: repo, pub: pub, cfg: cfg, lg: lg}
}

func (s *DeliveryService) Request(ctx context.Context, req domain.CreateDeliveryRequest, merchantID string) (domain.DeliveryRequest, error) {
	if err := req.Validate(); err != nil {
		return domain.DeliveryRequest{}, err
	}
	urgency := req.Urgency
	if urgency == "" {
		urgency = domain.UrgencyNormal
	}

	d := domain.DeliveryRequest{
		OrderID:      req.OrderID,
		MerchantID:   merchantID,
		CustomerID:   req.CustomerID,
		PickupAddr:   req.PickupAddr,
		DeliveryAddr: req.DeliveryAddr,
		PickupCoords: req.PickupCoords,
		DropCoords:   req.DropCoords,
		DeliveryFee:  req.DeliveryFee,
		Urgency:      urgency,
		ExpiresAt:    time.Now().UTC().Add(s.cfg.AcceptWindow),
	}

	created, err := s.repo.CreateTx(ctx, d, merchantID)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}

	metrics.DeliveriesRequestedTotal.Inc()
	s.lg.Info("delivery_requested", map[string]any{
		"delivery_id": created.ID, "order_id": created.OrderID, "urgency": string(created.Urgency),
	})
	// Broadcast to the driver pool for this urgency tier, and to the
	// merchant's own room.
	s.pub.Publish(ctx, realtime.DriverBroadcastRoom(string(created.Urgency)), "delivery.available", created)
	s.pub.Publish(ctx, realtime.UserRoom(merchantID), "delivery.requested", created)
	return created, nil
}

func (s *DeliveryService) Accept(ctx context.Context, requestID, driverID string) (domain.DeliveryRequest, error) {
	accepted, err := s.repo.AcceptTx(ctx, requestID, driverID)
	if err != nil {
		// a lazily expired request comes back cancelled; the merchant gets
		// the same fan-out the sweep would have sent
		if accepted.Status == domain.DeliveryCancelled {
			metrics.DeliveriesExpiredTotal.Inc()
			realtime.FanOut(ctx, s.pub, "delivery.expired", accepted,
				realtime.UserRoom(accepted.MerchantID),
				realtime.DeliveryRoom(accepted.ID),
			)
		}
		return domain.DeliveryRequest{}, err
	}

	metrics.DeliveriesAcceptedTotal.Inc()
	s.lg.Info("delivery_accepted", map[string]any{"delivery_id": accepted.ID, "driver_id": driverID})
	realtime.FanOut(ctx, s.pub, "delivery.accepted", accepted,
		realtime.UserRoom(accepted.MerchantID),
		realtime.UserRoom(accepted.CustomerID),
		realtime.UserRoom(driverID),
		realtime.DeliveryRoom(accepted.ID),
	)
	return accepted, nil
}

func (s *DeliveryService) UpdateStatus(ctx context.Context, requestID, driverID string, req domain.UpdateDeliveryStatusRequest) (domain.DeliveryRequest, error) {
	if err := req.Validate(); err != nil {
		return domain.DeliveryRequest{}, err
	}

	updated, err := s.repo.UpdateStatusTx(ctx, requestID, driverID, req.Status, req.Location, req.ProofURL)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}

	s.lg.Info("delivery_status_updated", map[string]any{
		"delivery_id": updated.ID, "status": string(updated.Status), "driver_id": driverID,
	})
	realtime.FanOut(ctx, s.pub, "delivery."+strings.ToLower(string(updated.Status)), updated,
		realtime.UserRoom(updated.MerchantID),
		realtime.UserRoom(updated.CustomerID),
		realtime.DeliveryRoom(updated.ID),
		realtime.OrderRoom(updated.OrderID),
	)

	if updated.Status == domain.DeliveryDelivered {
		metrics.DeliveriesCompletedTotal.Inc()
		// Completion makes the held funds release-eligible; arbitration and
		// the auto-release job act on this signal.
		s.pub.Publish(ctx, realtime.AdminRoom("escrow"), "escrow.release_eligible", map[string]any{
			"order_id": updated.OrderID, "delivery_id": updated.ID, "driver_id": driverID,
		})
	}
	return updated, nil
}

func (s *DeliveryService) Communicate(ctx context.Context, requestID, senderID string, req domain.DeliveryMessageRequest) (domain.DeliveryMessage, error) {
	if err := req.Validate(); err != nil {
		return domain.DeliveryMessage{}, err
	}

	d, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return domain.DeliveryMessage{}, err
	}
	if !boundParty(d, senderID) {
		return domain.DeliveryMessage{}, fmt.Errorf("%w: %s is not a party to delivery %s",
			domain.ErrForbidden, senderID, requestID)
	}

	msg := domain.DeliveryMessage{
		ID:         uuid.NewString(),
		DeliveryID: requestID,
		SenderID:   senderID,
		Body:       strings.TrimSpace(req.Body),
		SentAt:     time.Now().UTC(),
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return domain.DeliveryMessage{}, err
	}

	s.pub.Publish(ctx, realtime.DeliveryRoom(requestID), "delivery.message", msg)
	return msg, nil
}

// ReportEmergency broadcasts regardless of delivery state and leaves the
// state machine untouched.
func (s *DeliveryService) ReportEmergency(ctx context.Context, requestID, reporterID string, req domain.EmergencyRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	d, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if !boundParty(d, reporterID) {
		return fmt.Errorf("%w: %s is not a party to delivery %s", domain.ErrForbidden, reporterID, requestID)
	}

	now := time.Now().UTC()
	if err := s.repo.AppendEvent(ctx, domain.TrackingEvent{
		DeliveryID: d.ID, OrderID: d.OrderID, EventType: "delivery.emergency",
		ActorID: reporterID, Payload: map[string]any{"details": req.Details}, OccurredAt: now,
	}); err != nil {
		return err
	}

	s.lg.Warn("delivery_emergency", map[string]any{"delivery_id": d.ID, "reporter": reporterID})
	payload := map[string]any{"delivery_id": d.ID, "reporter_id": reporterID, "details": req.Details}
	rooms := []string{
		realtime.AdminRoom("emergencies"),
		realtime.UserRoom(d.MerchantID),
		realtime.UserRoom(d.CustomerID),
		realtime.DeliveryRoom(d.ID),
	}
	if d.DriverID != nil {
		rooms = append(rooms, realtime.UserRoom(*d.DriverID))
	}
	realtime.FanOut(ctx, s.pub, "delivery.emergency", payload, rooms...)
	return nil
}

func (s *DeliveryService) Cancel(ctx context.Context, requestID, actor, reason string) (domain.DeliveryRequest, error) {
	cancelled, err := s.repo.CancelTx(ctx, requestID, actor, reason)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}

	s.lg.Info("delivery_cancelled", map[string]any{"delivery_id": cancelled.ID, "actor": actor})
	realtime.FanOut(ctx, s.pub, "delivery.cancelled", cancelled,
		realtime.UserRoom(cancelled.MerchantID),
		realtime.UserRoom(cancelled.CustomerID),
		realtime.DeliveryRoom(cancelled.ID),
	)
	return cancelled, nil
}

// ExpirePending cancels a batch of timed-out PENDING requests and fans the
// cancellations out. Returns how many were expired.
func (s *DeliveryService) ExpirePending(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	expired, err := s.repo.ExpireBatch(ctx, batch)
	if err != nil {
		return 0, err
	}
	for _, d := range expired {
		metrics.DeliveriesExpiredTotal.Inc()
		realtime.FanOut(ctx, s.pub, "delivery.expired", d,
			realtime.UserRoom(d.MerchantID),
			realtime.DeliveryRoom(d.ID),
		)
	}
	if len(expired) > 0 {
		s.lg.Info("deliveries_expired", map[string]any{"count": len(expired)})
	}
	return len(expired), nil
}

func (s *DeliveryService) Get(ctx context.Context, requestID string) (domain.DeliveryRequest, error) {
	return s.repo.Get(ctx, requestID)
}

func (s *DeliveryService) ListByDriver(ctx context.Context, driverID string, limit, offset int) ([]domain.DeliveryRequest, error) {
	return s.repo.ListByDriver(ctx, driverID, clampLimit(limit), max(offset, 0))
}

func (s *DeliveryService) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]domain.DeliveryRequest, error) {
	return s.repo.ListByMerchant(ctx, merchantID, clampLimit(limit), max(offset, 0))
}

func (s *DeliveryService) Timeline(ctx context.Context, requestID string, limit, offset int) ([]domain.TrackingEvent, error) {
	return s.repo.Timeline(ctx, requestID, clampLimit(limit), max(offset, 0))
}

func boundParty(d domain.DeliveryRequest, userID string) bool {
	if userID == d.MerchantID || userID == d.CustomerID {
		return true
	}
	return d.DriverID != nil && *d.DriverID == userID
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
