package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"swiftdrop/internal/audit"
	"swiftdrop/internal/domain"
)

type DeliveryRepositoryInterface interface {
	CreateTx(ctx context.Context, d domain.DeliveryRequest, actor string) (domain.DeliveryRequest, error)
	AcceptTx(ctx context.Context, requestID, driverID string) (domain.DeliveryRequest, error)
	UpdateStatusTx(ctx context.Context, requestID, driverID string, newStatus domain.DeliveryStatus, location *domain.GeoPoint, proofURL string) (domain.DeliveryRequest, error)
	CancelTx(ctx context.Context, requestID, actor, reason string) (domain.DeliveryRequest, error)
	ExpireBatch(ctx context.Context, batch int) ([]domain.DeliveryRequest, error)
	InsertMessage(ctx context.Context, msg domain.DeliveryMessage) error
	AppendEvent(ctx context.Context, ev domain.TrackingEvent) error
	Get(ctx context.Context, requestID string) (domain.DeliveryRequest, error)
	ListByDriver(ctx context.Context, driverID string, limit, offset int) ([]domain.DeliveryRequest, error)
	ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]domain.DeliveryRequest, error)
	Timeline(ctx context.Context, requestID string, limit, offset int) ([]domain.TrackingEvent, error)
}

type DeliveryRepository struct {
	db *sql.DB
}

func New(db *sql.DB) DeliveryRepositoryInterface {
	return &DeliveryRepository{db: db}
}

const deliveryColumns = `id, order_id, merchant_id, customer_id, driver_id,
pickup_address, delivery_address, pickup_lat, pickup_lng, delivery_lat, delivery_lng,
delivery_fee, urgency, status, expires_at, accepted_at, delivered_at, created_at, updated_at`

func scanDelivery(row interface{ Scan(...any) error }) (domain.DeliveryRequest, error) {
	var d domain.DeliveryRequest
	var status, urgency string
	var pickupLat, pickupLng, dropLat, dropLng sql.NullFloat64
	err := row.Scan(
		&d.ID, &d.OrderID, &d.MerchantID, &d.CustomerID, &d.DriverID,
		&d.PickupAddr, &d.DeliveryAddr, &pickupLat, &pickupLng, &dropLat, &dropLng,
		&d.DeliveryFee, &urgency, &status, &d.ExpiresAt, &d.AcceptedAt, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	d.Status = domain.DeliveryStatus(status)
	d.Urgency = domain.Urgency(urgency)
	if pickupLat.Valid && pickupLng.Valid {
		d.PickupCoords = &domain.GeoPoint{Lat: pickupLat.Float64, Lng: pickupLng.Float64}
	}
	if dropLat.Valid && dropLng.Valid {
		d.DropCoords = &domain.GeoPoint{Lat: dropLat.Float64, Lng: dropLng.Float64}
	}
	return d, nil
}

func coords(p *domain.GeoPoint) (lat, lng any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lng
}

// statusEventType names the tracking event for a status change; event names
// are lowercase everywhere so timeline and room consumers see the same key.
func statusEventType(s domain.DeliveryStatus) string {
	return "delivery." + strings.ToLower(string(s))
}

func appendEventTx(ctx context.Context, tx *sql.Tx, ev domain.TrackingEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal tracking payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO tracking_events (id, delivery_id, order_id, event_type, actor_id, payload, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, uuid.NewString(), ev.DeliveryID, ev.OrderID, ev.EventType, ev.ActorID, payload, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert tracking event: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) CreateTx(ctx context.Context, d domain.DeliveryRequest, actor string) (domain.DeliveryRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	d.ID = uuid.NewString()
	d.Status = domain.DeliveryPending
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	pLat, pLng := coords(d.PickupCoords)
	dLat, dLng := coords(d.DropCoords)
	_, err = tx.ExecContext(ctx, `
INSERT INTO delivery_requests
    (id, order_id, merchant_id, customer_id,
     pickup_address, delivery_address, pickup_lat, pickup_lng, delivery_lat, delivery_lng,
     delivery_fee, urgency, status, expires_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
`,
		d.ID, d.OrderID, d.MerchantID, d.CustomerID,
		d.PickupAddr, d.DeliveryAddr, pLat, pLng, dLat, dLng,
		d.DeliveryFee, string(d.Urgency), string(d.Status), d.ExpiresAt, now,
	)
	if err != nil {
		return domain.DeliveryRequest{}, fmt.Errorf("insert delivery request: %w", err)
	}

	if err := appendEventTx(ctx, tx, domain.TrackingEvent{
		DeliveryID: d.ID, OrderID: d.OrderID, EventType: "delivery.requested",
		ActorID: actor, OccurredAt: now,
	}); err != nil {
		return domain.DeliveryRequest{}, err
	}
	if err := audit.Record(ctx, tx, actor, "delivery.request", "delivery", d.ID, nil, d); err != nil {
		return domain.DeliveryRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeliveryRequest{}, err
	}
	return d, nil
}

// AcceptTx assigns a PENDING request to a driver. First writer wins: the
// assignment is a conditional update guarded on status and expiry, so a
// concurrent accept observes zero affected rows and loses.
func (r *DeliveryRepository) AcceptTx(ctx context.Context, requestID, driverID string) (domain.DeliveryRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the driver row first; profile checks and the availability flip
	// must be atomic with the assignment.
	var isOnline, isAvailable bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_online, is_available FROM driver_profiles WHERE user_id=$1 FOR UPDATE`,
		driverID).Scan(&isOnline, &isAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryRequest{}, fmt.Errorf("%w: no driver profile for %s", domain.ErrDriverUnavailable, driverID)
	}
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	if !isOnline || !isAvailable {
		return domain.DeliveryRequest{}, fmt.Errorf("%w: driver %s is offline or busy", domain.ErrDriverUnavailable, driverID)
	}

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
UPDATE delivery_requests
SET status=$3, driver_id=$2, accepted_at=$4, updated_at=$4
WHERE id=$1 AND status=$5 AND expires_at > $4
RETURNING `+deliveryColumns,
		requestID, driverID, string(domain.DeliveryAccepted), now, string(domain.DeliveryPending))
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r.diagnoseAcceptFailure(ctx, tx, requestID, driverID, now)
	}
	if err != nil {
		return domain.DeliveryRequest{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE driver_profiles SET is_available=false, last_seen=$2 WHERE user_id=$1`,
		driverID, now); err != nil {
		return domain.DeliveryRequest{}, fmt.Errorf("flip driver availability: %w", err)
	}

	if err := appendEventTx(ctx, tx, domain.TrackingEvent{
		DeliveryID: d.ID, OrderID: d.OrderID, EventType: "delivery.accepted",
		ActorID: driverID, OccurredAt: now,
	}); err != nil {
		return domain.DeliveryRequest{}, err
	}
	if err := audit.Record(ctx, tx, driverID, "delivery.accept", "delivery", d.ID, nil, d); err != nil {
		return domain.DeliveryRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeliveryRequest{}, err
	}
	return d, nil
}

// diagnoseAcceptFailure maps a lost conditional update to the right error.
// An expired PENDING request is lazily cancelled on the way out, with the
// same tracking event and audit row the sweep writes, and the cancelled row
// is returned so the caller can fan the expiry out.
func (r *DeliveryRepository) diagnoseAcceptFailure(ctx context.Context, tx *sql.Tx, requestID, driverID string, now time.Time) (domain.DeliveryRequest, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_requests WHERE id=$1 FOR UPDATE`, requestID)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryRequest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DeliveryRequest{}, err
	}

	if d.Status == domain.DeliveryPending && !d.ExpiresAt.After(now) {
		before := d
		d.Status = domain.DeliveryCancelled
		d.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
UPDATE delivery_requests SET status=$2, updated_at=$3 WHERE id=$1
`, requestID, string(domain.DeliveryCancelled), now); err != nil {
			return domain.DeliveryRequest{}, err
		}
		if err := appendEventTx(ctx, tx, domain.TrackingEvent{
			DeliveryID: d.ID, OrderID: d.OrderID, EventType: "delivery.expired",
			ActorID: driverID, OccurredAt: now,
		}); err != nil {
			return domain.DeliveryRequest{}, err
		}
		if err := audit.Record(ctx, tx, driverID, "delivery.expire", "delivery", d.ID, before, d); err != nil {
			return domain.DeliveryRequest{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.DeliveryRequest{}, err
		}
		return d, fmt.Errorf("%w: request %s expired", domain.ErrInvalidState, requestID)
	}
	if d.Status == domain.DeliveryCancelled {
		return domain.DeliveryRequest{}, fmt.Errorf("%w: request %s is cancelled", domain.ErrInvalidState, requestID)
	}
	return domain.DeliveryRequest{}, fmt.Errorf("%w: request %s is %s", domain.ErrAlreadyAssigned, requestID, d.Status)
}

func (r *DeliveryRepository) UpdateStatusTx(ctx context.Context, requestID, driverID string, newStatus domain.DeliveryStatus, location *domain.GeoPoint, proofURL string) (domain.DeliveryRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_requests WHERE id=$1 FOR UPDATE`, requestID)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryRequest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DeliveryRequest{}, err
	}

	if d.DriverID == nil || *d.DriverID != driverID {
		return domain.DeliveryRequest{}, fmt.Errorf("%w: delivery %s is not assigned to driver %s",
			domain.ErrForbidden, requestID, driverID)
	}
	if !domain.CanTransition(d.Status, newStatus) {
		return domain.DeliveryRequest{}, fmt.Errorf("%w: %s -> %s",
			domain.ErrInvalidTransition, d.Status, newStatus)
	}

	before := d
	now := time.Now().UTC()
	d.Status = newStatus
	d.UpdatedAt = now
	if newStatus == domain.DeliveryDelivered {
		d.DeliveredAt = &now
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE delivery_requests SET status=$2, delivered_at=COALESCE($3, delivered_at), updated_at=$4 WHERE id=$1
`, requestID, string(newStatus), d.DeliveredAt, now); err != nil {
		return domain.DeliveryRequest{}, fmt.Errorf("update delivery status: %w", err)
	}

	if newStatus == domain.DeliveryDelivered {
		// Completion frees the driver, credits earnings and closes the order.
		if _, err := tx.ExecContext(ctx, `
UPDATE driver_profiles
SET is_available=true, total_deliveries=total_deliveries+1, total_earnings=total_earnings+$2, last_seen=$3
WHERE user_id=$1
`, driverID, d.DeliveryFee, now); err != nil {
			return domain.DeliveryRequest{}, fmt.Errorf("credit driver: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE orders SET status=$2, driver_id=$3, updated_at=$4 WHERE id=$1
`, d.OrderID, string(domain.OrderDelivered), driverID, now); err != nil {
			return domain.DeliveryRequest{}, fmt.Errorf("close order: %w", err)
		}
	}

	payload := map[string]any{}
	if location != nil {
		payload["location"] = location
	}
	if proofURL != "" {
		payload["proof_url"] = proofURL
	}
	if err := appendEventTx(ctx, tx, domain.TrackingEvent{
		DeliveryID: d.ID, OrderID: d.OrderID, EventType: statusEventType(newStatus),
		ActorID: driverID, Payload: payload, OccurredAt: now,
	}); err != nil {
		return domain.DeliveryRequest{}, err
	}
	if err := audit.Record(ctx, tx, driverID, "delivery.status", "delivery", d.ID, before, d); err != nil {
		return domain.DeliveryRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeliveryRequest{}, err
	}
	return d, nil
}

func (r *DeliveryRepository) CancelTx(ctx context.Context, requestID, actor, reason string) (domain.DeliveryRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_requests WHERE id=$1 FOR UPDATE`, requestID)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryRequest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DeliveryRequest{}, err
	}
	if !domain.CanTransition(d.Status, domain.DeliveryCancelled) {
		return domain.DeliveryRequest{}, fmt.Errorf("%w: cannot cancel a %s delivery",
			domain.ErrInvalidState, d.Status)
	}

	before := d
	now := time.Now().UTC()
	d.Status = domain.DeliveryCancelled
	d.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
UPDATE delivery_requests SET status=$2, updated_at=$3 WHERE id=$1
`, requestID, string(domain.DeliveryCancelled), now); err != nil {
		return domain.DeliveryRequest{}, fmt.Errorf("cancel delivery: %w", err)
	}

	// An assigned driver gets their availability back.
	if d.DriverID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE driver_profiles SET is_available=true WHERE user_id=$1`, *d.DriverID); err != nil {
			return domain.DeliveryRequest{}, err
		}
	}

	if err := appendEventTx(ctx, tx, domain.TrackingEvent{
		DeliveryID: d.ID, OrderID: d.OrderID, EventType: "delivery.cancelled",
		ActorID: actor, Payload: map[string]any{"reason": reason}, OccurredAt: now,
	}); err != nil {
		return domain.DeliveryRequest{}, err
	}
	if err := audit.Record(ctx, tx, actor, "delivery.cancel", "delivery", d.ID, before, d); err != nil {
		return domain.DeliveryRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeliveryRequest{}, err
	}
	return d, nil
}

// ExpireBatch cancels PENDING requests whose accept window has passed.
// Used by the sweeper; each expired id is returned for fan-out.
func (r *DeliveryRepository) ExpireBatch(ctx context.Context, batch int) ([]domain.DeliveryRequest, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx, `
UPDATE delivery_requests
SET status=$1, updated_at=$2
WHERE id IN (
    SELECT id FROM delivery_requests
    WHERE status=$3 AND expires_at <= $2
    ORDER BY expires_at
    LIMIT $4
    FOR UPDATE SKIP LOCKED
)
RETURNING `+deliveryColumns,
		string(domain.DeliveryCancelled), now, string(domain.DeliveryPending), batch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []domain.DeliveryRequest
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, d := range expired {
		if err := appendEventTx(ctx, tx, domain.TrackingEvent{
			DeliveryID: d.ID, OrderID: d.OrderID, EventType: "delivery.expired",
			ActorID: "sweeper", OccurredAt: now,
		}); err != nil {
			return nil, err
		}
		if err := audit.Record(ctx, tx, "sweeper", "delivery.expire", "delivery", d.ID, nil, d); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return expired, nil
}

func (r *DeliveryRepository) InsertMessage(ctx context.Context, msg domain.DeliveryMessage) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO delivery_messages (id, delivery_id, sender_id, body, sent_at)
VALUES ($1,$2,$3,$4,$5)
`, msg.ID, msg.DeliveryID, msg.SenderID, msg.Body, msg.SentAt)
	return err
}

func (r *DeliveryRepository) AppendEvent(ctx context.Context, ev domain.TrackingEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal tracking payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO tracking_events (id, delivery_id, order_id, event_type, actor_id, payload, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, uuid.NewString(), ev.DeliveryID, ev.OrderID, ev.EventType, ev.ActorID, payload, ev.OccurredAt)
	return err
}

func (r *DeliveryRepository) Get(ctx context.Context, requestID string) (domain.DeliveryRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivery_requests WHERE id=$1`, requestID)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryRequest{}, domain.ErrNotFound
	}
	return d, err
}

func (r *DeliveryRepository) ListByDriver(ctx context.Context, driverID string, limit, offset int) ([]domain.DeliveryRequest, error) {
	return r.list(ctx, `driver_id=$1`, driverID, limit, offset)
}

func (r *DeliveryRepository) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]domain.DeliveryRequest, error) {
	return r.list(ctx, `merchant_id=$1`, merchantID, limit, offset)
}

func (r *DeliveryRepository) list(ctx context.Context, where, arg string, limit, offset int) ([]domain.DeliveryRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+deliveryColumns+` FROM delivery_requests
WHERE `+where+`
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, arg, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryRequest
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DeliveryRepository) Timeline(ctx context.Context, requestID string, limit, offset int) ([]domain.TrackingEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, delivery_id, order_id, event_type, actor_id, payload, occurred_at
FROM tracking_events
WHERE delivery_id=$1
ORDER BY occurred_at ASC
LIMIT $2 OFFSET $3
`, requestID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TrackingEvent
	for rows.Next() {
		var ev domain.TrackingEvent
		var raw []byte
		if err := rows.Scan(&ev.ID, &ev.DeliveryID, &ev.OrderID, &ev.EventType, &ev.ActorID, &raw, &ev.OccurredAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(raw, &ev.Payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
