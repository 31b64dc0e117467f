package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"swiftdrop/internal/audit"
	"swiftdrop/internal/domain"
)

// SettleFunc is the gateway leg of a fund-moving transition. It runs while
// the escrow row is locked; if it fails the transaction rolls back and the
// row keeps its prior stable state.
type SettleFunc func(ctx context.Context, esc domain.EscrowTransaction) error

type EscrowRepositoryInterface interface {
	CreateHoldTx(ctx context.Context, esc domain.EscrowTransaction, actor string) (domain.EscrowTransaction, error)
	ReleaseTx(ctx context.Context, escrowID string, target domain.ReleaseTarget, actor, reason string, settle SettleFunc) (domain.EscrowTransaction, error)
	DisputeTx(ctx context.Context, escrowID, raisedBy, reason string) (domain.EscrowTransaction, error)
	ResolveTx(ctx context.Context, escrowID string, action domain.ResolutionAction, notes string, partialAmount int64, actor string, settle SettleFunc) (domain.EscrowTransaction, error)
	EscalateTx(ctx context.Context, escrowID, priority, notes, actor string) (domain.EscrowTransaction, error)
	Get(ctx context.Context, escrowID string) (domain.EscrowTransaction, error)
	List(ctx context.Context, status string, limit, offset int) ([]domain.EscrowTransaction, error)
	Timeline(ctx context.Context, escrowID string, limit, offset int) ([]audit.Entry, error)
}

type EscrowRepository struct {
	db *sql.DB
}

func New(db *sql.DB) EscrowRepositoryInterface {
	return &EscrowRepository{db: db}
}

const escrowColumns = `id, order_id, buyer_id, seller_id, driver_id,
total_amount, seller_amount, driver_amount, platform_fee, refunded_amount,
status, payment_reference, dispute_reason, disputed_by, priority,
resolution_notes, resolved_by, auto_release_at, released_at, created_at, updated_at`

func scanEscrow(row interface{ Scan(...any) error }) (domain.EscrowTransaction, error) {
	var e domain.EscrowTransaction
	var status string
	err := row.Scan(
		&e.ID, &e.OrderID, &e.BuyerID, &e.SellerID, &e.DriverID,
		&e.TotalAmount, &e.SellerAmount, &e.DriverAmount, &e.PlatformFee, &e.RefundedAmount,
		&status, &e.PaymentRef, &e.DisputeReason, &e.DisputedBy, &e.Priority,
		&e.ResolutionNotes, &e.ResolvedBy, &e.AutoReleaseAt, &e.ReleasedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	e.Status = domain.EscrowStatus(status)
	return e, nil
}

func (r *EscrowRepository) CreateHoldTx(ctx context.Context, esc domain.EscrowTransaction, actor string) (domain.EscrowTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	esc.ID = uuid.NewString()
	esc.Status = domain.EscrowHeld
	now := time.Now().UTC()
	esc.CreatedAt = now
	esc.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
INSERT INTO escrow_transactions
    (id, order_id, buyer_id, seller_id, driver_id,
     total_amount, seller_amount, driver_amount, platform_fee, refunded_amount,
     status, payment_reference, auto_release_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,$11,$12,$13,$13)
`,
		esc.ID, esc.OrderID, esc.BuyerID, esc.SellerID, esc.DriverID,
		esc.TotalAmount, esc.SellerAmount, esc.DriverAmount, esc.PlatformFee,
		string(esc.Status), esc.PaymentRef, esc.AutoReleaseAt, now,
	)
	if err != nil {
		return domain.EscrowTransaction{}, mapInsertError(err, esc.PaymentRef)
	}

	if err := audit.Record(ctx, tx, actor, "escrow.hold", "escrow", esc.ID, nil, esc); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscrowTransaction{}, err
	}
	return esc, nil
}

// mapInsertError turns a duplicate payment_reference into a conflict; a
// repeated verify for the same charge is not an internal failure.
func mapInsertError(err error, paymentRef string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: payment %s is already held", domain.ErrInvalidState, paymentRef)
	}
	return fmt.Errorf("insert escrow: %w", err)
}

// lockEscrow loads the row FOR UPDATE inside tx.
func lockEscrow(ctx context.Context, tx *sql.Tx, escrowID string) (domain.EscrowTransaction, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_transactions WHERE id=$1 FOR UPDATE`, escrowID)
	esc, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EscrowTransaction{}, domain.ErrNotFound
	}
	return esc, err
}

func (r *EscrowRepository) ReleaseTx(ctx context.Context, escrowID string, target domain.ReleaseTarget, actor, reason string, settle SettleFunc) (domain.EscrowTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	before, err := lockEscrow(ctx, tx, escrowID)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	if before.Status != domain.EscrowHeld {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: escrow is %s, release requires HELD",
			domain.ErrInvalidState, before.Status)
	}

	after := before
	now := time.Now().UTC()
	after.ReleasedAt = &now
	after.UpdatedAt = now
	if target == domain.TargetDriver {
		after.Status = domain.EscrowReleasedToDriver
	} else {
		after.Status = domain.EscrowReleasedToSeller
	}

	// Gateway transfer happens under the row lock; a failure aborts the
	// transaction and the escrow stays HELD.
	if err := settle(ctx, before); err != nil {
		return domain.EscrowTransaction{}, err
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE escrow_transactions
SET status=$2, released_at=$3, updated_at=$3
WHERE id=$1
`, escrowID, string(after.Status), now); err != nil {
		return domain.EscrowTransaction{}, fmt.Errorf("update escrow: %w", err)
	}

	if err := audit.Record(ctx, tx, actor, "escrow.release", "escrow", escrowID, before, after); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscrowTransaction{}, err
	}
	return after, nil
}

func (r *EscrowRepository) DisputeTx(ctx context.Context, escrowID, raisedBy, reason string) (domain.EscrowTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	before, err := lockEscrow(ctx, tx, escrowID)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	if before.Status != domain.EscrowHeld {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: escrow is %s, dispute requires HELD",
			domain.ErrInvalidState, before.Status)
	}

	after := before
	now := time.Now().UTC()
	after.Status = domain.EscrowDisputed
	after.DisputeReason = &reason
	after.DisputedBy = &raisedBy
	after.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
UPDATE escrow_transactions
SET status=$2, dispute_reason=$3, disputed_by=$4, updated_at=$5
WHERE id=$1
`, escrowID, string(after.Status), reason, raisedBy, now); err != nil {
		return domain.EscrowTransaction{}, fmt.Errorf("update escrow: %w", err)
	}

	if err := audit.Record(ctx, tx, raisedBy, "escrow.dispute", "escrow", escrowID, before, after); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscrowTransaction{}, err
	}
	return after, nil
}

func (r *EscrowRepository) ResolveTx(ctx context.Context, escrowID string, action domain.ResolutionAction, notes string, partialAmount int64, actor string, settle SettleFunc) (domain.EscrowTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	before, err := lockEscrow(ctx, tx, escrowID)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	if before.Status != domain.EscrowDisputed {
		return domain.EscrowTransaction{}, fmt.Errorf("%w: escrow is %s, resolution requires DISPUTED",
			domain.ErrInvalidState, before.Status)
	}

	after := before
	now := time.Now().UTC()
	after.ResolutionNotes = &notes
	after.ResolvedBy = &actor
	after.ReleasedAt = &now
	after.UpdatedAt = now
	switch action {
	case domain.ResolveRefund:
		after.Status = domain.EscrowRefunded
		after.RefundedAmount = before.TotalAmount
	case domain.ResolveRelease:
		after.Status = domain.EscrowReleasedToSeller
	case domain.ResolvePartial:
		after.Status = domain.EscrowRefunded
		after.RefundedAmount = partialAmount
	}

	// Both legs of a partial resolution run here; any failure aborts and
	// the escrow stays DISPUTED.
	if err := settle(ctx, before); err != nil {
		return domain.EscrowTransaction{}, err
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE escrow_transactions
SET status=$2, refunded_amount=$3, resolution_notes=$4, resolved_by=$5, released_at=$6, updated_at=$6
WHERE id=$1
`, escrowID, string(after.Status), after.RefundedAmount, notes, actor, now); err != nil {
		return domain.EscrowTransaction{}, fmt.Errorf("update escrow: %w", err)
	}

	if err := audit.Record(ctx, tx, actor, "escrow.resolve_"+string(action), "escrow", escrowID, before, after); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscrowTransaction{}, err
	}
	return after, nil
}

func (r *EscrowRepository) EscalateTx(ctx context.Context, escrowID, priority, notes, actor string) (domain.EscrowTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	before, err := lockEscrow(ctx, tx, escrowID)
	if err != nil {
		return domain.EscrowTransaction{}, err
	}

	after := before
	now := time.Now().UTC()
	after.Priority = &priority
	after.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
UPDATE escrow_transactions SET priority=$2, updated_at=$3 WHERE id=$1
`, escrowID, priority, now); err != nil {
		return domain.EscrowTransaction{}, fmt.Errorf("update escrow: %w", err)
	}

	if err := audit.Record(ctx, tx, actor, "escrow.escalate", "escrow", escrowID, before, after); err != nil {
		return domain.EscrowTransaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscrowTransaction{}, err
	}
	return after, nil
}

func (r *EscrowRepository) Get(ctx context.Context, escrowID string) (domain.EscrowTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_transactions WHERE id=$1`, escrowID)
	esc, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EscrowTransaction{}, domain.ErrNotFound
	}
	return esc, err
}

func (r *EscrowRepository) List(ctx context.Context, status string, limit, offset int) ([]domain.EscrowTransaction, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrow_transactions`
	args := []any{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EscrowTransaction
	for rows.Next() {
		esc, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, esc)
	}
	return out, rows.Err()
}

func (r *EscrowRepository) Timeline(ctx context.Context, escrowID string, limit, offset int) ([]audit.Entry, error) {
	return audit.Timeline(ctx, r.db, "escrow", escrowID, limit, offset)
}
