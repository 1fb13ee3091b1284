package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/domain/model"
)

// DeliveryRepo provides database operations for per-recipient deliveries.
type DeliveryRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

var _ core.DeliveryRepository = (*DeliveryRepo)(nil)

// NewDeliveryRepo creates a new DeliveryRepo.
func NewDeliveryRepo(db *sql.DB, cfg RepoConfig) *DeliveryRepo {
	return &DeliveryRepo{DB: db, timeProvider: cfg.clock()}
}

const deliveryColumns = `
  id,
  issue_id,
  to_email,
  payload,
  status,
  send_at,
  sent_at,
  delivered_at,
  provider_message_id,
  error,
  created_at,
  updated_at
`

const maxDeliveryListLimit = 500

func scanDelivery(scanner rowScanner) (*model.Delivery, error) {
	d := &model.Delivery{}
	var (
		payload              []byte
		sentAt, deliveredAt  sql.NullTime
		providerID, errorMsg sql.NullString
	)
	if err := scanner.Scan(
		&d.ID,
		&d.IssueID,
		&d.ToEmail,
		&payload,
		&d.Status,
		&d.SendAt,
		&sentAt,
		&deliveredAt,
		&providerID,
		&errorMsg,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Payload = cloneJSON(payload)
	d.SendAt = d.SendAt.UTC()
	d.SentAt = cloneNullableTime(sentAt)
	d.DeliveredAt = cloneNullableTime(deliveredAt)
	d.ProviderMessageID = cloneNullableString(providerID)
	d.Error = cloneNullableString(errorMsg)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

func (r *DeliveryRepo) list(ctx context.Context, query string, args ...any) ([]*model.Delivery, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.Delivery, 0)
	for rows.Next() {
		d, scanErr := scanDelivery(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan delivery: %w", scanErr)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}

// ListDue returns scheduled deliveries with send_at at or before now, earliest first.
func (r *DeliveryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Delivery, error) {
	out, err := r.list(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE send_at <= $1 AND status = 'scheduled'
		ORDER BY send_at ASC, id ASC
		LIMIT $2`, now.UTC(), clampLimit(limit, 25, maxDeliveryListLimit))
	if err != nil {
		return nil, fmt.Errorf("list due deliveries: %w", err)
	}
	return out, nil
}

// ListScheduledByIssue returns up to limit scheduled deliveries for an issue, oldest first.
func (r *DeliveryRepo) ListScheduledByIssue(ctx context.Context, issueID string, limit int) ([]*model.Delivery, error) {
	if !validID(issueID) {
		return []*model.Delivery{}, nil
	}
	out, err := r.list(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE issue_id = $1 AND status = 'scheduled'
		ORDER BY send_at ASC, id ASC
		LIMIT $2`, issueID, clampLimit(limit, 20, maxDeliveryListLimit))
	if err != nil {
		return nil, fmt.Errorf("list scheduled deliveries: %w", err)
	}
	return out, nil
}

// ListByIssue returns deliveries for an issue regardless of status, oldest first.
func (r *DeliveryRepo) ListByIssue(ctx context.Context, issueID string, limit int) ([]*model.Delivery, error) {
	if !validID(issueID) {
		return []*model.Delivery{}, nil
	}
	out, err := r.list(ctx, `
		SELECT `+deliveryColumns+`
		FROM deliveries
		WHERE issue_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, issueID, clampLimit(limit, 100, maxDeliveryListLimit))
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return out, nil
}

// GetByID retrieves a delivery by its ID.
func (r *DeliveryRepo) GetByID(ctx context.Context, id string) (*model.Delivery, error) {
	if !validID(id) {
		return nil, ErrDeliveryNotFound
	}
	d, err := scanDelivery(r.DB.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

const insertDeliverySQL = `
	INSERT INTO deliveries (issue_id, to_email, payload, status, send_at, created_at, updated_at)
	VALUES ($1, $2, $3, 'scheduled', $4, $5, $5)
	RETURNING ` + deliveryColumns

// Create schedules a delivery.
func (r *DeliveryRepo) Create(ctx context.Context, req *model.CreateDeliveryRequest) (*model.Delivery, error) {
	if req == nil {
		return nil, errors.New("create delivery request is required")
	}
	if !validID(req.IssueID) {
		return nil, ErrIssueNotFound
	}
	return insertDelivery(ctx, r.DB, req, r.timeProvider.Now().UTC())
}

func insertDelivery(ctx context.Context, q queryer, req *model.CreateDeliveryRequest, now time.Time) (*model.Delivery, error) {
	email := strings.TrimSpace(req.ToEmail)
	if email == "" {
		return nil, errors.New("to_email is required")
	}
	sendAt := req.SendAt
	if sendAt.IsZero() {
		sendAt = now
	}
	d, err := scanDelivery(q.QueryRowContext(ctx, insertDeliverySQL,
		req.IssueID, email, nullJSON(req.Payload), sendAt.UTC(), now))
	if err != nil {
		return nil, fmt.Errorf("insert delivery: %w", err)
	}
	return d, nil
}

// RecordOutcome stores the result of one send attempt.
func (r *DeliveryRepo) RecordOutcome(ctx context.Context, outcome model.DeliveryOutcome) error {
	if !outcome.Status.Valid() {
		return fmt.Errorf("invalid delivery status: %q", outcome.Status)
	}
	if !validID(outcome.ID) {
		return ErrDeliveryNotFound
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $2,
		    sent_at = COALESCE($3, sent_at),
		    provider_message_id = COALESCE($4, provider_message_id),
		    error = $5,
		    updated_at = $6
		WHERE id = $1`,
		outcome.ID,
		outcome.Status,
		nullTime(outcome.SentAt),
		nullString(outcome.ProviderMessageID),
		nullString(outcome.Error),
		r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record delivery outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record delivery outcome rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// ApplyStatus stores a provider-reported status. It returns false when the
// delivery does not exist.
func (r *DeliveryRepo) ApplyStatus(ctx context.Context, update model.DeliveryStatusUpdate) (bool, error) {
	if !update.Status.Valid() {
		return false, fmt.Errorf("invalid delivery status: %q", update.Status)
	}
	if !validID(update.ID) {
		return false, nil
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $2,
		    delivered_at = COALESCE($3, delivered_at),
		    updated_at = $4
		WHERE id = $1`,
		update.ID, update.Status, nullTime(update.DeliveredAt), r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("apply delivery status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply delivery status rows affected: %w", err)
	}
	return n > 0, nil
}
