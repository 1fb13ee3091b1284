package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/domain/model"
)

// EmailEventRepo records inbound email provider events.
type EmailEventRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

var _ core.EmailEventRepository = (*EmailEventRepo)(nil)

// NewEmailEventRepo creates a new EmailEventRepo.
func NewEmailEventRepo(db *sql.DB, cfg RepoConfig) *EmailEventRepo {
	return &EmailEventRepo{DB: db, timeProvider: cfg.clock()}
}

const emailEventColumns = `id, issue_id, delivery_id, provider_message_id, event_type, meta, created_at`

func scanEmailEvent(scanner rowScanner) (*model.EmailEvent, error) {
	ev := &model.EmailEvent{}
	var (
		issueID, deliveryID, providerID sql.NullString
		meta                            []byte
	)
	if err := scanner.Scan(&ev.ID, &issueID, &deliveryID, &providerID, &ev.EventType, &meta, &ev.CreatedAt); err != nil {
		return nil, err
	}
	ev.IssueID = cloneNullableString(issueID)
	ev.DeliveryID = cloneNullableString(deliveryID)
	ev.ProviderMessageID = cloneNullableString(providerID)
	ev.Meta = cloneJSON(meta)
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}

// Insert stores one event. Meta defaults to an empty object.
func (r *EmailEventRepo) Insert(ctx context.Context, event *model.EmailEvent) (*model.EmailEvent, error) {
	if event == nil {
		return nil, errors.New("email event is required")
	}
	eventType := strings.TrimSpace(event.EventType)
	if eventType == "" {
		return nil, errors.New("event_type is required")
	}
	meta := []byte(event.Meta)
	if len(meta) == 0 {
		meta = []byte(`{}`)
	}
	ev, err := scanEmailEvent(r.DB.QueryRowContext(ctx, `
		INSERT INTO email_events (issue_id, delivery_id, provider_message_id, event_type, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+emailEventColumns,
		nullStringPtr(event.IssueID),
		nullStringPtr(event.DeliveryID),
		nullStringPtr(event.ProviderMessageID),
		eventType,
		meta,
		r.timeProvider.Now().UTC(),
	))
	if err != nil {
		return nil, fmt.Errorf("insert email event: %w", err)
	}
	return ev, nil
}

// ListByDelivery returns events recorded for a delivery, oldest first.
func (r *EmailEventRepo) ListByDelivery(ctx context.Context, deliveryID string, limit int) ([]*model.EmailEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+emailEventColumns+`
		FROM email_events
		WHERE delivery_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, strings.TrimSpace(deliveryID), clampLimit(limit, 100, 500))
	if err != nil {
		return nil, fmt.Errorf("list email events: %w", err)
	}
	defer rows.Close()

	out := make([]*model.EmailEvent, 0)
	for rows.Next() {
		ev, scanErr := scanEmailEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan email event: %w", scanErr)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate email events: %w", err)
	}
	return out, nil
}
