package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data/pgxutil"
	"github.com/target/inkwell/internal/domain/model"
)

// PreferencesRepo reads per-user content preferences.
type PreferencesRepo struct {
	DB *sql.DB
}

var _ core.PreferencesRepository = (*PreferencesRepo)(nil)

// NewPreferencesRepo creates a new PreferencesRepo.
func NewPreferencesRepo(db *sql.DB) *PreferencesRepo {
	return &PreferencesRepo{DB: db}
}

const preferencesColumns = `
  id,
  user_id,
  cadence,
  send_day,
  send_time,
  timezone,
  topics,
  tone,
  tone_custom,
  length,
  must_include,
  avoid,
  cta,
  sender_name,
  reply_to,
  created_at,
  updated_at
`

// GetByUserID returns ErrPreferencesNotFound when the user has no row.
// text[] columns are scanned through a native pgx connection.
func (r *PreferencesRepo) GetByUserID(ctx context.Context, userID string) (*model.Preferences, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrPreferencesNotFound
	}

	var prefs *model.Preferences
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		p, scanErr := scanPreferences(conn.QueryRow(ctx,
			`SELECT `+preferencesColumns+` FROM preferences WHERE user_id = $1`, userID))
		if scanErr != nil {
			return scanErr
		}
		prefs = p
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPreferencesNotFound
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return prefs, nil
}

// UpsertPreferencesRequest carries the writable preference fields.
type UpsertPreferencesRequest struct {
	UserID string
	Prefs  model.Preferences
}

// Upsert writes preferences for a user. It backs the admin CLI and tests;
// the service itself only reads preferences.
func (r *PreferencesRepo) Upsert(ctx context.Context, req UpsertPreferencesRequest) (*model.Preferences, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	p := req.Prefs
	cadence := p.Cadence
	if cadence <= 0 {
		cadence = 7
	}

	var out *model.Preferences
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		saved, scanErr := scanPreferences(conn.QueryRow(ctx, `
			INSERT INTO preferences (user_id, cadence, send_day, send_time, timezone, topics, tone,
			                         tone_custom, length, must_include, avoid, cta, sender_name, reply_to,
			                         created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
			ON CONFLICT (user_id) DO UPDATE SET
			  cadence = EXCLUDED.cadence,
			  send_day = EXCLUDED.send_day,
			  send_time = EXCLUDED.send_time,
			  timezone = EXCLUDED.timezone,
			  topics = EXCLUDED.topics,
			  tone = EXCLUDED.tone,
			  tone_custom = EXCLUDED.tone_custom,
			  length = EXCLUDED.length,
			  must_include = EXCLUDED.must_include,
			  avoid = EXCLUDED.avoid,
			  cta = EXCLUDED.cta,
			  sender_name = EXCLUDED.sender_name,
			  reply_to = EXCLUDED.reply_to,
			  updated_at = EXCLUDED.updated_at
			RETURNING `+preferencesColumns,
			userID, cadence, p.SendDay, p.SendTime, p.Timezone,
			nonNilStrings(p.Topics), p.Tone, p.ToneCustom, p.Length,
			nonNilStrings(p.MustInclude), nonNilStrings(p.Avoid),
			p.CTA, p.SenderName, p.ReplyTo, time.Now().UTC(),
		))
		if scanErr != nil {
			return scanErr
		}
		out = saved
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert preferences: %w", err)
	}
	return out, nil
}

func scanPreferences(row pgx.Row) (*model.Preferences, error) {
	p := &model.Preferences{}
	var createdAt, updatedAt time.Time
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Cadence,
		&p.SendDay,
		&p.SendTime,
		&p.Timezone,
		&p.Topics,
		&p.Tone,
		&p.ToneCustom,
		&p.Length,
		&p.MustInclude,
		&p.Avoid,
		&p.CTA,
		&p.SenderName,
		&p.ReplyTo,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	createdAt, updatedAt = createdAt.UTC(), updatedAt.UTC()
	p.CreatedAt, p.UpdatedAt = &createdAt, &updatedAt
	p.Topics = nonNilStrings(p.Topics)
	p.MustInclude = nonNilStrings(p.MustInclude)
	p.Avoid = nonNilStrings(p.Avoid)
	return p, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
