package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the DDL for the referrals table. Execute it via
// [PostgresStore.Migrate] or apply it during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS referrals (
    id                     UUID PRIMARY KEY,
    confirmation_code      TEXT NOT NULL,
    user_name              TEXT NOT NULL,
    location               TEXT NOT NULL,
    concern                TEXT NOT NULL,
    specialist_type        TEXT NOT NULL,
    preferred_psychologist TEXT NOT NULL,
    appointment_date       TEXT NOT NULL,
    appointment_time       TEXT NOT NULL,
    recorded_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_referrals_recorded_at ON referrals(recorded_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [ReferralStore] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

var _ ReferralStore = (*PostgresStore)(nil)

// NewPostgresStore returns a store using db. Call [PostgresStore.Migrate]
// before the first Record.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the referrals table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("directory: migrate: %w", err)
	}
	return nil
}

// Record implements [ReferralStore].
func (s *PostgresStore) Record(ctx context.Context, r Referral) (Confirmation, error) {
	if err := r.Validate(); err != nil {
		return Confirmation{}, err
	}
	c := newConfirmation(time.Now())

	const query = `
		INSERT INTO referrals (
			id, confirmation_code, user_name, location, concern,
			specialist_type, preferred_psychologist, appointment_date, appointment_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING recorded_at`

	err := s.db.QueryRow(ctx, query,
		c.ID, c.Code, r.UserName, r.Location, r.Concern,
		r.SpecialistType, r.PreferredPsychologist, r.AppointmentDate, r.AppointmentTime,
	).Scan(&c.RecordedAt)
	if err != nil {
		return Confirmation{}, fmt.Errorf("directory: record referral: %w", err)
	}
	return c, nil
}

// List implements [ReferralStore].
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	const query = `
		SELECT id, confirmation_code, user_name, location, concern,
		       specialist_type, preferred_psychologist, appointment_date, appointment_time,
		       recorded_at
		FROM referrals
		ORDER BY recorded_at, id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("directory: list referrals: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.Code, &rec.UserName, &rec.Location, &rec.Concern,
			&rec.SpecialistType, &rec.PreferredPsychologist, &rec.AppointmentDate, &rec.AppointmentTime,
			&rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("directory: scan referral: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: list referrals: %w", err)
	}
	return out, nil
}
