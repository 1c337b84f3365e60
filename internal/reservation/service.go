package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/status"
	"github.com/ahmednader515/alkian-sub001/internal/xlsx"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidStatus       = errors.New("invalid reservation status")
	ErrInvalidTransition   = errors.New("reservation status transition not allowed")
	ErrPastPreferredAt     = errors.New("preferred time must be in the future")
	ErrInvalidPhone        = errors.New("invalid phone number")
	ErrNotCancellable      = errors.New("reservation can no longer be cancelled")
)

const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusCompleted = "COMPLETED"
)

var Workflow = status.Machine{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCancelled: nil,
	StatusCompleted: nil,
}

type Service struct {
	db  *sql.DB
	now func() time.Time
}

type Reservation struct {
	ID           int64     `json:"id"`
	UserID       *int64    `json:"user_id"`
	FullName     string    `json:"full_name"`
	PhoneNumber  string    `json:"phone_number"`
	ServiceTitle string    `json:"service_title"`
	PreferredAt  time.Time `json:"preferred_at"`
	Notes        string    `json:"notes"`
	Status       string    `json:"status"`
	HandledBy    *int64    `json:"handled_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Input struct {
	FullName     string
	PhoneNumber  string
	ServiceTitle string
	PreferredAt  time.Time
	Notes        string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

const columns = `id, user_id, full_name, phone_number, service_title, preferred_at, notes, status, handled_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row scanner) (*Reservation, error) {
	var (
		r         Reservation
		userID    sql.NullInt64
		handledBy sql.NullInt64
	)
	if err := row.Scan(&r.ID, &userID, &r.FullName, &r.PhoneNumber, &r.ServiceTitle, &r.PreferredAt, &r.Notes, &r.Status, &handledBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		v := userID.Int64
		r.UserID = &v
	}
	if handledBy.Valid {
		v := handledBy.Int64
		r.HandledBy = &v
	}
	return &r, nil
}

// normalizeInput trims fields, normalizes the phone and requires a preferred
// time strictly after now.
func normalizeInput(in Input, now time.Time) (Input, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.ServiceTitle = strings.TrimSpace(in.ServiceTitle)
	in.Notes = strings.TrimSpace(in.Notes)
	phone, err := auth.NormalizePhone(in.PhoneNumber)
	if err != nil {
		return in, ErrInvalidPhone
	}
	in.PhoneNumber = phone
	if !in.PreferredAt.After(now) {
		return in, ErrPastPreferredAt
	}
	return in, nil
}

// Create books a reservation. user is nil for guests.
func (s *Service) Create(ctx context.Context, user *auth.User, in Input) (*Reservation, error) {
	in, err := normalizeInput(in, s.now())
	if err != nil {
		return nil, err
	}
	var userID interface{}
	if user != nil {
		userID = user.ID
	}
	r, err := scanReservation(s.db.QueryRowContext(ctx, `
		INSERT INTO reservations (user_id, full_name, phone_number, service_title, preferred_at, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+columns,
		userID, in.FullName, in.PhoneNumber, in.ServiceTitle, in.PreferredAt.UTC(), in.Notes, StatusPending))
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return r, nil
}

func (s *Service) ListMine(ctx context.Context, user *auth.User) ([]Reservation, error) {
	return s.query(ctx, `WHERE user_id = $1`, user.ID)
}

// Cancel lets the owner withdraw a reservation that is still PENDING.
func (s *Service) Cancel(ctx context.Context, user *auth.User, id int64) (*Reservation, error) {
	r, err := scanReservation(s.db.QueryRowContext(ctx, `
		UPDATE reservations
		SET status = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = $4
		RETURNING `+columns,
		id, user.ID, StatusCancelled, StatusPending))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cancel reservation: %w", err)
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM reservations WHERE id = $1 AND user_id = $2`, id, user.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	return nil, ErrNotCancellable
}

func (s *Service) List(ctx context.Context, rawStatus string) ([]Reservation, error) {
	where, args, err := statusFilter(rawStatus)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, where, args...)
}

func statusFilter(rawStatus string) (string, []interface{}, error) {
	if strings.TrimSpace(rawStatus) == "" {
		return "", nil, nil
	}
	st := status.Normalize(rawStatus)
	if !Workflow.Valid(st) {
		return "", nil, ErrInvalidStatus
	}
	return `WHERE status = $1`, []interface{}{st}, nil
}

func (s *Service) UpdateStatus(ctx context.Context, actor *auth.User, id int64, rawStatus string) (*Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM reservations WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("lock reservation: %w", err)
	}

	next, err := Workflow.Check(current, rawStatus)
	if err != nil {
		if errors.Is(err, status.ErrUnknown) {
			return nil, ErrInvalidStatus
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status.Normalize(rawStatus))
	}

	r, err := scanReservation(tx.QueryRowContext(ctx, `
		UPDATE reservations
		SET status = $2, handled_by = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+columns,
		id, next, actor.ID))
	if err != nil {
		return nil, fmt.Errorf("update reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reservation status: %w", err)
	}
	return r, nil
}

// ExportExcel renders the reservations matching rawStatus as an xlsx sheet.
func (s *Service) ExportExcel(ctx context.Context, rawStatus string) ([]byte, error) {
	items, err := s.List(ctx, rawStatus)
	if err != nil {
		return nil, err
	}
	return xlsx.Build([]string{"id", "full_name", "phone_number", "service_title", "preferred_at", "status", "notes", "created_at"}, exportRows(items))
}

func exportRows(items []Reservation) [][]any {
	rows := make([][]any, 0, len(items))
	for _, r := range items {
		rows = append(rows, []any{
			r.ID, r.FullName, r.PhoneNumber, r.ServiceTitle,
			r.PreferredAt.UTC().Format(time.RFC3339), r.Status, r.Notes,
			r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func (s *Service) query(ctx context.Context, where string, args ...interface{}) ([]Reservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+`
		FROM reservations
		`+where+`
		ORDER BY preferred_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	out := make([]Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return out, nil
}
