package complaint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/status"
)

var (
	ErrComplaintNotFound = errors.New("complaint not found")
	ErrInvalidStatus     = errors.New("invalid complaint status")
	ErrInvalidTransition = errors.New("complaint status transition not allowed")
)

const (
	StatusPending  = "PENDING"
	StatusReviewed = "REVIEWED"
	StatusResolved = "RESOLVED"
)

// Workflow lists the allowed status moves. RESOLVED is terminal.
var Workflow = status.Machine{
	StatusPending:  {StatusReviewed, StatusResolved},
	StatusReviewed: {StatusResolved},
	StatusResolved: nil,
}

type Service struct {
	db *sql.DB
}

type Complaint struct {
	ID           int64     `json:"id"`
	StudentID    int64     `json:"student_id"`
	StudentName  string    `json:"student_name,omitempty"`
	StudentPhone string    `json:"student_phone,omitempty"`
	Subject      string    `json:"subject"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	Response     *string   `json:"response"`
	ReviewedBy   *int64    `json:"reviewed_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Input struct {
	Subject     string
	Description string
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const columns = `c.id, c.student_id, u.full_name, u.phone_number, c.subject, c.description, c.status, c.response, c.reviewed_by, c.created_at, c.updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanComplaint(row scanner) (*Complaint, error) {
	var (
		c          Complaint
		response   sql.NullString
		reviewedBy sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.StudentID, &c.StudentName, &c.StudentPhone, &c.Subject, &c.Description, &c.Status, &response, &reviewedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if response.Valid {
		v := response.String
		c.Response = &v
	}
	if reviewedBy.Valid {
		v := reviewedBy.Int64
		c.ReviewedBy = &v
	}
	return &c, nil
}

func (s *Service) Create(ctx context.Context, student *auth.User, in Input) (*Complaint, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO complaints (student_id, subject, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id
	`, student.ID, strings.TrimSpace(in.Subject), strings.TrimSpace(in.Description), StatusPending).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert complaint: %w", err)
	}
	return s.get(ctx, id)
}

func (s *Service) ListMine(ctx context.Context, student *auth.User) ([]Complaint, error) {
	return s.query(ctx, `WHERE c.student_id = $1`, student.ID)
}

// List returns every complaint, optionally filtered by status.
func (s *Service) List(ctx context.Context, rawStatus string) ([]Complaint, error) {
	if strings.TrimSpace(rawStatus) == "" {
		return s.query(ctx, "")
	}
	st := status.Normalize(rawStatus)
	if !Workflow.Valid(st) {
		return nil, ErrInvalidStatus
	}
	return s.query(ctx, `WHERE c.status = $1`, st)
}

// UpdateStatus moves a complaint along Workflow. A nil response keeps the
// stored one.
func (s *Service) UpdateStatus(ctx context.Context, actor *auth.User, id int64, rawStatus string, response *string) (*Complaint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM complaints WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrComplaintNotFound
		}
		return nil, fmt.Errorf("lock complaint: %w", err)
	}

	next, err := nextStatus(current, rawStatus, response != nil)
	if err != nil {
		return nil, err
	}

	var resp interface{}
	if response != nil {
		resp = strings.TrimSpace(*response)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE complaints
		SET status = $2,
			response = COALESCE($3, response),
			reviewed_by = $4,
			updated_at = now()
		WHERE id = $1
	`, id, next, resp, actor.ID); err != nil {
		return nil, fmt.Errorf("update complaint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit complaint status: %w", err)
	}
	return s.get(ctx, id)
}

// nextStatus resolves the status an update moves to. Re-sending the current
// status of an open complaint together with a response only edits the response.
func nextStatus(current, rawStatus string, hasResponse bool) (string, error) {
	next, err := Workflow.Check(current, rawStatus)
	if err == nil {
		return next, nil
	}
	if errors.Is(err, status.ErrUnknown) {
		return "", ErrInvalidStatus
	}
	to := status.Normalize(rawStatus)
	if hasResponse && to == current && !Workflow.Terminal(current) {
		return current, nil
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

func (s *Service) get(ctx context.Context, id int64) (*Complaint, error) {
	c, err := scanComplaint(s.db.QueryRowContext(ctx, `
		SELECT `+columns+`
		FROM complaints c
		JOIN users u ON u.id = c.student_id
		WHERE c.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrComplaintNotFound
		}
		return nil, fmt.Errorf("get complaint: %w", err)
	}
	return c, nil
}

func (s *Service) query(ctx context.Context, where string, args ...interface{}) ([]Complaint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+`
		FROM complaints c
		JOIN users u ON u.id = c.student_id
		`+where+`
		ORDER BY c.created_at DESC, c.id DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list complaints: %w", err)
	}
	defer rows.Close()

	out := make([]Complaint, 0)
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan complaint: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate complaints: %w", err)
	}
	return out, nil
}
