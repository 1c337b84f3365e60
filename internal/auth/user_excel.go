package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ahmednader515/alkian-sub001/internal/xlsx"
)

type UserImportRowError struct {
	Row         int    `json:"row"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Error       string `json:"error"`
}

type UserImportReport struct {
	TotalRows   int                  `json:"total_rows"`
	SuccessRows int                  `json:"success_rows"`
	FailedRows  int                  `json:"failed_rows"`
	Errors      []UserImportRowError `json:"errors"`
}

var userExportHeaders = []string{"id", "phone_number", "full_name", "role", "is_active", "created_at"}

func (s *Service) ExportUsersExcel(ctx context.Context, role, q string) ([]byte, error) {
	items, err := s.ListUsers(ctx, role, q, 10000, 0)
	if err != nil {
		return nil, err
	}
	return xlsx.Build(userExportHeaders, userRows(items))
}

func userRows(items []User) [][]any {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, []any{it.ID, it.PhoneNumber, it.FullName, it.Role, it.IsActive, it.CreatedAt})
	}
	return rows
}

// ImportUsersExcel creates student and teacher accounts from the first sheet.
// Required columns: phone_number, full_name, role, password. Existing phone
// numbers are reported as row errors and left untouched.
func (s *Service) ImportUsersExcel(ctx context.Context, data []byte) (*UserImportReport, error) {
	rows, err := xlsx.ReadRows(data)
	if err != nil {
		return nil, err
	}
	header, err := importHeader(rows)
	if err != nil {
		return nil, err
	}

	report := &UserImportReport{Errors: make([]UserImportRowError, 0)}
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if isBlankRow(row) {
			continue
		}
		report.TotalRows++

		phone := get("phone_number")
		in := AccountInput{PhoneNumber: phone, FullName: get("full_name"), Password: get("password")}
		fail := func(msg string) {
			report.FailedRows++
			report.Errors = append(report.Errors, UserImportRowError{Row: i + 1, PhoneNumber: phone, Error: msg})
		}

		var created *User
		switch strings.ToLower(get("role")) {
		case RoleStudent:
			created, err = s.Register(ctx, in)
		case RoleTeacher:
			created, err = s.CreateTeacher(ctx, in)
		default:
			fail("الدور يجب أن يكون student أو teacher")
			continue
		}
		if err != nil {
			fail(importErrorMessage(err))
			continue
		}

		if raw := get("is_active"); raw != "" && !parseBoolLoose(raw) {
			if err := s.SetUserActive(ctx, created.ID, false); err != nil {
				fail(importErrorMessage(err))
				continue
			}
		}
		report.SuccessRows++
	}
	return report, nil
}

func importHeader(rows [][]string) (map[string]int, error) {
	if len(rows) < 2 {
		return nil, errors.New("no data rows found")
	}
	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"phone_number", "full_name", "role", "password"} {
		if _, ok := header[col]; !ok {
			return nil, errors.New("missing required column: " + col)
		}
	}
	return header, nil
}

func importErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrPhoneTaken):
		return "رقم الهاتف مسجل بالفعل"
	case errors.Is(err, ErrInvalidPhone):
		return "رقم هاتف غير صالح"
	case errors.Is(err, ErrWeakPassword):
		return "كلمة المرور يجب ألا تقل عن 8 أحرف"
	default:
		return err.Error()
	}
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseBoolLoose(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return true
	}
	switch v {
	case "1", "true", "yes", "نعم", "مفعل":
		return true
	case "0", "false", "no", "لا", "معطل":
		return false
	default:
		if n, err := strconv.Atoi(v); err == nil {
			return n != 0
		}
		return true
	}
}
