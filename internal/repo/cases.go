package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"parcelflow/internal/domain"
)

const caseColumns = `id,case_type,request_no,certificate_no,status,subject_id,party_id,details_json,checklist_json,inspection_id,pdf_path,hash_sha256,qr_code,issued_at,issued_by,rejection_reason,closure_reason,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (domain.Case, error) {
	var c domain.Case
	var certNo, details, checklist, inspectionID, pdfPath, hash, qr, issuedAt, issuedBy, rejection, closure sql.NullString
	err := row.Scan(&c.ID, &c.CaseType, &c.RequestNo, &certNo, &c.Status, &c.SubjectID, &c.PartyID,
		&details, &checklist, &inspectionID, &pdfPath, &hash, &qr, &issuedAt, &issuedBy, &rejection, &closure,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.CertificateNo = certNo.String
	c.InspectionID = inspectionID.String
	c.PDFPath = pdfPath.String
	c.HashSHA256 = hash.String
	c.QRCode = qr.String
	c.IssuedAt = issuedAt.String
	c.IssuedBy = issuedBy.String
	c.RejectionReason = rejection.String
	c.ClosureReason = closure.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &c.Details); err != nil {
			return c, fmt.Errorf("case %s details: %w", c.ID, err)
		}
	}
	if checklist.Valid && checklist.String != "" {
		if err := json.Unmarshal([]byte(checklist.String), &c.Checklist); err != nil {
			return c, fmt.Errorf("case %s checklist: %w", c.ID, err)
		}
	}
	return c, nil
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	details, err := nullableJSON(c.Details, len(c.Details) == 0)
	if err != nil {
		return err
	}
	checklist, err := nullableJSON(c.Checklist, c.Checklist == nil)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, r.DB.Rebind(`INSERT INTO cases(`+caseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		c.ID, c.CaseType, c.RequestNo, nullable(c.CertificateNo), c.Status, c.SubjectID, c.PartyID,
		details, checklist, nullable(c.InspectionID), nullable(c.PDFPath), nullable(c.HashSHA256), nullable(c.QRCode),
		nullable(c.IssuedAt), nullable(c.IssuedBy), nullable(c.RejectionReason), nullable(c.ClosureReason),
		c.CreatedAt, c.UpdatedAt)
	return err
}

// UpdateCaseIfStatus writes every mutable column of c, but only while the stored
// status still equals expectedStatus. Zero rows affected yields ErrConflict.
func (r Repo) UpdateCaseIfStatus(ctx context.Context, tx *sql.Tx, c domain.Case, expectedStatus string) error {
	checklist, err := nullableJSON(c.Checklist, c.Checklist == nil)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, r.DB.Rebind(`UPDATE cases SET status=?, checklist_json=?, inspection_id=?, certificate_no=?, pdf_path=?, hash_sha256=?, qr_code=?, issued_at=?, issued_by=?, rejection_reason=?, closure_reason=?, updated_at=?
WHERE id=? AND status=?`),
		c.Status, checklist, nullable(c.InspectionID), nullable(c.CertificateNo), nullable(c.PDFPath), nullable(c.HashSHA256),
		nullable(c.QRCode), nullable(c.IssuedAt), nullable(c.IssuedBy), nullable(c.RejectionReason), nullable(c.ClosureReason),
		c.UpdatedAt, c.ID, expectedStatus)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return r.GetCaseTx(ctx, nil, id)
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	c, err := scanCase(r.q(tx).QueryRowContext(ctx, r.DB.Rebind(`SELECT `+caseColumns+` FROM cases WHERE id=?`), id))
	if err == ErrNotFound {
		return c, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	return c, err
}

// GetCaseByHash finds the issued case whose document hashes to hash.
func (r Repo) GetCaseByHash(ctx context.Context, hash string) (domain.Case, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx, r.DB.Rebind(`SELECT `+caseColumns+` FROM cases WHERE hash_sha256=?`), strings.ToLower(hash)))
	if err == ErrNotFound {
		return c, fmt.Errorf("document %s: %w", hash, ErrNotFound)
	}
	return c, err
}

// GetCaseByNumber matches either the request number or the certificate number.
func (r Repo) GetCaseByNumber(ctx context.Context, number string) (domain.Case, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx, r.DB.Rebind(`SELECT `+caseColumns+` FROM cases WHERE request_no=? OR certificate_no=?`), number, number))
	if err == ErrNotFound {
		return c, fmt.Errorf("case number %s: %w", number, ErrNotFound)
	}
	return c, err
}

type CaseFilters struct {
	CaseType        string
	Status          string
	SubjectID       string
	PartyID         string
	CreatedFrom     string
	CreatedTo       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.CaseType != "" {
		clauses = append(clauses, "case_type=?")
		args = append(args, f.CaseType)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.SubjectID != "" {
		clauses = append(clauses, "subject_id=?")
		args = append(args, f.SubjectID)
	}
	if f.PartyID != "" {
		clauses = append(clauses, "party_id=?")
		args = append(args, f.PartyID)
	}
	if f.CreatedFrom != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.CreatedFrom)
	}
	if f.CreatedTo != "" {
		clauses = append(clauses, "created_at<?")
		args = append(args, f.CreatedTo)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + caseColumns + ` FROM cases WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountCasesByStatus groups cases of one type (or all types when empty) by status.
func (r Repo) CountCasesByStatus(ctx context.Context, caseType string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM cases`
	var args []any
	if caseType != "" {
		query += ` WHERE case_type=?`
		args = append(args, caseType)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
