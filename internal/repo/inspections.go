package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"parcelflow/internal/domain"
)

const inspectionColumns = `id,case_id,subject_id,type,scheduled_at,inspected_by,status,result_json,photos_json,remarks,inspected_at,created_at`

func scanInspection(row rowScanner) (domain.Inspection, error) {
	var in domain.Inspection
	var inspectedBy, result, photos, remarks, inspectedAt sql.NullString
	err := row.Scan(&in.ID, &in.CaseID, &in.SubjectID, &in.Type, &in.ScheduledAt, &inspectedBy, &in.Status,
		&result, &photos, &remarks, &inspectedAt, &in.CreatedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.InspectedBy = inspectedBy.String
	in.Remarks = remarks.String
	in.InspectedAt = inspectedAt.String
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &in.Result); err != nil {
			return in, fmt.Errorf("inspection %s result: %w", in.ID, err)
		}
	}
	if photos.Valid && photos.String != "" {
		if err := json.Unmarshal([]byte(photos.String), &in.Photos); err != nil {
			return in, fmt.Errorf("inspection %s photos: %w", in.ID, err)
		}
	}
	return in, nil
}

func (r Repo) InsertInspection(ctx context.Context, tx *sql.Tx, in domain.Inspection) error {
	result, err := nullableJSON(in.Result, len(in.Result) == 0)
	if err != nil {
		return err
	}
	photos, err := nullableJSON(in.Photos, len(in.Photos) == 0)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, r.DB.Rebind(`INSERT INTO inspections(`+inspectionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
		in.ID, in.CaseID, in.SubjectID, in.Type, in.ScheduledAt, nullable(in.InspectedBy), in.Status,
		result, photos, nullable(in.Remarks), nullable(in.InspectedAt), in.CreatedAt)
	return err
}

// CompleteInspection records the outcome of a scheduled visit. Already completed
// inspections are left untouched and reported as ErrConflict.
func (r Repo) CompleteInspection(ctx context.Context, tx *sql.Tx, in domain.Inspection) error {
	result, err := nullableJSON(in.Result, len(in.Result) == 0)
	if err != nil {
		return err
	}
	photos, err := nullableJSON(in.Photos, len(in.Photos) == 0)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, r.DB.Rebind(`UPDATE inspections SET status=?, result_json=?, photos_json=?, remarks=?, inspected_by=?, inspected_at=?
WHERE id=? AND status<>?`),
		domain.InspectionCompleted, result, photos, nullable(in.Remarks), nullable(in.InspectedBy), in.InspectedAt,
		in.ID, domain.InspectionCompleted)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) GetInspection(ctx context.Context, id string) (domain.Inspection, error) {
	return r.GetInspectionTx(ctx, nil, id)
}

func (r Repo) GetInspectionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Inspection, error) {
	in, err := scanInspection(r.q(tx).QueryRowContext(ctx, r.DB.Rebind(`SELECT `+inspectionColumns+` FROM inspections WHERE id=?`), id))
	if err == ErrNotFound {
		return in, fmt.Errorf("inspection %s: %w", id, ErrNotFound)
	}
	return in, err
}

// ListInspections returns every attempt for a case, oldest first.
func (r Repo) ListInspections(ctx context.Context, caseID string) ([]domain.Inspection, error) {
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`SELECT `+inspectionColumns+` FROM inspections WHERE case_id=? ORDER BY created_at ASC, id ASC`), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Inspection
	for rows.Next() {
		in, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}
