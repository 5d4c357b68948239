package repo

import (
	"context"
	"database/sql"
	"fmt"

	"parcelflow/internal/domain"
)

func (r Repo) InsertProperty(ctx context.Context, tx *sql.Tx, p domain.Property) error {
	var area any
	if p.AreaSqM > 0 {
		area = p.AreaSqM
	}
	_, err := r.q(tx).ExecContext(ctx, r.DB.Rebind(`INSERT INTO properties(id,parcel_no,scheme,address,area_sq_m,created_at) VALUES (?,?,?,?,?,?)`),
		p.ID, p.ParcelNo, nullable(p.Scheme), nullable(p.Address), area, p.CreatedAt)
	return err
}

func scanProperty(row rowScanner) (domain.Property, error) {
	var p domain.Property
	var scheme, address sql.NullString
	var area sql.NullFloat64
	err := row.Scan(&p.ID, &p.ParcelNo, &scheme, &address, &area, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Scheme = scheme.String
	p.Address = address.String
	p.AreaSqM = area.Float64
	return p, err
}

func (r Repo) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	return r.GetPropertyTx(ctx, nil, id)
}

func (r Repo) GetPropertyTx(ctx context.Context, tx *sql.Tx, id string) (domain.Property, error) {
	p, err := scanProperty(r.q(tx).QueryRowContext(ctx, r.DB.Rebind(`SELECT id,parcel_no,scheme,address,area_sq_m,created_at FROM properties WHERE id=?`), id))
	if err == ErrNotFound {
		return p, fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (r Repo) ListProperties(ctx context.Context, scheme string) ([]domain.Property, error) {
	query := `SELECT id,parcel_no,scheme,address,area_sq_m,created_at FROM properties`
	var args []any
	if scheme != "" {
		query += ` WHERE scheme=?`
		args = append(args, scheme)
	}
	query += ` ORDER BY parcel_no ASC`
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertParty(ctx context.Context, tx *sql.Tx, p domain.Party) error {
	_, err := r.q(tx).ExecContext(ctx, r.DB.Rebind(`INSERT INTO parties(id,name,cnic,phone,created_at) VALUES (?,?,?,?,?)`),
		p.ID, p.Name, nullable(p.CNIC), nullable(p.Phone), p.CreatedAt)
	return err
}

func scanParty(row rowScanner) (domain.Party, error) {
	var p domain.Party
	var cnic, phone sql.NullString
	err := row.Scan(&p.ID, &p.Name, &cnic, &phone, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.CNIC = cnic.String
	p.Phone = phone.String
	return p, err
}

func (r Repo) GetParty(ctx context.Context, id string) (domain.Party, error) {
	return r.GetPartyTx(ctx, nil, id)
}

func (r Repo) GetPartyTx(ctx context.Context, tx *sql.Tx, id string) (domain.Party, error) {
	p, err := scanParty(r.q(tx).QueryRowContext(ctx, r.DB.Rebind(`SELECT id,name,cnic,phone,created_at FROM parties WHERE id=?`), id))
	if err == ErrNotFound {
		return p, fmt.Errorf("party %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (r Repo) ListParties(ctx context.Context) ([]domain.Party, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,cnic,phone,created_at FROM parties ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
