// Package sequence allocates gapless, per-(prefix, year) document numbers such
// as DEM-2024-000007.
package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"parcelflow/internal/db"
	"parcelflow/internal/domain"
	"parcelflow/internal/metrics"
)

const padWidth = 6

type Generator struct {
	DB      *db.DB
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (g Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Format renders a code as {prefix}-{year}-{value zero padded to six digits}.
func Format(prefix string, year int, value int64) string {
	return fmt.Sprintf("%s-%d-%0*d", prefix, year, padWidth, value)
}

func validate(prefix string, year int) error {
	if prefix == "" || strings.ContainsAny(prefix, " \t\r\n") {
		return fmt.Errorf("invalid sequence prefix %q", prefix)
	}
	if year < 1900 || year > 9999 {
		return fmt.Errorf("invalid sequence year %d", year)
	}
	return nil
}

// Next allocates outside any caller transaction; the single statement is atomic.
func (g Generator) Next(ctx context.Context, prefix string, year int) (string, error) {
	return g.NextTx(ctx, nil, prefix, year)
}

// NextTx allocates the next value on tx. When tx rolls back so does the
// allocation, which keeps numbering gapless for failed actions.
func (g Generator) NextTx(ctx context.Context, tx *sql.Tx, prefix string, year int) (string, error) {
	v, err := g.IncrementAndGet(ctx, tx, prefix, year)
	if err != nil {
		return "", err
	}
	return Format(prefix, year, v), nil
}

// IncrementAndGet creates the counter at zero when missing and bumps it in one
// upsert, returning the post-increment value.
func (g Generator) IncrementAndGet(ctx context.Context, tx *sql.Tx, prefix string, year int) (int64, error) {
	if err := validate(prefix, year); err != nil {
		return 0, err
	}
	now := g.now().UTC().Format(time.RFC3339)
	var v int64
	err := g.DB.On(tx).QueryRowContext(ctx, g.DB.Rebind(`INSERT INTO number_sequences(prefix,year,current_value,updated_at) VALUES (?,?,1,?)
ON CONFLICT(prefix,year) DO UPDATE SET current_value=number_sequences.current_value+1, updated_at=excluded.updated_at
RETURNING current_value`), prefix, year, now).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("allocate %s-%d: %w", prefix, year, err)
	}
	g.Metrics.ObserveAllocation(prefix)
	return v, nil
}

// GetOrCreate returns the counter for (prefix, year), creating it at zero.
func (g Generator) GetOrCreate(ctx context.Context, prefix string, year int) (domain.Counter, error) {
	if err := validate(prefix, year); err != nil {
		return domain.Counter{}, err
	}
	now := g.now().UTC().Format(time.RFC3339)
	if _, err := g.DB.ExecContext(ctx, g.DB.Rebind(`INSERT INTO number_sequences(prefix,year,current_value,updated_at) VALUES (?,?,0,?)
ON CONFLICT(prefix,year) DO NOTHING`), prefix, year, now); err != nil {
		return domain.Counter{}, err
	}
	c := domain.Counter{Prefix: prefix, Year: year}
	err := g.DB.QueryRowContext(ctx, g.DB.Rebind(`SELECT current_value, updated_at FROM number_sequences WHERE prefix=? AND year=?`), prefix, year).
		Scan(&c.CurrentValue, &c.UpdatedAt)
	return c, err
}

// Get reads the counter for (prefix, year) without creating it. A missing
// counter comes back with CurrentValue 0 and no UpdatedAt.
func (g Generator) Get(ctx context.Context, prefix string, year int) (domain.Counter, error) {
	if err := validate(prefix, year); err != nil {
		return domain.Counter{}, err
	}
	c := domain.Counter{Prefix: prefix, Year: year}
	err := g.DB.QueryRowContext(ctx, g.DB.Rebind(`SELECT current_value, updated_at FROM number_sequences WHERE prefix=? AND year=?`), prefix, year).
		Scan(&c.CurrentValue, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, nil
	}
	return c, err
}

// List returns all counters, newest year first.
func (g Generator) List(ctx context.Context) ([]domain.Counter, error) {
	rows, err := g.DB.QueryContext(ctx, `SELECT prefix, year, current_value, updated_at FROM number_sequences ORDER BY year DESC, prefix ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Counter
	for rows.Next() {
		var c domain.Counter
		if err := rows.Scan(&c.Prefix, &c.Year, &c.CurrentValue, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
