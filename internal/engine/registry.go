package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"parcelflow/internal/domain"
	"parcelflow/internal/events"
)

type PropertyCreateOptions struct {
	ID       string
	ParcelNo string
	Scheme   string
	Address  string
	AreaSqM  float64
	ActorID  string
}

// CreateProperty registers a parcel cases can be opened against.
func (e Engine) CreateProperty(ctx context.Context, opts PropertyCreateOptions) (domain.Property, error) {
	if strings.TrimSpace(opts.ParcelNo) == "" {
		return domain.Property{}, invalid("parcel_no", "is required")
	}
	if opts.AreaSqM < 0 {
		return domain.Property{}, invalid("area_sq_m", "must not be negative")
	}
	p := domain.Property{
		ID:        opts.ID,
		ParcelNo:  strings.TrimSpace(opts.ParcelNo),
		Scheme:    opts.Scheme,
		Address:   opts.Address,
		AreaSqM:   opts.AreaSqM,
		CreatedAt: e.timestamp(),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Property{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProperty(ctx, tx, p); err != nil {
		return domain.Property{}, fmt.Errorf("insert property: %w", err)
	}
	if err := e.events().Append(ctx, tx, "property.created", "", "property", p.ID, opts.ActorID, events.EventPayload{"parcel_no": p.ParcelNo}); err != nil {
		return domain.Property{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Property{}, err
	}
	return p, nil
}

type PartyCreateOptions struct {
	ID      string
	Name    string
	CNIC    string
	Phone   string
	ActorID string
}

func (e Engine) CreateParty(ctx context.Context, opts PartyCreateOptions) (domain.Party, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Party{}, invalid("name", "is required")
	}
	p := domain.Party{
		ID:        opts.ID,
		Name:      strings.TrimSpace(opts.Name),
		CNIC:      opts.CNIC,
		Phone:     opts.Phone,
		CreatedAt: e.timestamp(),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Party{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertParty(ctx, tx, p); err != nil {
		return domain.Party{}, fmt.Errorf("insert party: %w", err)
	}
	if err := e.events().Append(ctx, tx, "party.created", "", "party", p.ID, opts.ActorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Party{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Party{}, err
	}
	return p, nil
}
