package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"parcelflow/internal/domain"
	"parcelflow/internal/engine"
)

func registerRegistry(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "properties-create",
		Method:        http.MethodPost,
		Path:          "/properties",
		Summary:       "Register a property",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreatePropertyRequest `json:"body"`
	}) (*struct {
		Body domain.Property `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		p, err := e.CreateProperty(ctx, engine.PropertyCreateOptions{
			ID:       input.Body.ID,
			ParcelNo: input.Body.ParcelNo,
			Scheme:   input.Body.Scheme,
			Address:  input.Body.Address,
			AreaSqM:  input.Body.AreaSqM,
			ActorID:  actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Property `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "properties-list",
		Method:      http.MethodGet,
		Path:        "/properties",
		Summary:     "List properties",
	}, func(ctx context.Context, input *struct {
		Scheme string `query:"scheme"`
	}) (*struct {
		Body struct {
			Items []domain.Property `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := e.Repo.ListProperties(ctx, input.Scheme)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Property `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNilSlice(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "properties-get",
		Method:      http.MethodGet,
		Path:        "/properties/{id}",
		Summary:     "Get a property",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Property `json:"body"`
	}, error) {
		p, err := e.Repo.GetProperty(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Property `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "parties-create",
		Method:        http.MethodPost,
		Path:          "/parties",
		Summary:       "Register a party",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreatePartyRequest `json:"body"`
	}) (*struct {
		Body domain.Party `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		p, err := e.CreateParty(ctx, engine.PartyCreateOptions{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			CNIC:    input.Body.CNIC,
			Phone:   input.Body.Phone,
			ActorID: actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Party `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "parties-list",
		Method:      http.MethodGet,
		Path:        "/parties",
		Summary:     "List parties",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []domain.Party `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := e.Repo.ListParties(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Party `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNilSlice(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "parties-get",
		Method:      http.MethodGet,
		Path:        "/parties/{id}",
		Summary:     "Get a party",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Party `json:"body"`
	}, error) {
		p, err := e.Repo.GetParty(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Party `json:"body"`
		}{Body: p}, nil
	})
}
