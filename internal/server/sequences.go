package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"parcelflow/internal/domain"
	"parcelflow/internal/engine"
	"parcelflow/internal/logging"
	"parcelflow/internal/repo"
)

func registerSequences(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sequences-list",
		Method:      http.MethodGet,
		Path:        "/sequences",
		Summary:     "List number counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []domain.Counter `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := e.Counters(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Counter `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNilSlice(items)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sequences-get",
		Method:      http.MethodGet,
		Path:        "/sequences/{prefix}/{year}",
		Summary:     "Get a counter, creating it at zero",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Prefix string `path:"prefix"`
		Year   int    `path:"year"`
	}) (*struct {
		Body domain.Counter `json:"body"`
	}, error) {
		c, err := e.Counter(ctx, input.Prefix, input.Year)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Counter `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sequences-next",
		Method:      http.MethodPost,
		Path:        "/sequences/{prefix}/next",
		Summary:     "Allocate the next number for a prefix",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Prefix string `path:"prefix"`
		Year   int    `query:"year" doc:"defaults to the current year"`
	}) (*struct {
		Body SequenceCodeResponse `json:"body"`
	}, error) {
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		code, err := e.NextNumber(ctx, input.Prefix, input.Year)
		if err != nil {
			return nil, handleError(err)
		}
		logging.OrNop(e.Logger).Info("number allocated", zap.String("code", code), zap.String("actor_id", actor))
		year := input.Year
		if year == 0 {
			year = yearOf(code)
		}
		return &struct {
			Body SequenceCodeResponse `json:"body"`
		}{Body: SequenceCodeResponse{Prefix: input.Prefix, Year: year, Code: code}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "events-list",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		CaseType   string `query:"case_type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			v, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || v <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			cursor = v
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursor, repo.EventFilters{
			Type:       input.Type,
			CaseType:   input.CaseType,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(items) > limit {
			next = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: paginatedEvents{Items: out, NextCursor: next}}, nil
	})
}

// yearOf extracts the year from a {prefix}-{year}-{value} code.
func yearOf(code string) int {
	parts := strings.Split(code, "-")
	if len(parts) < 3 {
		return 0
	}
	y, _ := strconv.Atoi(parts[len(parts)-2])
	return y
}
