package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"parcelflow/internal/domain"
	"parcelflow/internal/engine"
	"parcelflow/internal/repo"
)

type caseOutput struct {
	Body CaseResponse `json:"body"`
}

type caseIDInput struct {
	ID string `path:"id"`
}

func (o *caseOutput) from(e engine.Engine, c domain.Case) *caseOutput {
	o.Body = caseResponse(c, e.AllowedActions(c))
	return o
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "cases-create",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open a case",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*caseOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		c, err := e.CreateCase(ctx, engine.CaseCreateOptions{
			CaseType:  input.Body.CaseType,
			SubjectID: input.Body.SubjectID,
			PartyID:   input.Body.PartyID,
			Details:   input.Body.Details,
			Checklist: input.Body.Checklist,
			ActorID:   actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return new(caseOutput).from(e, c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cases-list",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		CaseType  string `query:"case_type"`
		Status    string `query:"status"`
		SubjectID string `query:"subject_id"`
		PartyID   string `query:"party_id"`
		From      string `query:"from" doc:"RFC3339 lower bound on created_at"`
		To        string `query:"to" doc:"RFC3339 exclusive upper bound on created_at"`
		Limit     int    `query:"limit"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedCases `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
		}
		from, err := normalizeTime(input.From)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "from must be RFC3339", nil)
		}
		to, err := normalizeTime(input.To)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to must be RFC3339", nil)
		}
		items, err := e.ListCases(ctx, repo.CaseFilters{
			CaseType:        input.CaseType,
			Status:          input.Status,
			SubjectID:       input.SubjectID,
			PartyID:         input.PartyID,
			CreatedFrom:     from,
			CreatedTo:       to,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(items) > limit {
			last := items[limit-1]
			next = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		out := make([]CaseResponse, 0, len(items))
		for _, c := range items {
			out = append(out, caseResponse(c, e.AllowedActions(c)))
		}
		return &struct {
			Body paginatedCases `json:"body"`
		}{Body: paginatedCases{Items: out, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cases-get",
		Method:      http.MethodGet,
		Path:        "/cases/{id}",
		Summary:     "Get a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *caseIDInput) (*caseOutput, error) {
		c, err := e.GetCase(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return new(caseOutput).from(e, c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cases-by-number",
		Method:      http.MethodGet,
		Path:        "/cases/by-number/{number}",
		Summary:     "Find a case by request or certificate number",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Number string `path:"number"`
	}) (*caseOutput, error) {
		c, err := e.Repo.GetCaseByNumber(ctx, strings.TrimSpace(input.Number))
		if err != nil {
			return nil, handleError(err)
		}
		return new(caseOutput).from(e, c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cases-allowed-actions",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/allowed-actions",
		Summary:     "List actions available from the current status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *caseIDInput) (*struct {
		Body AllowedActionsResponse `json:"body"`
	}, error) {
		c, err := e.GetCase(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AllowedActionsResponse `json:"body"`
		}{Body: AllowedActionsResponse{CaseID: c.ID, Status: c.Status, Actions: nonNilSlice(e.AllowedActions(c))}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cases-inspections",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/inspections",
		Summary:     "List inspections of a case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *caseIDInput) (*struct {
		Body struct {
			Items []domain.Inspection `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := e.ListInspections(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []domain.Inspection `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = nonNilSlice(items)
		return out, nil
	})
}

// normalizeTime accepts RFC3339 and returns it in the UTC form stored in the
// database so string comparison orders correctly.
func normalizeTime(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(time.RFC3339), nil
}
