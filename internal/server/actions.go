package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"parcelflow/internal/domain"
	"parcelflow/internal/engine"
)

var actionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

// registerAction wires POST /cases/{id}/{path} to run. Every action answers
// with the updated case and its next allowed actions.
func registerAction[I any](api huma.API, e engine.Engine, id, path, summary string, run func(ctx context.Context, actor string, in *I) (domain.Case, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        "/cases/{id}/" + path,
		Summary:     summary,
		Errors:      actionErrors,
	}, func(ctx context.Context, input *I) (*caseOutput, error) {
		actor, aerr := actorIDFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		c, err := run(ctx, actor, input)
		if err != nil {
			return nil, handleError(err)
		}
		return new(caseOutput).from(e, c), nil
	})
}

type checklistInput struct {
	ID   string           `path:"id"`
	Body ChecklistRequest `json:"body"`
}

type remarksInput struct {
	ID   string          `path:"id"`
	Body *RemarksRequest `json:"body,omitempty" required:"false"`
}

type reasonInput struct {
	ID   string        `path:"id"`
	Body ReasonRequest `json:"body"`
}

type scheduleInput struct {
	ID   string                     `path:"id"`
	Body *ScheduleInspectionRequest `json:"body,omitempty" required:"false"`
}

type completeInput struct {
	ID   string                    `path:"id"`
	Body CompleteInspectionRequest `json:"body"`
}

func registerCaseActions(api huma.API, e engine.Engine) {
	registerAction(api, e, "cases-checklist", "checklist", "Replace the document checklist",
		func(ctx context.Context, actor string, in *checklistInput) (domain.Case, error) {
			return e.UpdateChecklist(ctx, in.ID, in.Body.Checklist, actor)
		})

	registerAction(api, e, "cases-serviceability", "serviceability", "Record a serviceability check",
		func(ctx context.Context, actor string, in *remarksInput) (domain.Case, error) {
			var remarks string
			if in.Body != nil {
				remarks = in.Body.Remarks
			}
			return e.CheckServiceability(ctx, in.ID, remarks, actor)
		})

	registerAction(api, e, "cases-inspections-schedule", "inspections", "Schedule a site inspection",
		func(ctx context.Context, actor string, in *scheduleInput) (domain.Case, error) {
			opts := engine.ScheduleOptions{ActorID: actor}
			if in.Body != nil {
				opts.InspectorID = in.Body.InspectorID
				opts.Checklist = in.Body.Checklist
				if s := strings.TrimSpace(in.Body.ScheduledAt); s != "" {
					t, err := time.Parse(time.RFC3339, s)
					if err != nil {
						return domain.Case{}, &engine.ValidationError{Field: "scheduled_at", Message: "must be RFC3339"}
					}
					opts.ScheduledAt = t
				}
			}
			return e.ScheduleInspection(ctx, in.ID, opts)
		})

	registerAction(api, e, "cases-inspections-complete", "inspections/complete", "Record the inspection result",
		func(ctx context.Context, actor string, in *completeInput) (domain.Case, error) {
			inspector := in.Body.InspectorID
			if inspector == "" {
				inspector = actor
			}
			return e.CompleteInspection(ctx, in.ID, engine.CompleteOptions{
				Result:      in.Body.Result,
				Photos:      in.Body.Photos,
				Remarks:     in.Body.Remarks,
				InspectorID: inspector,
				ActorID:     actor,
			})
		})

	registerAction(api, e, "cases-issue", "issue", "Issue the certificate or letter",
		func(ctx context.Context, actor string, in *caseIDInput) (domain.Case, error) {
			return e.Issue(ctx, in.ID, actor)
		})

	registerAction(api, e, "cases-reject", "reject", "Reject a case",
		func(ctx context.Context, actor string, in *reasonInput) (domain.Case, error) {
			return e.Reject(ctx, in.ID, in.Body.Reason, actor)
		})

	registerAction(api, e, "cases-close", "close", "Close a case",
		func(ctx context.Context, actor string, in *reasonInput) (domain.Case, error) {
			return e.Close(ctx, in.ID, in.Body.Reason, actor)
		})

	registerAction(api, e, "cases-activate", "activate", "Activate an issued connection",
		func(ctx context.Context, actor string, in *caseIDInput) (domain.Case, error) {
			return e.Activate(ctx, in.ID, actor)
		})

	registerAction(api, e, "cases-request-renewal", "request-renewal", "Request renewal",
		func(ctx context.Context, actor string, in *caseIDInput) (domain.Case, error) {
			return e.RequestRenewal(ctx, in.ID, actor)
		})

	registerAction(api, e, "cases-renew", "renew", "Renew an active connection",
		func(ctx context.Context, actor string, in *caseIDInput) (domain.Case, error) {
			return e.Renew(ctx, in.ID, actor)
		})
}
