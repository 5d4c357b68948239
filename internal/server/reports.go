package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"parcelflow/internal/config"
	"parcelflow/internal/engine"
	"parcelflow/internal/report"
)

type reportInput struct {
	CaseType string `query:"case_type"`
	From     string `query:"from" doc:"RFC3339 lower bound on created_at"`
	To       string `query:"to" doc:"RFC3339 exclusive upper bound on created_at"`
}

func (in *reportInput) build(ctx context.Context, b report.Builder) (report.Report, error) {
	if in.CaseType != "" {
		if _, ok := b.Config.CaseType(in.CaseType); !ok {
			return report.Report{}, &engine.ValidationError{Field: "case_type", Message: fmt.Sprintf("unknown case type %q", in.CaseType)}
		}
	}
	var r report.Range
	var err error
	if r.From, err = parseOptionalTime(in.From); err != nil {
		return report.Report{}, &engine.ValidationError{Field: "from", Message: "must be RFC3339"}
	}
	if r.To, err = parseOptionalTime(in.To); err != nil {
		return report.Report{}, &engine.ValidationError{Field: "to", Message: "must be RFC3339"}
	}
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return report.Report{}, &engine.ValidationError{Field: "from", Message: "must be before to"}
	}
	return b.Build(ctx, in.CaseType, r)
}

func parseOptionalTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func registerReports(api huma.API, b report.Builder) {
	huma.Register(api, huma.Operation{
		OperationID: "reports-summary",
		Method:      http.MethodGet,
		Path:        "/reports/summary",
		Summary:     "Case totals and turnaround per case type",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *reportInput) (*struct {
		Body report.Report `json:"body"`
	}, error) {
		rep, err := input.build(ctx, b)
		if err != nil {
			return nil, handleError(err)
		}
		rep.Types = nonNilSlice(rep.Types)
		return &struct {
			Body report.Report `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reports-summary-xlsx",
		Method:      http.MethodGet,
		Path:        "/reports/summary.xlsx",
		Summary:     "Summary report as a spreadsheet",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *reportInput) (*binaryOutput, error) {
		rep, err := input.build(ctx, b)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := report.WriteXLSX(&buf, rep); err != nil {
			return nil, handleError(err)
		}
		return &binaryOutput{
			Status:             http.StatusOK,
			ContentType:        "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			ContentDisposition: `attachment; filename="parcelflow-summary.xlsx"`,
			Body:               buf.Bytes(),
		}, nil
	})
}

func registerCaseTypes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "case-types-list",
		Method:      http.MethodGet,
		Path:        "/case-types",
		Summary:     "List configured case types and their workflows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []CaseTypeResponse `json:"items"`
		} `json:"body"`
	}, error) {
		out := &struct {
			Body struct {
				Items []CaseTypeResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = []CaseTypeResponse{}
		for _, name := range e.Config.CaseTypeNames() {
			ct, _ := e.Config.CaseType(name)
			out.Body.Items = append(out.Body.Items, caseTypeResponse(name, ct))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-types-get",
		Method:      http.MethodGet,
		Path:        "/case-types/{name}",
		Summary:     "Get one case type",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body CaseTypeResponse `json:"body"`
	}, error) {
		ct, ok := e.Config.CaseType(input.Name)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "unknown case type "+input.Name, nil)
		}
		return &struct {
			Body CaseTypeResponse `json:"body"`
		}{Body: caseTypeResponse(input.Name, ct)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "config-get",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Active workflow configuration",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: e.Config}, nil
	})
}
