// Package report summarises case throughput per case type.
package report

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"parcelflow/internal/config"
	"parcelflow/internal/domain"
	"parcelflow/internal/repo"
)

// Range bounds case creation time; zero values are open.
type Range struct {
	From time.Time
	To   time.Time
}

type TypeSummary struct {
	CaseType string         `json:"case_type"`
	Label    string         `json:"label"`
	Total    int            `json:"total"`
	Issued   int            `json:"issued"`
	Rejected int            `json:"rejected"`
	ByStatus map[string]int `json:"by_status"`
	// Turnaround from creation to issuance, in hours.
	P50Hours float64 `json:"p50_hours"`
	P90Hours float64 `json:"p90_hours"`
}

type Report struct {
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	Generated string        `json:"generated_at"`
	Types     []TypeSummary `json:"types"`
}

type Builder struct {
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Build loads every case in the range and groups it by type. caseType
// narrows the report to one type when set.
func (b Builder) Build(ctx context.Context, caseType string, r Range) (Report, error) {
	f := repo.CaseFilters{CaseType: caseType}
	out := Report{Generated: b.now().UTC().Format(time.RFC3339)}
	if !r.From.IsZero() {
		f.CreatedFrom = r.From.UTC().Format(time.RFC3339)
		out.From = f.CreatedFrom
	}
	if !r.To.IsZero() {
		f.CreatedTo = r.To.UTC().Format(time.RFC3339)
		out.To = f.CreatedTo
	}
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return Report{}, fmt.Errorf("report range: from must be before to")
	}
	cases, err := b.Repo.ListCases(ctx, f)
	if err != nil {
		return Report{}, err
	}
	grouped := map[string][]domain.Case{}
	for _, c := range cases {
		grouped[c.CaseType] = append(grouped[c.CaseType], c)
	}
	names := b.Config.CaseTypeNames()
	if caseType != "" {
		names = []string{caseType}
	}
	for _, name := range names {
		ct, _ := b.Config.CaseType(name)
		out.Types = append(out.Types, summarise(name, ct, grouped[name]))
	}
	return out, nil
}

func summarise(name string, ct config.CaseType, cases []domain.Case) TypeSummary {
	s := TypeSummary{CaseType: name, Label: ct.Label, Total: len(cases), ByStatus: map[string]int{}}
	var hours []float64
	for _, c := range cases {
		s.ByStatus[c.Status]++
		if c.RejectionReason != "" {
			s.Rejected++
		}
		if !c.Issued() {
			continue
		}
		s.Issued++
		created, err1 := time.Parse(time.RFC3339, c.CreatedAt)
		issued, err2 := time.Parse(time.RFC3339, c.IssuedAt)
		if err1 == nil && err2 == nil {
			hours = append(hours, issued.Sub(created).Hours())
		}
	}
	sort.Float64s(hours)
	s.P50Hours = Percentile(hours, 50)
	s.P90Hours = Percentile(hours, 90)
	return s
}

// Percentile is the nearest-rank percentile of sorted values; 0 when empty.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// WriteXLSX writes a Summary sheet and a Statuses sheet.
func WriteXLSX(w io.Writer, r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	const summary, statuses = "Summary", "Statuses"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return err
	}
	if _, err := f.NewSheet(statuses); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := f.SetSheetRow(summary, "A1", &[]any{"Case type", "Label", "Total", "Issued", "Rejected", "P50 hours", "P90 hours"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(summary, "A1", "G1", bold); err != nil {
		return err
	}
	if err := f.SetSheetRow(statuses, "A1", &[]any{"Case type", "Status", "Count"}); err != nil {
		return err
	}
	if err := f.SetCellStyle(statuses, "A1", "C1", bold); err != nil {
		return err
	}

	statusRow := 2
	for i, t := range r.Types {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{t.CaseType, t.Label, t.Total, t.Issued, t.Rejected, round2(t.P50Hours), round2(t.P90Hours)}
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			return err
		}
		keys := make([]string, 0, len(t.ByStatus))
		for k := range t.ByStatus {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, status := range keys {
			cell, err := excelize.CoordinatesToCellName(1, statusRow)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(statuses, cell, &[]any{t.CaseType, status, t.ByStatus[status]}); err != nil {
				return err
			}
			statusRow++
		}
	}
	if r.From != "" || r.To != "" {
		if err := f.SetCellValue(summary, "I1", fmt.Sprintf("Created %s to %s", r.From, r.To)); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
