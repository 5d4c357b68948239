package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parcelflow/internal/blob/core"
	"parcelflow/internal/config"
	"parcelflow/internal/db"
	"parcelflow/internal/document"
	"parcelflow/internal/domain"
	"parcelflow/internal/events"
	"parcelflow/internal/logging"
	"parcelflow/internal/metrics"
	"parcelflow/internal/repo"
	"parcelflow/internal/sequence"
)

const actionCreate = "create"

// Engine drives every case type through its configured transition table.
// Each action runs in one transaction: load, validate, conditional update on
// the observed status, append event, commit.
type Engine struct {
	DB        *db.DB
	Repo      repo.Repo
	Events    events.Writer
	Sequences sequence.Generator
	Config    *config.Config
	Renderer  document.Renderer
	Blobs     core.Store
	BaseURL   string
	Authority string
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

func New(conn *db.DB, cfg *config.Config, blobs core.Store) Engine {
	return Engine{
		DB:        conn,
		Repo:      repo.Repo{DB: conn},
		Events:    events.Writer{DB: conn},
		Sequences: sequence.Generator{DB: conn},
		Config:    cfg,
		Renderer:  document.PDFRenderer{},
		Blobs:     blobs,
		BaseURL:   "http://127.0.0.1:8080",
		Authority: "Land Records Authority",
		Now:       time.Now,
	}
}

// now is always UTC so numbering years agree with stored timestamps.
func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

func (e Engine) events() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) sequences() sequence.Generator {
	g := e.Sequences
	g.Now = e.now
	if g.Metrics == nil {
		g.Metrics = e.Metrics
	}
	return g
}

func (e Engine) caseType(name string) (config.CaseType, error) {
	if e.Config == nil {
		return config.CaseType{}, errors.New("config not loaded")
	}
	ct, ok := e.Config.CaseType(name)
	if !ok {
		return config.CaseType{}, invalid("case_type", "unknown case type %q", name)
	}
	return ct, nil
}

// record reports the outcome of an action to metrics and the log.
func (e Engine) record(caseType, action, id string, err error) {
	out := outcome(err)
	e.Metrics.ObserveTransition(caseType, action, out)
	if err != nil {
		e.log().Warn("case action failed",
			zap.String("case_id", id), zap.String("case_type", caseType),
			zap.String("action", action), zap.String("outcome", out), zap.Error(err))
		return
	}
	e.log().Debug("case action", zap.String("case_id", id), zap.String("case_type", caseType), zap.String("action", action))
}

// CaseCreateOptions are parameters for opening a case.
type CaseCreateOptions struct {
	CaseType  string
	SubjectID string
	PartyID   string
	Details   map[string]any
	Checklist map[string]bool
	ActorID   string
}

func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (c domain.Case, err error) {
	defer func() { e.record(opts.CaseType, actionCreate, c.ID, err) }()
	ct, err := e.caseType(opts.CaseType)
	if err != nil {
		return domain.Case{}, err
	}
	if strings.TrimSpace(opts.SubjectID) == "" {
		return domain.Case{}, invalid("subject_id", "is required")
	}
	if strings.TrimSpace(opts.PartyID) == "" {
		return domain.Case{}, invalid("party_id", "is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetPropertyTx(ctx, tx, opts.SubjectID); err != nil {
		return domain.Case{}, err
	}
	if _, err := e.Repo.GetPartyTx(ctx, tx, opts.PartyID); err != nil {
		return domain.Case{}, err
	}
	requestNo, err := e.sequences().NextTx(ctx, tx, ct.Prefix, e.now().Year())
	if err != nil {
		return domain.Case{}, err
	}
	now := e.timestamp()
	c = domain.Case{
		ID:        uuid.NewString(),
		CaseType:  opts.CaseType,
		RequestNo: requestNo,
		Status:    ct.Initial,
		SubjectID: opts.SubjectID,
		PartyID:   opts.PartyID,
		Details:   opts.Details,
		Checklist: opts.Checklist,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
		return domain.Case{}, fmt.Errorf("insert case: %w", err)
	}
	if err := e.events().Append(ctx, tx, "case.created", c.CaseType, "case", c.ID, opts.ActorID, events.EventPayload{
		"status":      c.Status,
		ct.NumberLabel: c.RequestNo,
		"subject_id":  c.SubjectID,
		"party_id":    c.PartyID,
	}); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// change carries what transition resolved before handing the case to a step.
type change struct {
	tx   *sql.Tx
	from string
	ct   config.CaseType
	tr   config.Transition
}

// step mutates c for one action. c.Status already holds the transition target.
type step func(ch change, c *domain.Case) (events.EventPayload, error)

func (e Engine) transition(ctx context.Context, id, action, actorID string, apply step) (c domain.Case, err error) {
	defer func() { e.record(c.CaseType, action, id, err) }()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	c, err = e.Repo.GetCaseTx(ctx, tx, id)
	if err != nil {
		return domain.Case{}, err
	}
	ct, err := e.caseType(c.CaseType)
	if err != nil {
		return c, err
	}
	tr, ok := ct.Transition(action)
	if !ok || !tr.Allows(c.Status) || ct.IsTerminal(c.Status) {
		return c, &InvalidStateError{Action: action, Required: tr.From, Actual: c.Status}
	}
	from := c.Status
	next := c
	next.Status = tr.To
	var payload events.EventPayload
	if apply != nil {
		payload, err = apply(change{tx: tx, from: from, ct: ct, tr: tr}, &next)
		if err != nil {
			return c, err
		}
	}
	next.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateCaseIfStatus(ctx, tx, next, from); err != nil {
		return c, err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["from"] = from
	payload["to"] = next.Status
	if err := e.events().Append(ctx, tx, "case."+action, next.CaseType, "case", next.ID, actorID, payload); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return next, nil
}

// UpdateChecklist replaces the checklist while the case is still editable.
func (e Engine) UpdateChecklist(ctx context.Context, id string, checklist map[string]bool, actorID string) (domain.Case, error) {
	if checklist == nil {
		err := invalid("checklist", "is required")
		e.record("", config.ActionUpdateChecklist, id, err)
		return domain.Case{}, err
	}
	return e.transition(ctx, id, config.ActionUpdateChecklist, actorID, func(ch change, c *domain.Case) (events.EventPayload, error) {
		var absent []string
		for _, key := range ch.ct.Checklist {
			if _, ok := checklist[key]; !ok {
				absent = append(absent, key)
			}
		}
		if len(absent) > 0 {
			sort.Strings(absent)
			return nil, invalid("checklist", "missing keys: %s", strings.Join(absent, ", "))
		}
		c.Checklist = checklist
		return events.EventPayload{"checklist": checklist}, nil
	})
}

func (e Engine) CheckServiceability(ctx context.Context, id, remarks, actorID string) (domain.Case, error) {
	return e.transition(ctx, id, config.ActionCheckServiceability, actorID, func(ch change, c *domain.Case) (events.EventPayload, error) {
		return events.EventPayload{"remarks": remarks}, nil
	})
}

// ScheduleOptions are parameters for booking a site inspection.
type ScheduleOptions struct {
	ScheduledAt time.Time
	InspectorID string
	// Checklist, when set, is merged into the case before the completeness check.
	Checklist map[string]bool
	ActorID   string
}

// missingChecklist lists false values and absent required keys, sorted. A case
// without a checklist has nothing missing.
func missingChecklist(ct config.CaseType, checklist map[string]bool) []string {
	if checklist == nil {
		return nil
	}
	var missing []string
	for key, ok := range checklist {
		if !ok {
			missing = append(missing, key)
		}
	}
	for _, key := range ct.Checklist {
		if _, ok := checklist[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

func (e Engine) ScheduleInspection(ctx context.Context, id string, opts ScheduleOptions) (domain.Case, error) {
	return e.transition(ctx, id, config.ActionScheduleInspection, opts.ActorID, func(ch change, c *domain.Case) (events.EventPayload, error) {
		if opts.Checklist != nil {
			merged := make(map[string]bool, len(c.Checklist)+len(opts.Checklist))
			for k, v := range c.Checklist {
				merged[k] = v
			}
			for k, v := range opts.Checklist {
				merged[k] = v
			}
			c.Checklist = merged
		}
		if missing := missingChecklist(ch.ct, c.Checklist); len(missing) > 0 {
			return nil, &IncompleteChecklistError{Missing: missing}
		}
		scheduledAt := opts.ScheduledAt
		if scheduledAt.IsZero() {
			scheduledAt = e.now()
		}
		in := domain.Inspection{
			ID:          uuid.NewString(),
			CaseID:      c.ID,
			SubjectID:   c.SubjectID,
			Type:        c.CaseType,
			ScheduledAt: scheduledAt.UTC().Format(time.RFC3339),
			InspectedBy: opts.InspectorID,
			Status:      domain.InspectionScheduled,
			CreatedAt:   e.timestamp(),
		}
		if err := e.Repo.InsertInspection(ctx, ch.tx, in); err != nil {
			return nil, fmt.Errorf("insert inspection: %w", err)
		}
		c.InspectionID = in.ID
		return events.EventPayload{"inspection_id": in.ID, "scheduled_at": in.ScheduledAt, "inspector_id": opts.InspectorID}, nil
	})
}

// CompleteOptions carry the outcome of a site visit.
type CompleteOptions struct {
	Result      map[string]any
	Photos      []string
	Remarks     string
	InspectorID string
	ActorID     string
}

// CompleteInspection records the visit. A result without passed=true sends
// the case to the transition's on_fail status when one is configured.
func (e Engine) CompleteInspection(ctx context.Context, id string, opts CompleteOptions) (domain.Case, error) {
	current, err := e.Repo.GetCase(ctx, id)
	if err == nil && current.InspectionID == "" {
		err = ErrNoInspectionScheduled
	}
	if err == nil && opts.Result == nil {
		err = invalid("result", "is required")
	}
	if err != nil {
		e.record(current.CaseType, config.ActionCompleteInspection, id, err)
		return domain.Case{}, err
	}
	return e.transition(ctx, id, config.ActionCompleteInspection, opts.ActorID, func(ch change, c *domain.Case) (events.EventPayload, error) {
		if c.InspectionID == "" {
			return nil, ErrNoInspectionScheduled
		}
		in, err := e.Repo.GetInspectionTx(ctx, ch.tx, c.InspectionID)
		if err != nil {
			return nil, err
		}
		in.Result = opts.Result
		in.Photos = opts.Photos
		in.Remarks = opts.Remarks
		if opts.InspectorID != "" {
			in.InspectedBy = opts.InspectorID
		} else if in.InspectedBy == "" {
			in.InspectedBy = opts.ActorID
		}
		in.InspectedAt = e.timestamp()
		if err := e.Repo.CompleteInspection(ctx, ch.tx, in); err != nil {
			return nil, fmt.Errorf("inspection %s: %w", in.ID, err)
		}
		if ch.tr.OnFail != "" && !in.Passed() {
			c.Status = ch.tr.OnFail
		}
		return events.EventPayload{"inspection_id": in.ID, "passed": in.Passed()}, nil
	})
}

// Reject ends a case from any non-terminal status.
func (e Engine) Reject(ctx context.Context, id, reason, actorID string) (domain.Case, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		err := invalid("reason", "is required")
		e.record("", config.ActionReject, id, err)
		return domain.Case{}, err
	}
	return e.transition(ctx, id, config.ActionReject, actorID, func(ch change, c *domain.Case) (events.EventPayload, error) {
		c.RejectionReason = reason
		return events.EventPayload{"reason": reason}, nil
	})
}

func (e Engine) Close(ctx context.Context, id, reason, actorID string) (domain.Case, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		err := invalid("reason", "is required")
		e.record("", config.ActionClose, id, err)
		return domain.Case{}, err
	}
	return e.transition(ctx, id, config.ActionClose, actorID, func(ch change, c *domain.Case) (events.EventPayload, error) {
		c.ClosureReason = reason
		return events.EventPayload{"reason": reason}, nil
	})
}

func (e Engine) Activate(ctx context.Context, id, actorID string) (domain.Case, error) {
	return e.transition(ctx, id, config.ActionActivate, actorID, nil)
}

func (e Engine) RequestRenewal(ctx context.Context, id, actorID string) (domain.Case, error) {
	return e.transition(ctx, id, config.ActionRequestRenewal, actorID, nil)
}

// Renew returns the case to active. The case keeps its number.
func (e Engine) Renew(ctx context.Context, id, actorID string) (domain.Case, error) {
	return e.transition(ctx, id, config.ActionRenew, actorID, func(ch change, c *domain.Case) (events.EventPayload, error) {
		return events.EventPayload{"number": c.RequestNo}, nil
	})
}

func (e Engine) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return e.Repo.GetCase(ctx, id)
}

func (e Engine) ListCases(ctx context.Context, f repo.CaseFilters) ([]domain.Case, error) {
	if f.CaseType != "" {
		if _, err := e.caseType(f.CaseType); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListCases(ctx, f)
}

func (e Engine) ListInspections(ctx context.Context, caseID string) ([]domain.Inspection, error) {
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return e.Repo.ListInspections(ctx, caseID)
}

// AllowedActions lists the actions whose from set contains the case status.
func (e Engine) AllowedActions(c domain.Case) []string {
	ct, ok := e.Config.CaseType(c.CaseType)
	if !ok {
		return nil
	}
	return ct.AllowedActions(c.Status)
}

// VerifyDocument finds the issued case for a public document hash.
func (e Engine) VerifyDocument(ctx context.Context, hash string) (domain.Case, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if !isSHA256Hex(hash) {
		return domain.Case{}, invalid("hash", "must be 64 hex characters")
	}
	c, err := e.Repo.GetCaseByHash(ctx, hash)
	if err != nil {
		return domain.Case{}, err
	}
	if !c.Issued() {
		return domain.Case{}, fmt.Errorf("document %s: %w", hash, repo.ErrNotFound)
	}
	return c, nil
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
