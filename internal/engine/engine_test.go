package engine_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"parcelflow/internal/blob/fs"
	"parcelflow/internal/config"
	"parcelflow/internal/db"
	"parcelflow/internal/document"
	"parcelflow/internal/domain"
	"parcelflow/internal/engine"
	"parcelflow/internal/metrics"
	"parcelflow/internal/migrate"
	"parcelflow/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Subject domain.Property
	Party   domain.Party
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	blobs, err := fs.New(filepath.Join(dir, "documents"))
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	eng := engine.New(conn, config.Default(), blobs)
	eng.Metrics = metrics.New()
	eng.BaseURL = "https://lands.example.gov"
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	subject, err := eng.CreateProperty(ctx, engine.PropertyCreateOptions{ParcelNo: "P-42", Scheme: "Sector F", AreaSqM: 250, ActorID: "clerk"})
	if err != nil {
		t.Fatalf("seed property: %v", err)
	}
	party, err := eng.CreateParty(ctx, engine.PartyCreateOptions{Name: "Owner Seven", CNIC: "35202-1234567-1", ActorID: "clerk"})
	if err != nil {
		t.Fatalf("seed party: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Subject: subject, Party: party}
}

func (env testEnv) create(t *testing.T, caseType string) domain.Case {
	t.Helper()
	c, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{
		CaseType:  caseType,
		SubjectID: env.Subject.ID,
		PartyID:   env.Party.ID,
		ActorID:   "clerk",
	})
	if err != nil {
		t.Fatalf("create %s: %v", caseType, err)
	}
	return c
}

func TestCreateCaseNumbersEveryType(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.Engine.Config
	for _, name := range cfg.CaseTypeNames() {
		ct, _ := cfg.CaseType(name)
		c := env.create(t, name)
		if c.Status != ct.Initial {
			t.Fatalf("%s: expected status %s, got %s", name, ct.Initial, c.Status)
		}
		re := regexp.MustCompile(`^` + regexp.QuoteMeta(ct.Prefix) + `-2024-\d{6}$`)
		if !re.MatchString(c.RequestNo) {
			t.Fatalf("%s: request_no %q does not match %s", name, c.RequestNo, re)
		}
		if c.Issued() || c.InspectionID != "" {
			t.Fatalf("%s: fresh case carries issuance or inspection fields: %+v", name, c)
		}
	}
}

func TestCreateCaseValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{CaseType: "castle", SubjectID: env.Subject.ID, PartyID: env.Party.ID})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
	_, err = env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{CaseType: "demarcation", SubjectID: "missing", PartyID: env.Party.ID})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing subject, got %v", err)
	}
	_, err = env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{CaseType: "demarcation", SubjectID: env.Subject.ID, PartyID: "missing"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing party, got %v", err)
	}
	// failed creates must not consume numbers
	c := env.create(t, "demarcation")
	if c.RequestNo != "DEM-2024-000001" {
		t.Fatalf("expected DEM-2024-000001, got %s", c.RequestNo)
	}
}

func TestDemarcationScenario(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 6; i++ {
		if _, err := env.Engine.Sequences.Next(env.Ctx, "DEM", 2024); err != nil {
			t.Fatalf("prior allocation: %v", err)
		}
	}
	c := env.create(t, "demarcation")
	if c.RequestNo != "DEM-2024-000007" {
		t.Fatalf("expected DEM-2024-000007, got %s", c.RequestNo)
	}
	if got := strings.Join(env.Engine.AllowedActions(c), ","); got != "reject,schedule_inspection,update_checklist" {
		t.Fatalf("unexpected allowed actions %s", got)
	}

	c, err := env.Engine.ScheduleInspection(env.Ctx, c.ID, engine.ScheduleOptions{
		ScheduledAt: time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC),
		InspectorID: "surveyor-1",
		Checklist:   map[string]bool{"siteVisible": true, "boundaryMarked": true},
		ActorID:     "clerk",
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if c.Status != "inspection_scheduled" || c.InspectionID == "" {
		t.Fatalf("expected inspection_scheduled with inspection, got %s %q", c.Status, c.InspectionID)
	}

	c, err = env.Engine.CompleteInspection(env.Ctx, c.ID, engine.CompleteOptions{
		Result:  map[string]any{"passed": true, "boundary": "marked"},
		Remarks: "pillars in place",
		ActorID: "surveyor-1",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.Status != "inspection_completed" {
		t.Fatalf("expected inspection_completed, got %s", c.Status)
	}
	inspections, err := env.Engine.ListInspections(env.Ctx, c.ID)
	if err != nil || len(inspections) != 1 {
		t.Fatalf("list inspections: %v %d", err, len(inspections))
	}
	if inspections[0].Status != domain.InspectionCompleted || inspections[0].InspectedAt == "" {
		t.Fatalf("inspection not completed: %+v", inspections[0])
	}

	c, err = env.Engine.Issue(env.Ctx, c.ID, "officer-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if c.CertificateNo != "DEM-CERT-2024-000001" || c.Status != "certificate_issued" {
		t.Fatalf("unexpected issuance %s %s", c.CertificateNo, c.Status)
	}
	if c.PDFPath != "documents/demarcation/DEM-CERT-2024-000001.pdf" {
		t.Fatalf("unexpected pdf path %s", c.PDFPath)
	}
	if c.QRCode != "https://lands.example.gov/verify/"+c.HashSHA256 || len(c.HashSHA256) != 64 {
		t.Fatalf("unexpected qr/hash %s %s", c.QRCode, c.HashSHA256)
	}
	if c.IssuedBy != "officer-1" || c.IssuedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected issued by/at %s %s", c.IssuedBy, c.IssuedAt)
	}

	_, rc, err := env.Engine.Blobs.Get(env.Ctx, c.PDFPath)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if document.SHA256(data) != c.HashSHA256 {
		t.Fatalf("stored document does not match hash")
	}

	stored, err := env.Engine.GetCase(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if stored.HashSHA256 != c.HashSHA256 || stored.Status != c.Status {
		t.Fatalf("stored case differs: %+v", stored)
	}

	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, repo.EventFilters{EntityID: c.ID})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 4 || evs[0].Type != "case.issue" {
		t.Fatalf("expected 4 events ending in case.issue, got %d", len(evs))
	}

	_, err = env.Engine.Issue(env.Ctx, c.ID, "officer-1")
	var stateErr *engine.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state on second issue, got %v", err)
	}
	if stateErr.Actual != "certificate_issued" || stateErr.Action != "issue" {
		t.Fatalf("unexpected state error %+v", stateErr)
	}

	_, err = env.Engine.Reject(env.Ctx, c.ID, "too late", "officer-1")
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state rejecting an issued certificate, got %v", err)
	}
	if stateErr.Action != "reject" || stateErr.Actual != "certificate_issued" {
		t.Fatalf("unexpected state error %+v", stateErr)
	}
}

func TestScheduleWithIncompleteChecklist(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, "demarcation")
	_, err := env.Engine.ScheduleInspection(env.Ctx, c.ID, engine.ScheduleOptions{
		Checklist: map[string]bool{"siteVisible": true, "boundaryMarked": false},
		ActorID:   "clerk",
	})
	var checklistErr *engine.IncompleteChecklistError
	if !errors.As(err, &checklistErr) {
		t.Fatalf("expected incomplete checklist, got %v", err)
	}
	if strings.Join(checklistErr.Missing, ",") != "boundaryMarked" {
		t.Fatalf("unexpected missing %v", checklistErr.Missing)
	}
	after, err := env.Engine.GetCase(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != "draft" || after.InspectionID != "" {
		t.Fatalf("case changed after failed schedule: %s %q", after.Status, after.InspectionID)
	}
	inspections, _ := env.Engine.ListInspections(env.Ctx, c.ID)
	if len(inspections) != 0 {
		t.Fatalf("expected no inspections, got %d", len(inspections))
	}
}

func TestUpdateChecklistThenSchedule(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, "dpc")
	_, err := env.Engine.UpdateChecklist(env.Ctx, c.ID, map[string]bool{"plinthLevelMarked": true}, "clerk")
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected missing checklist key error, got %v", err)
	}
	c, err = env.Engine.UpdateChecklist(env.Ctx, c.ID, map[string]bool{"plinthLevelMarked": true, "setbacksVerified": false}, "clerk")
	if err != nil {
		t.Fatalf("update checklist: %v", err)
	}
	if c.Status != "checklist_pending" {
		t.Fatalf("expected checklist_pending, got %s", c.Status)
	}
	if _, err := env.Engine.ScheduleInspection(env.Ctx, c.ID, engine.ScheduleOptions{ActorID: "clerk"}); err == nil {
		t.Fatalf("expected incomplete checklist")
	}
	c, err = env.Engine.ScheduleInspection(env.Ctx, c.ID, engine.ScheduleOptions{Checklist: map[string]bool{"setbacksVerified": true}, ActorID: "clerk"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !c.Checklist["plinthLevelMarked"] || !c.Checklist["setbacksVerified"] {
		t.Fatalf("checklist not merged: %v", c.Checklist)
	}
}

func TestCompleteWithoutInspection(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, "occupancy_certificate")
	_, err := env.Engine.CompleteInspection(env.Ctx, c.ID, engine.CompleteOptions{Result: map[string]any{"passed": true}})
	if !errors.Is(err, engine.ErrNoInspectionScheduled) {
		t.Fatalf("expected no inspection scheduled, got %v", err)
	}
}

func TestIssueRequiresCompletedInspection(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, "transfer")
	_, err := env.Engine.Issue(env.Ctx, c.ID, "officer-1")
	var stateErr *engine.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if strings.Join(stateErr.Required, ",") != "inspection_completed" || stateErr.Actual != "draft" {
		t.Fatalf("unexpected state error %+v", stateErr)
	}
	counter, err := env.Engine.Sequences.GetOrCreate(env.Ctx, "TRF-DEED", 2024)
	if err != nil {
		t.Fatal(err)
	}
	if counter.CurrentValue != 0 {
		t.Fatalf("failed issue consumed a number: %d", counter.CurrentValue)
	}
}

type failingRenderer struct{}

func (failingRenderer) Render(context.Context, document.Certificate) ([]byte, error) {
	return nil, errors.New("printer on fire")
}

func TestFailedIssueRollsBack(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, "mortgage")
	c, err := env.Engine.ScheduleInspection(env.Ctx, c.ID, engine.ScheduleOptions{ActorID: "clerk"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteInspection(env.Ctx, c.ID, engine.CompleteOptions{Result: map[string]any{"passed": true}}); err != nil {
		t.Fatal(err)
	}
	broken := env.Engine
	broken.Renderer = failingRenderer{}
	if _, err := broken.Issue(env.Ctx, c.ID, "officer-1"); err == nil {
		t.Fatalf("expected render failure")
	}
	after, _ := env.Engine.GetCase(env.Ctx, c.ID)
	if after.Status != "inspection_completed" || after.Issued() {
		t.Fatalf("failed issue left changes: %+v", after)
	}
	issued, err := env.Engine.Issue(env.Ctx, c.ID, "officer-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.CertificateNo != "MTG-LTR-2024-000001" || issued.Status != "approved" {
		t.Fatalf("unexpected issuance %s %s", issued.CertificateNo, issued.Status)
	}
}

func TestRejectRules(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, "registration")
	if _, err := env.Engine.Reject(env.Ctx, c.ID, "  ", "officer-1"); err == nil {
		t.Fatalf("expected reason required")
	}
	c, err := env.Engine.Reject(env.Ctx, c.ID, "title dispute", "officer-1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if c.Status != "rejected" || c.RejectionReason != "title dispute" {
		t.Fatalf("unexpected rejection %s %q", c.Status, c.RejectionReason)
	}
	_, err = env.Engine.Reject(env.Ctx, c.ID, "again", "officer-1")
	var stateErr *engine.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state from terminal, got %v", err)
	}
	if len(env.Engine.AllowedActions(c)) != 0 {
		t.Fatalf("terminal case should allow nothing")
	}
}

func TestConnectionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, "water_connection")
	requestNo := c.RequestNo
	if c.Status != "applied" {
		t.Fatalf("expected applied, got %s", c.Status)
	}
	if _, err := env.Engine.ScheduleInspection(env.Ctx, c.ID, engine.ScheduleOptions{}); err == nil {
		t.Fatalf("expected schedule before serviceability to fail")
	}

	c, err := env.Engine.CheckServiceability(env.Ctx, c.ID, "main line within 30m", "engineer")
	if err != nil || c.Status != "serviceability_checked" {
		t.Fatalf("check serviceability: %v %s", err, c.Status)
	}
	c, err = env.Engine.ScheduleInspection(env.Ctx, c.ID, engine.ScheduleOptions{InspectorID: "inspector-1"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	firstInspection := c.InspectionID
	c, err = env.Engine.CompleteInspection(env.Ctx, c.ID, engine.CompleteOptions{Result: map[string]any{"passed": false, "reason": "no meter chamber"}})
	if err != nil {
		t.Fatalf("complete failed inspection: %v", err)
	}
	if c.Status != "applied" || c.InspectionID != firstInspection {
		t.Fatalf("expected reset to applied keeping inspection, got %s %q", c.Status, c.InspectionID)
	}

	if c, err = env.Engine.CheckServiceability(env.Ctx, c.ID, "", "engineer"); err != nil {
		t.Fatal(err)
	}
	if c, err = env.Engine.ScheduleInspection(env.Ctx, c.ID, engine.ScheduleOptions{InspectorID: "inspector-1"}); err != nil {
		t.Fatal(err)
	}
	if c.InspectionID == firstInspection {
		t.Fatalf("expected new inspection per attempt")
	}
	if c, err = env.Engine.CompleteInspection(env.Ctx, c.ID, engine.CompleteOptions{Result: map[string]any{"passed": true}}); err != nil {
		t.Fatal(err)
	}
	if c.Status != "inspection_completed" {
		t.Fatalf("expected inspection_completed, got %s", c.Status)
	}
	inspections, _ := env.Engine.ListInspections(env.Ctx, c.ID)
	if len(inspections) != 2 {
		t.Fatalf("expected 2 inspections, got %d", len(inspections))
	}

	c, err = env.Engine.Issue(env.Ctx, c.ID, "officer-1")
	if err != nil || c.Status != "sanctioned" || c.CertificateNo != "WTR-SNC-2024-000001" {
		t.Fatalf("sanction: %v %s %s", err, c.Status, c.CertificateNo)
	}
	steps := []struct {
		name string
		run  func() (domain.Case, error)
		want string
	}{
		{"activate", func() (domain.Case, error) { return env.Engine.Activate(env.Ctx, c.ID, "officer-1") }, "active"},
		{"request renewal", func() (domain.Case, error) { return env.Engine.RequestRenewal(env.Ctx, c.ID, "owner") }, "renewal_pending"},
		{"renew", func() (domain.Case, error) { return env.Engine.Renew(env.Ctx, c.ID, "officer-1") }, "active"},
		{"close", func() (domain.Case, error) { return env.Engine.Close(env.Ctx, c.ID, "owner moved", "officer-1") }, "closed"},
	}
	for _, s := range steps {
		got, err := s.run()
		if err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got.Status != s.want {
			t.Fatalf("%s: expected %s, got %s", s.name, s.want, got.Status)
		}
		if got.RequestNo != requestNo {
			t.Fatalf("%s: request number changed to %s", s.name, got.RequestNo)
		}
	}
	_, err = env.Engine.Reject(env.Ctx, c.ID, "late", "officer-1")
	var stateErr *engine.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected invalid state rejecting a closed connection, got %v", err)
	}
	if stateErr.Actual != "closed" {
		t.Fatalf("unexpected state error %+v", stateErr)
	}
}

func TestStaleUpdateConflicts(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, "completion_certificate")
	stale := c
	if _, err := env.Engine.UpdateChecklist(env.Ctx, c.ID, map[string]bool{"structureComplete": true, "servicesConnected": true}, "clerk"); err != nil {
		t.Fatal(err)
	}
	stale.Status = "rejected"
	err := env.Engine.Repo.UpdateCaseIfStatus(env.Ctx, nil, stale, "draft")
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	after, _ := env.Engine.GetCase(env.Ctx, c.ID)
	if after.Status != "checklist_pending" {
		t.Fatalf("stale write applied: %s", after.Status)
	}
}

func TestVerifyDocument(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, "demarcation")
	c, _ = env.Engine.ScheduleInspection(env.Ctx, c.ID, engine.ScheduleOptions{})
	c, _ = env.Engine.CompleteInspection(env.Ctx, c.ID, engine.CompleteOptions{Result: map[string]any{"passed": true}})
	c, err := env.Engine.Issue(env.Ctx, c.ID, "officer-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := env.Engine.VerifyDocument(env.Ctx, strings.ToUpper(c.HashSHA256))
	if err != nil || got.ID != c.ID {
		t.Fatalf("verify: %v %s", err, got.ID)
	}
	var verr *engine.ValidationError
	if _, err := env.Engine.VerifyDocument(env.Ctx, "not-a-hash"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := env.Engine.VerifyDocument(env.Ctx, strings.Repeat("0", 64)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUnknownCaseIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Activate(env.Ctx, "nope", "officer-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.ListInspections(env.Ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRequestYearFollowsUTC(t *testing.T) {
	env := newTestEnv(t)
	// 02:00 on 1 January in UTC+5 is still 31 December in UTC
	env.Engine.Now = func() time.Time {
		return time.Date(2025, 1, 1, 2, 0, 0, 0, time.FixedZone("PKT", 5*60*60))
	}
	c := env.create(t, "demarcation")
	if c.RequestNo != "DEM-2024-000001" || c.CreatedAt != "2024-12-31T21:00:00Z" {
		t.Fatalf("expected a 2024 number created on 2024-12-31, got %s at %s", c.RequestNo, c.CreatedAt)
	}
	code, err := env.Engine.NextNumber(env.Ctx, "REG-BOOK", 0)
	if err != nil {
		t.Fatalf("next number: %v", err)
	}
	if code != "REG-BOOK-2024-000001" {
		t.Fatalf("expected default year 2024, got %s", code)
	}
}

func TestNextNumberRefusesCaseTypePrefixes(t *testing.T) {
	env := newTestEnv(t)
	for _, prefix := range []string{"DEM", "DEM-CERT", "WTR", "MTG-LTR"} {
		_, err := env.Engine.NextNumber(env.Ctx, prefix, 2024)
		var verr *engine.ValidationError
		if !errors.As(err, &verr) || verr.Field != "prefix" {
			t.Fatalf("%s: expected prefix validation error, got %v", prefix, err)
		}
	}
	c := env.create(t, "demarcation")
	if c.RequestNo != "DEM-2024-000001" {
		t.Fatalf("refused allocations consumed a number: %s", c.RequestNo)
	}
	counter, err := env.Engine.Counter(env.Ctx, "DEM-CERT", 2024)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if counter.CurrentValue != 0 {
		t.Fatalf("expected untouched certificate counter, got %d", counter.CurrentValue)
	}
}
