package parcelflowsdk_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"parcelflow/internal/blob/fs"
	"parcelflow/internal/config"
	"parcelflow/internal/db"
	"parcelflow/internal/engine"
	"parcelflow/internal/migrate"
	"parcelflow/internal/server"
	parcelflowsdk "parcelflow/sdk/go"
)

func TestClientDrivesDemarcation(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	blobs, err := fs.New(filepath.Join(dir, "documents"))
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	e := engine.New(conn, config.Default(), blobs)
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	p, err := e.CreateProperty(ctx, engine.PropertyCreateOptions{ParcelNo: "P-9", ActorID: "clerk"})
	if err != nil {
		t.Fatalf("property: %v", err)
	}
	o, err := e.CreateParty(ctx, engine.PartyCreateOptions{Name: "Owner", ActorID: "clerk"})
	if err != nil {
		t.Fatalf("party: %v", err)
	}
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{AllowActorHeader: true}})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	client := parcelflowsdk.New(srv.URL, "")
	client.ActorID = "officer-1"

	c, err := client.CreateCase(ctx, parcelflowsdk.CreateCase{CaseType: "demarcation", SubjectID: p.ID, PartyID: o.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.RequestNo != "DEM-2024-000001" {
		t.Fatalf("unexpected number %s", c.RequestNo)
	}

	_, err = client.Issue(ctx, c.ID)
	if !parcelflowsdk.IsCode(err, "invalid_state") {
		t.Fatalf("expected invalid_state, got %v", err)
	}

	if _, err := client.ScheduleInspection(ctx, c.ID, time.Time{}, map[string]bool{"siteVisible": true, "boundaryMarked": true}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := client.CompleteInspection(ctx, c.ID, map[string]any{"passed": true}, "pillars intact"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	issued, err := client.Issue(ctx, c.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.CertificateNo != "DEM-CERT-2024-000001" || issued.IssuedBy != "officer-1" {
		t.Fatalf("unexpected issued case %+v", issued)
	}

	anon := parcelflowsdk.New(srv.URL, "")
	v, err := anon.Verify(ctx, issued.HashSHA256)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !v.Valid || v.CertificateNo != issued.CertificateNo || v.ParcelNo != "P-9" {
		t.Fatalf("unexpected verification %+v", v)
	}

	if _, err := anon.GetCase(ctx, c.ID); !parcelflowsdk.IsCode(err, "unauthorized") {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	events, err := client.Events(ctx, 2)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[0].Type != "case.issue" {
		t.Fatalf("unexpected events %+v", events)
	}
}
