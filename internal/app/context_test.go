package app

import (
	"context"
	"os"
	"strings"
	"testing"

	"parcelflow/internal/config"
	"parcelflow/internal/engine"
)

func TestOpenSeedsDefaultConfig(t *testing.T) {
	s := config.DefaultSettings()
	s.Workspace = t.TempDir()
	rt, err := Open(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	stored, err := rt.Engine.Repo.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("stored config: %v", err)
	}
	if len(stored.CaseTypes) != len(config.Default().CaseTypes) {
		t.Fatalf("expected default case types, got %d", len(stored.CaseTypes))
	}
	if rt.Engine.BaseURL != s.BaseURL || rt.Engine.Blobs == nil || rt.Engine.Metrics == nil {
		t.Fatalf("engine not wired: %+v", rt.Engine)
	}
}

func TestWorkspaceFileSeedsConfig(t *testing.T) {
	workspace := t.TempDir()
	custom := strings.Replace(config.GenerateDefault(), "prefix: DEM\n", "prefix: DMR\n", 1)
	if err := os.WriteFile(config.Path(workspace), []byte(custom), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	s := config.DefaultSettings()
	s.Workspace = workspace
	rt, err := Open(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	p, err := rt.Engine.CreateProperty(ctx, engine.PropertyCreateOptions{ParcelNo: "P-1", ActorID: "clerk"})
	if err != nil {
		t.Fatalf("property: %v", err)
	}
	o, err := rt.Engine.CreateParty(ctx, engine.PartyCreateOptions{Name: "Owner", ActorID: "clerk"})
	if err != nil {
		t.Fatalf("party: %v", err)
	}
	c, err := rt.Engine.CreateCase(ctx, engine.CaseCreateOptions{CaseType: "demarcation", SubjectID: p.ID, PartyID: o.ID, ActorID: "clerk"})
	if err != nil {
		t.Fatalf("case: %v", err)
	}
	if !strings.HasPrefix(c.RequestNo, "DMR-") {
		t.Fatalf("expected workspace prefix, got %s", c.RequestNo)
	}
}

func TestOpenRejectsBadSettings(t *testing.T) {
	s := config.DefaultSettings()
	s.Workspace = t.TempDir()
	s.BaseURL = "not-a-url"
	if _, err := Open(context.Background(), s, nil); err == nil {
		t.Fatalf("expected settings error")
	}
}
