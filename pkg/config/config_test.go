package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

func resolverStub(ctx context.Context, sourceName, projectName string) (*model.Project, error) {
	return &model.Project{CanonicalHostname: "github.com", Name: projectName, SourceName: sourceName}, nil
}

func writeTenantFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing tenant file: %v", err)
	}
}

const sampleTenant = `
tenant: acme
pipelines:
  - name: check
    source: github
    manager: independent
    queues:
      - name: default
        projects: ["org/repo"]
    triggers:
      - eventTypes: ["patchset-created"]
        branches: ["main"]
    reporters:
      - name: status
        context: ci/conveyor
    jobs:
      - name: unit
        required: true
        timeoutSeconds: 600
      - name: integration
        dependsOn: ["unit"]
        required: true
    periodic:
      - project: "org/repo"
        branch: "main"
        cron: "0 */4 * * *"
`

func TestLoadTenantParsesPipelinesQueuesAndJobs(t *testing.T) {
	dir := t.TempDir()
	writeTenantFile(t, dir, "acme.yaml", sampleTenant)
	loader := NewLoader(dir, resolverStub)

	tenant, err := loader.LoadTenant(context.Background(), "acme")
	if err != nil {
		t.Fatalf("LoadTenant: %v", err)
	}
	if tenant.Name != "acme" {
		t.Fatalf("expected tenant acme, got %s", tenant.Name)
	}
	pl := tenant.Layout.Pipelines["check"]
	if pl == nil {
		t.Fatalf("expected a check pipeline")
	}
	if pl.Manager != model.ManagerIndependent {
		t.Fatalf("expected independent manager, got %s", pl.Manager)
	}
	if len(pl.Jobs) != 2 || pl.Jobs[1].DependsOn[0] != "unit" {
		t.Fatalf("unexpected jobs: %+v", pl.Jobs)
	}
	if len(pl.Queues) != 1 || pl.Queues[0].Name != "default" {
		t.Fatalf("unexpected queues: %+v", pl.Queues)
	}
	if len(pl.Triggers) != 1 || pl.Triggers[0].Branches[0] != "main" {
		t.Fatalf("unexpected triggers: %+v", pl.Triggers)
	}
	if len(pl.Periodic) != 1 || pl.Periodic[0].Cron != "0 */4 * * *" || pl.Periodic[0].Project.Name != "org/repo" {
		t.Fatalf("unexpected periodic triggers: %+v", pl.Periodic)
	}
}

func TestLoadAbideReadsEveryTenantFile(t *testing.T) {
	dir := t.TempDir()
	writeTenantFile(t, dir, "acme.yaml", sampleTenant)
	writeTenantFile(t, dir, "other.yaml", `
tenant: other
pipelines: []
`)
	loader := NewLoader(dir, resolverStub)

	abide, err := loader.LoadAbide(context.Background())
	if err != nil {
		t.Fatalf("LoadAbide: %v", err)
	}
	if len(abide.Tenants) != 2 {
		t.Fatalf("expected 2 tenants, got %d", len(abide.Tenants))
	}
	if abide.Tenants["other"].Layout.Pipelines == nil {
		t.Fatalf("expected an initialized (empty) pipelines map")
	}
}

func TestLoadTenantRejectsMissingTenantName(t *testing.T) {
	dir := t.TempDir()
	writeTenantFile(t, dir, "bad.yaml", "pipelines: []\n")
	loader := NewLoader(dir, resolverStub)

	if _, err := loader.LoadTenant(context.Background(), "bad"); err == nil {
		t.Fatalf("expected an error for a tenant file with no tenant name")
	}
}

func TestDefaultSettingsAppliedWhenFileMissing(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %s", settings.ListenAddr)
	}
}

func TestLoadSettingsOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("listenAddr: \":9090\"\n"), 0o644); err != nil {
		t.Fatalf("writing settings file: %v", err)
	}

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings.ListenAddr != ":9090" {
		t.Fatalf("expected overridden listen addr, got %s", settings.ListenAddr)
	}
	if settings.StateDir != "/var/lib/conveyor" {
		t.Fatalf("expected default state dir to survive partial override, got %s", settings.StateDir)
	}
}

func TestLoadSettingsParsesConnections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := "connections:\n" +
		"  - name: \"gh\"\n" +
		"    driver: \"github\"\n" +
		"    hostname: \"github.com\"\n" +
		"    tokenEnv: \"GITHUB_TOKEN\"\n" +
		"    webhookSecret: \"s3cr3t\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing settings file: %v", err)
	}

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if len(settings.Connections) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(settings.Connections))
	}
	conn := settings.Connections[0]
	if conn.Name != "gh" || conn.Driver != "github" || conn.TokenEnv != "GITHUB_TOKEN" {
		t.Fatalf("unexpected connection: %+v", conn)
	}
}
