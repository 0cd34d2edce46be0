// Package config loads tenant/pipeline layouts from YAML files on
// disk into model.Abide, implementing pkg/reconfig.Loader. Shaped like
// the teacher's pkg/params/settings (config.go): a flat file decoded
// with sigs.k8s.io/yaml, validated, then converted into the runtime
// types the rest of the scheduler consumes.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/conveyor-ci/conveyor/pkg/model"
)

// Settings are the process-wide, non-tenant-specific knobs a daemon
// needs at startup (spec §6 "state dir, driver choice").
type Settings struct {
	StateDir        string             `json:"stateDir"`
	TenantsDir      string             `json:"tenantsDir"`
	ExecutorURL     string             `json:"executorUrl"`
	ExecutorReceive string             `json:"executorReceiveAddr"`
	ListenAddr      string             `json:"listenAddr"`
	ControlSocket   string             `json:"controlSocket"`
	MaxOutstanding  int                `json:"maxOutstandingBuilds"`
	Connections     []ConnectionConfig `json:"connections"`
	Nodes           []NodeConfig       `json:"nodes"`
}

// NodeConfig is one statically-inventoried worker node (spec §4.7's
// external node-provisioner contract, minimally implemented in-process
// by pkg/nodepool.StaticPool for single-binary deployments).
type NodeConfig struct {
	Name   string   `json:"name"`
	Labels []string `json:"labels"`
}

// ConnectionConfig describes one source-platform connection available
// to "source" entries in tenant pipeline files. Credentials (token,
// appPassword) are read from the named environment variable rather
// than stored on disk.
type ConnectionConfig struct {
	Name          string `json:"name"`
	Driver        string `json:"driver"` // "github" | "gitlab" | "bitbucket" | "gitea"
	Hostname      string `json:"hostname"`
	BaseURL       string `json:"baseUrl"`
	TokenEnv      string `json:"tokenEnv"`
	UsernameEnv   string `json:"usernameEnv"` // bitbucket only
	WebhookSecret string `json:"webhookSecret"`
}

// DefaultSettings returns the built-in defaults, overridden by
// whatever a loaded settings file sets.
func DefaultSettings() Settings {
	return Settings{
		StateDir:        "/var/lib/conveyor",
		TenantsDir:      "/etc/conveyor/tenants.d",
		ListenAddr:      ":8080",
		ExecutorReceive: ":8090",
		ControlSocket:   "/var/run/conveyor/control.sock",
		MaxOutstanding:  16,
	}
}

// LoadSettings reads a settings YAML file, merging its fields over the
// defaults. A missing file is not an error; the defaults stand alone.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("config: reading settings file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("config: parsing settings file %s: %w", path, err)
	}
	return settings, nil
}

// tenantFile is the on-disk shape of a single tenant's layout.
type tenantFile struct {
	Tenant    string          `json:"tenant"`
	Pipelines []pipelineEntry `json:"pipelines"`
}

type pipelineEntry struct {
	Name                string          `json:"name"`
	SourceName          string          `json:"source"`
	Manager             string          `json:"manager"` // "independent" | "dependent"
	AbortOnFirstFailure *bool           `json:"abortOnFirstFailure"`
	Queues              []queueEntry    `json:"queues"`
	Triggers            []filterEntry   `json:"triggers"`
	Requirements        []filterEntry   `json:"requirements"`
	Reporters           []reporterEntry `json:"reporters"`
	Jobs                []jobEntry      `json:"jobs"`
	Periodic            []periodicEntry `json:"periodic"`
}

type periodicEntry struct {
	Project string `json:"project"`
	Branch  string `json:"branch"`
	Cron    string `json:"cron"`
}

type queueEntry struct {
	Name     string   `json:"name"`
	Projects []string `json:"projects"`
}

type filterEntry struct {
	EventTypes       []string            `json:"eventTypes"`
	Branches         []string            `json:"branches"`
	Refs             []string            `json:"refs"`
	Comments         []string            `json:"comments"`
	RequireApprovals []approvalEntry     `json:"requireApprovals"`
	RejectApprovals  []approvalEntry     `json:"rejectApprovals"`
	RequireStatuses  []model.StatusRequirement `json:"requireStatuses"`
	RejectStatuses   []model.StatusRequirement `json:"rejectStatuses"`
	RequireUsernames []string            `json:"requireUsernames"`
	RejectUsernames  []string            `json:"rejectUsernames"`
	CELExpression    string              `json:"cel"`
}

type approvalEntry struct {
	Usernames []string `json:"usernames"`
	NewerThan string   `json:"newerThan"`
	OlderThan string   `json:"olderThan"`
	MinValue  *int     `json:"minValue"`
	MaxValue  *int     `json:"maxValue"`
}

type reporterEntry struct {
	Name    string `json:"name"`
	Context string `json:"context"`
}

type jobEntry struct {
	Name       string   `json:"name"`
	Mutex      string   `json:"mutex"`
	NodeLabels []string `json:"nodeLabels"`
	TimeoutSec int      `json:"timeoutSeconds"`
	DependsOn  []string `json:"dependsOn"`
	Required   bool     `json:"required"`
}

// ProjectResolver resolves a project name (as it appears in a queue's
// "projects" list) to a *model.Project, typically via the owning
// source.Adapter's GetProject.
type ProjectResolver func(ctx context.Context, sourceName, projectName string) (*model.Project, error)

// Loader implements pkg/reconfig.Loader by reading one YAML file per
// tenant from a directory (spec §4.6 "configuration is file-based").
type Loader struct {
	dir      string
	resolve  ProjectResolver
}

// NewLoader builds a Loader reading tenant files from dir (each named
// "<tenant>.yaml"), resolving project names via resolve.
func NewLoader(dir string, resolve ProjectResolver) *Loader {
	return &Loader{dir: dir, resolve: resolve}
}

// LoadAbide reads every "*.yaml" file in the loader's directory, one
// tenant per file.
func (l *Loader) LoadAbide(ctx context.Context) (*model.Abide, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("config: listing tenant files in %s: %w", l.dir, err)
	}
	abide := model.NewAbide()
	for _, path := range matches {
		tenant, err := l.loadTenantFile(ctx, path)
		if err != nil {
			return nil, err
		}
		abide.Tenants[tenant.Name] = tenant
	}
	return abide, nil
}

// LoadTenant reads a single tenant's file, named "<name>.yaml".
func (l *Loader) LoadTenant(ctx context.Context, name string) (*model.Tenant, error) {
	return l.loadTenantFile(ctx, filepath.Join(l.dir, name+".yaml"))
}

func (l *Loader) loadTenantFile(ctx context.Context, path string) (*model.Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading tenant file %s: %w", path, err)
	}
	var tf tenantFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("config: parsing tenant file %s: %w", path, err)
	}
	if tf.Tenant == "" {
		return nil, fmt.Errorf("config: tenant file %s has no tenant name", path)
	}

	layout := model.NewLayout()
	for _, pe := range tf.Pipelines {
		pl, err := l.buildPipeline(ctx, tf.Tenant, pe)
		if err != nil {
			return nil, fmt.Errorf("config: tenant %s pipeline %s: %w", tf.Tenant, pe.Name, err)
		}
		layout.Pipelines[pl.Name] = pl
	}
	return &model.Tenant{Name: tf.Tenant, Layout: layout}, nil
}

func (l *Loader) buildPipeline(ctx context.Context, tenant string, pe pipelineEntry) (*model.Pipeline, error) {
	manager := model.ManagerIndependent
	if pe.Manager == "dependent" {
		manager = model.ManagerDependent
	}
	abortOnFirstFailure := manager == model.ManagerDependent
	if pe.AbortOnFirstFailure != nil {
		abortOnFirstFailure = *pe.AbortOnFirstFailure
	}

	queues := make([]*model.SharedQueue, 0, len(pe.Queues))
	for _, qe := range pe.Queues {
		projects := make([]*model.Project, 0, len(qe.Projects))
		for _, name := range qe.Projects {
			project, err := l.resolve(ctx, pe.SourceName, name)
			if err != nil {
				return nil, fmt.Errorf("resolving project %s: %w", name, err)
			}
			projects = append(projects, project)
		}
		queues = append(queues, model.NewSharedQueue(qe.Name, projects))
	}

	jobs := make([]*model.Job, 0, len(pe.Jobs))
	for _, je := range pe.Jobs {
		jobs = append(jobs, &model.Job{
			Name:       je.Name,
			Mutex:      je.Mutex,
			NodeLabels: je.NodeLabels,
			Timeout:    time.Duration(je.TimeoutSec) * time.Second,
			DependsOn:  je.DependsOn,
			Required:   je.Required,
		})
	}

	periodic := make([]model.PeriodicTrigger, 0, len(pe.Periodic))
	for _, pt := range pe.Periodic {
		project, err := l.resolve(ctx, pe.SourceName, pt.Project)
		if err != nil {
			return nil, fmt.Errorf("resolving periodic trigger project %s: %w", pt.Project, err)
		}
		periodic = append(periodic, model.PeriodicTrigger{Project: project, Branch: pt.Branch, Cron: pt.Cron})
	}

	return &model.Pipeline{
		Name:                pe.Name,
		Tenant:              tenant,
		Queues:              queues,
		SourceName:          pe.SourceName,
		Triggers:            convertFilters(pe.Triggers),
		Reporters:           convertReporters(pe.Reporters),
		Manager:             manager,
		Requirements:        convertFilters(pe.Requirements),
		Jobs:                jobs,
		Periodic:            periodic,
		AbortOnFirstFailure: abortOnFirstFailure,
	}, nil
}

func convertFilters(entries []filterEntry) []model.TriggerFilter {
	out := make([]model.TriggerFilter, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.TriggerFilter{
			EventTypes:       e.EventTypes,
			Branches:         e.Branches,
			Refs:             e.Refs,
			Comments:         e.Comments,
			RequireApprovals: convertApprovals(e.RequireApprovals),
			RejectApprovals:  convertApprovals(e.RejectApprovals),
			RequireStatuses:  e.RequireStatuses,
			RejectStatuses:   e.RejectStatuses,
			RequireUsernames: e.RequireUsernames,
			RejectUsernames:  e.RejectUsernames,
			CELExpression:    e.CELExpression,
		})
	}
	return out
}

func convertApprovals(entries []approvalEntry) []model.ApprovalRequirement {
	out := make([]model.ApprovalRequirement, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.ApprovalRequirement{
			Usernames: e.Usernames,
			NewerThan: e.NewerThan,
			OlderThan: e.OlderThan,
			MinValue:  e.MinValue,
			MaxValue:  e.MaxValue,
		})
	}
	return out
}

func convertReporters(entries []reporterEntry) []model.ReporterAction {
	out := make([]model.ReporterAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.ReporterAction{Name: e.Name, Context: e.Context})
	}
	return out
}
