package model

// Layout is a tenant's compiled pipeline and job definitions (spec
// §3).
type Layout struct {
	Pipelines      map[string]*Pipeline
	ProjectConfigs map[string]*Project
}

// NewLayout creates an empty layout.
func NewLayout() *Layout {
	return &Layout{
		Pipelines:      make(map[string]*Pipeline),
		ProjectConfigs: make(map[string]*Project),
	}
}

// Tenant is an isolation scope containing its own layout (spec §3).
type Tenant struct {
	Name   string
	Layout *Layout
}

// Abide is the root container of all configured tenants and their
// layouts; it is replaced wholesale on reconfigure (spec §3, §4.6).
type Abide struct {
	Tenants map[string]*Tenant
}

// NewAbide creates an empty Abide.
func NewAbide() *Abide {
	return &Abide{Tenants: make(map[string]*Tenant)}
}
