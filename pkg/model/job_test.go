package model

import "testing"

func TestJobTreeOrdersDependenciesBeforeDependents(t *testing.T) {
	build := &Job{Name: "build"}
	unit := &Job{Name: "unit", DependsOn: []string{"build"}}
	deploy := &Job{Name: "deploy", DependsOn: []string{"unit"}}

	tree := NewJobTree([]*Job{deploy, unit, build})

	order := tree.Jobs()
	pos := make(map[string]int, len(order))
	for i, j := range order {
		pos[j.Name] = i
	}
	if pos["build"] > pos["unit"] || pos["unit"] > pos["deploy"] {
		t.Fatalf("expected build < unit < deploy in topological order, got %v", order)
	}
}

func TestJobTreeReadyJobsRespectsDependencies(t *testing.T) {
	build := &Job{Name: "build"}
	unit := &Job{Name: "unit", DependsOn: []string{"build"}}
	lint := &Job{Name: "lint"}
	tree := NewJobTree([]*Job{build, unit, lint})

	ready := tree.ReadyJobs(map[string]bool{})
	names := make(map[string]bool)
	for _, j := range ready {
		names[j.Name] = true
	}
	if !names["build"] || !names["lint"] {
		t.Fatalf("expected build and lint ready with nothing satisfied, got %v", ready)
	}
	if names["unit"] {
		t.Fatalf("did not expect unit ready before build completes")
	}

	ready = tree.ReadyJobs(map[string]bool{"build": true, "lint": true})
	names = make(map[string]bool)
	for _, j := range ready {
		names[j.Name] = true
	}
	if !names["unit"] {
		t.Fatalf("expected unit ready once build is satisfied")
	}
}

func TestJobTreePanicsOnCycle(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected NewJobTree to panic on a cyclic dependency")
		}
	}()
	a := &Job{Name: "a", DependsOn: []string{"b"}}
	b := &Job{Name: "b", DependsOn: []string{"a"}}
	NewJobTree([]*Job{a, b})
}
