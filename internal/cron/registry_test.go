package cron

import (
	"context"
	"testing"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndRejectsDuplicates(t *testing.T) {
	registry := NewRegistry(namedJob("reconcile"), nil, namedJob("audit"), namedJob("reconcile"))
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Name() != "reconcile" || jobs[1].Name() != "audit" {
		t.Fatalf("unexpected order %s, %s", jobs[0].Name(), jobs[1].Name())
	}

	if err := registry.Register(namedJob("audit")); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}
	if err := registry.Register(namedJob("  ")); err == nil {
		t.Fatalf("expected blank name to be rejected")
	}
	if err := registry.Register(namedJob("outbox")); err != nil {
		t.Fatalf("register: %v", err)
	}

	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("Jobs must return a copy")
	}
}
