package provider

import (
	"context"
	"testing"
	"time"
)

// stubClient is a controllable in-memory Client for registry tests.
type stubClient struct {
	name       string
	models     []string
	probeErr   error
	probeCalls int
	listCalls  int
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Describe(ctx context.Context, req DescribeRequest) (*Description, error) {
	return &Description{Text: "stub", Provider: s.name}, nil
}

func (s *stubClient) ListModels(ctx context.Context) ([]string, error) {
	s.listCalls++
	return s.models, nil
}

func (s *stubClient) Probe(ctx context.Context) error {
	s.probeCalls++
	return s.probeErr
}

func TestRegistryDescribeCachesWithinTTL(t *testing.T) {
	stub := &stubClient{name: "stub", models: []string{"b-model", "a-model"}}
	r := NewRegistry(stub)

	now := time.Now()
	r.now = func() time.Time { return now }

	d, err := r.Describe(context.Background(), "stub")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if d.Availability != Available {
		t.Fatalf("availability = %v, want available", d.Availability)
	}
	if len(d.Models) != 2 || d.Models[0] != "a-model" {
		t.Errorf("models = %v, want sorted [a-model b-model]", d.Models)
	}

	// Second query inside the TTL must not re-probe.
	now = now.Add(DefaultCacheTTL - time.Second)
	if _, err := r.Describe(context.Background(), "stub"); err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if stub.probeCalls != 1 {
		t.Errorf("probeCalls = %d, want 1 (cached)", stub.probeCalls)
	}

	// Past the TTL the registry probes again.
	now = now.Add(2 * time.Second)
	if _, err := r.Describe(context.Background(), "stub"); err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if stub.probeCalls != 2 {
		t.Errorf("probeCalls = %d, want 2 (expired)", stub.probeCalls)
	}
}

func TestRegistryCachesFailedProbe(t *testing.T) {
	stub := &stubClient{name: "stub", probeErr: Errorf(KindTransient, "stub", "down")}
	r := NewRegistry(stub)

	d, err := r.Describe(context.Background(), "stub")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if d.Availability != Unavailable {
		t.Fatalf("availability = %v, want unavailable", d.Availability)
	}
	if d.ProbeErr == nil {
		t.Error("ProbeErr should carry the probe failure")
	}

	// The failure is cached: no second probe inside the TTL.
	if _, err := r.Describe(context.Background(), "stub"); err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if stub.probeCalls != 1 {
		t.Errorf("probeCalls = %d, want 1 (failure cached)", stub.probeCalls)
	}
	if stub.listCalls != 0 {
		t.Errorf("listCalls = %d, want 0 (no model fetch when unavailable)", stub.listCalls)
	}
}

func TestRegistryRefreshInvalidates(t *testing.T) {
	stub := &stubClient{name: "stub"}
	r := NewRegistry(stub)

	if _, err := r.Describe(context.Background(), "stub"); err != nil {
		t.Fatal(err)
	}
	r.Refresh("stub")
	if _, err := r.Describe(context.Background(), "stub"); err != nil {
		t.Fatal(err)
	}
	if stub.probeCalls != 2 {
		t.Errorf("probeCalls = %d, want 2 after Refresh", stub.probeCalls)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry(&stubClient{name: "stub"})
	if _, err := r.Describe(context.Background(), "nope"); err == nil {
		t.Error("Describe of unconfigured provider should fail")
	}
	if _, err := r.Client("nope"); err == nil {
		t.Error("Client of unconfigured provider should fail")
	}
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry(&stubClient{name: "zeta"}, &stubClient{name: "alpha"})
	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names() = %v, want [alpha zeta]", names)
	}
}
