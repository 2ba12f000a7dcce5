package store

import "testing"

func TestMatchesCapabilitiesEmptyAcceptsAnything(t *testing.T) {
	if !matchesCapabilities("chaos-101", nil) {
		t.Fatal("empty supported list should accept any problem id")
	}
}

func TestMatchesCapabilitiesSubstring(t *testing.T) {
	if !matchesCapabilities("kafka-broker-outage", []string{"kafka"}) {
		t.Fatal("expected substring match on kafka")
	}
	if matchesCapabilities("postgres-failover", []string{"kafka", "redis"}) {
		t.Fatal("did not expect a match")
	}
}

func TestValidateWorkerID(t *testing.T) {
	valid := []string{"worker-001-internal", "worker-100-orchestrator"}
	for _, id := range valid {
		if err := ValidateWorkerID(id); err != nil {
			t.Errorf("expected %q to be valid, got %v", id, err)
		}
	}

	invalid := []string{"worker-1-internal", "worker-001", "worker001-internal"}
	for _, id := range invalid {
		if err := ValidateWorkerID(id); err == nil {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}
