package agent

import (
	"testing"
	"time"
)

func TestRegisterRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr string
	}{
		{
			name:    "missing agent id",
			req:     RegisterRequest{MachineID: "m1", Role: "worker"},
			wantErr: "agent_id is required",
		},
		{
			name:    "missing machine id",
			req:     RegisterRequest{AgentID: "a1", Role: "worker"},
			wantErr: "machine_id is required",
		},
		{
			name:    "missing role",
			req:     RegisterRequest{AgentID: "a1", MachineID: "m1"},
			wantErr: "role is required",
		},
		{
			name: "duplicate capability",
			req: RegisterRequest{
				AgentID: "a1", MachineID: "m1", Role: "worker",
				Capabilities: []string{"go", "go"},
			},
			wantErr: "duplicate capability: go",
		},
		{
			name: "valid",
			req: RegisterRequest{
				AgentID: "a1", MachineID: "m1", Role: "worker",
				Capabilities: []string{"go", "python"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("expected %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	recent := now.Add(-30 * time.Second)
	if got := DeriveStatus(recent, now); got != StatusActive {
		t.Errorf("expected active for on-time heartbeat, got %s", got)
	}

	missedOne := now.Add(-100 * time.Second)
	if got := DeriveStatus(missedOne, now); got != StatusIdle {
		t.Errorf("expected idle after missed heartbeat, got %s", got)
	}

	stale := now.Add(-6 * time.Minute)
	if got := DeriveStatus(stale, now); got != StatusOffline {
		t.Errorf("expected offline for stale heartbeat, got %s", got)
	}
}

func TestCredibilityInCategoryDefaultsToNovice(t *testing.T) {
	a := Agent{Credibility: map[string]Credibility{}}
	got := a.CredibilityInCategory("security")
	if got.Score != 0.5 {
		t.Errorf("expected novice default score 0.5, got %v", got.Score)
	}
}

func TestCredibilityInCategoryReturnsTrackedScore(t *testing.T) {
	a := Agent{Credibility: map[string]Credibility{
		"security": {VerifiedCorrect: 8, VerifiedIncorrect: 2, Score: 0.8},
	}}
	got := a.CredibilityInCategory("security")
	if got.Score != 0.8 {
		t.Errorf("expected tracked score 0.8, got %v", got.Score)
	}
}

func TestHasCapability(t *testing.T) {
	a := Agent{Capabilities: []string{"go", "terraform"}}
	if !a.HasCapability("go") {
		t.Error("expected HasCapability(go) to be true")
	}
	if a.HasCapability("rust") {
		t.Error("expected HasCapability(rust) to be false")
	}
}
