package audit

import "testing"

func TestValidateRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr string
	}{
		{
			name:    "missing actor_agent_id",
			entry:   Entry{ActorMachineID: "m1", Operation: OperationMemoryCreate, TargetID: "t1", Outcome: OutcomeSuccess},
			wantErr: "actor_agent_id is required",
		},
		{
			name:    "missing actor_machine_id",
			entry:   Entry{ActorAgentID: "a1", Operation: OperationMemoryCreate, TargetID: "t1", Outcome: OutcomeSuccess},
			wantErr: "actor_machine_id is required",
		},
		{
			name:    "missing operation",
			entry:   Entry{ActorAgentID: "a1", ActorMachineID: "m1", TargetID: "t1", Outcome: OutcomeSuccess},
			wantErr: "operation is required",
		},
		{
			name:    "missing target_id",
			entry:   Entry{ActorAgentID: "a1", ActorMachineID: "m1", Operation: OperationMemoryCreate, Outcome: OutcomeSuccess},
			wantErr: "target_id is required",
		},
		{
			name:    "invalid outcome",
			entry:   Entry{ActorAgentID: "a1", ActorMachineID: "m1", Operation: OperationMemoryCreate, TargetID: "t1", Outcome: "maybe"},
			wantErr: "outcome must be one of success, denied, failed",
		},
		{
			name:  "valid",
			entry: Entry{ActorAgentID: "a1", ActorMachineID: "m1", Operation: OperationMemoryCreate, TargetID: "t1", Outcome: OutcomeSuccess},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
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
