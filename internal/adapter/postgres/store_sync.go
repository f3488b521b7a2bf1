package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lancejames221b/haivemind/internal/domain/clock"
	"github.com/lancejames221b/haivemind/internal/domain/syncevent"
)

// GetSyncCheckpoint returns the last durably-applied status observed from a
// peer, used to resume a sync stream after a restart.
func (s *Store) GetSyncCheckpoint(ctx context.Context, peerMachineID string) (*syncevent.Status, error) {
	var machineID string
	var vc, peerClocks []byte
	err := s.pool.QueryRow(ctx,
		`SELECT machine_id, vector_clock, last_known_peer_clocks FROM sync_checkpoints WHERE machine_id = $1`,
		peerMachineID,
	).Scan(&machineID, &vc, &peerClocks)
	if err != nil {
		return nil, notFoundWrap(err, "get sync checkpoint for %s", peerMachineID)
	}

	status := &syncevent.Status{MachineID: machineID}
	if len(vc) > 0 {
		if err := json.Unmarshal(vc, &status.VectorClock); err != nil {
			return nil, fmt.Errorf("unmarshal vector_clock: %w", err)
		}
	}
	if len(peerClocks) > 0 {
		if err := json.Unmarshal(peerClocks, &status.LastKnownPeerClocks); err != nil {
			return nil, fmt.Errorf("unmarshal last_known_peer_clocks: %w", err)
		}
	}
	return status, nil
}

// SaveSyncCheckpoint persists the current clock state observed from a peer.
func (s *Store) SaveSyncCheckpoint(ctx context.Context, peerMachineID string, status syncevent.Status) error {
	if status.VectorClock == nil {
		status.VectorClock = clock.Vector{}
	}
	if status.LastKnownPeerClocks == nil {
		status.LastKnownPeerClocks = map[string]clock.Vector{}
	}

	vc, err := json.Marshal(status.VectorClock)
	if err != nil {
		return fmt.Errorf("marshal vector_clock: %w", err)
	}
	peerClocks, err := json.Marshal(status.LastKnownPeerClocks)
	if err != nil {
		return fmt.Errorf("marshal last_known_peer_clocks: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sync_checkpoints (machine_id, vector_clock, last_known_peer_clocks, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (machine_id) DO UPDATE SET
			vector_clock = EXCLUDED.vector_clock, last_known_peer_clocks = EXCLUDED.last_known_peer_clocks,
			updated_at = now()`,
		peerMachineID, vc, peerClocks)
	if err != nil {
		return fmt.Errorf("save sync checkpoint: %w", err)
	}
	return nil
}
