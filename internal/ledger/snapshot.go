package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/lox/wordchain/internal/fileutil"
)

type snapshot struct {
	Version int    `json:"version"`
	Height  uint64 `json:"height"`
	State   *state `json:"state"`
}

const snapshotVersion = 1

// Save writes the full ledger to path. Readers of the file only ever see a
// complete snapshot.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	b, err := json.MarshalIndent(snapshot{Version: snapshotVersion, Height: s.heights.Height(), State: s.st}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("write ledger snapshot: %w", err)
	}
	return nil
}

// Load restores a ledger saved with Save. A missing file yields a fresh
// ledger using cfg. The stored admin and economics win over cfg so a restart
// cannot silently rewrite them.
func Load(path string, cfg GameConfig, heights Heights, logger *log.Logger) (*Store, uint64, error) {
	store := NewStore(cfg, heights, logger)

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store, 0, nil
		}
		return nil, 0, fmt.Errorf("read ledger snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, 0, fmt.Errorf("decode ledger snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, 0, fmt.Errorf("ledger snapshot version %d is not supported", snap.Version)
	}
	if snap.State == nil {
		return nil, 0, fmt.Errorf("ledger snapshot has no state")
	}
	snap.State.normalize()
	if err := snap.State.check(); err != nil {
		return nil, 0, fmt.Errorf("ledger snapshot: %w", err)
	}

	store.st = snap.State
	store.logger.Info("Ledger restored", "path", path, "rounds", len(snap.State.Rounds), "height", snap.Height)
	return store, snap.Height, nil
}

// check verifies the invariants a restored state must satisfy.
func (s *state) check() error {
	for id, r := range s.Rounds {
		if r.ID != id {
			return fmt.Errorf("round key %d holds round %d", id, r.ID)
		}
		if r.Revealed && (r.Active || !ValidOption(r.CorrectOption)) {
			return fmt.Errorf("round %d is revealed but inconsistent", id)
		}
		want, err := mulChecked(uint64(r.ParticipantCount), r.EntryFee, "pool")
		if err != nil {
			return err
		}
		if r.Pool != want {
			return fmt.Errorf("round %d pool %d does not match %d participants", id, r.Pool, r.ParticipantCount)
		}
		if len(s.Joined[id]) != int(r.ParticipantCount) || len(s.Guesses[id]) != int(r.ParticipantCount) {
			return fmt.Errorf("round %d guesses do not match participant count", id)
		}
		if s.Guesses[id] == nil {
			s.Guesses[id] = map[string]Guess{}
		}
	}
	if s.Config.CurrentRoundID != 0 {
		if _, ok := s.Rounds[s.Config.CurrentRoundID]; !ok {
			return fmt.Errorf("current round %d is missing", s.Config.CurrentRoundID)
		}
	}
	return nil
}
