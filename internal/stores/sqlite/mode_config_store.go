package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aristath/sentinel-core/internal/external"
	"github.com/aristath/sentinel-core/internal/modecontrol"
)

const modeConfigKey = "mode_controller:config"

// persistedModeConfig is the JSON-friendly mirror of modecontrol.Config;
// HistoricalReplayConfig's time.Time fields round-trip fine through
// encoding/json directly, so only the pointer-to-Mode needs care.
type persistedModeConfig struct {
	ManualOverride   *modecontrol.Mode                     `json:"manual_override,omitempty"`
	HistoricalReplay *modecontrol.HistoricalReplayConfig `json:"historical_replay,omitempty"`
}

// ModeConfigStore implements modecontrol.ConfigStore on top of the shared
// KeyValueStore, so the mode FSM's manual override and historical-replay
// window persist in the same KV table as Clock's virtual-time keys.
type ModeConfigStore struct {
	kv external.KeyValueStore
}

// NewModeConfigStore wraps a KeyValueStore (typically the KVStore in this
// package) as a modecontrol.ConfigStore.
func NewModeConfigStore(kv external.KeyValueStore) *ModeConfigStore {
	return &ModeConfigStore{kv: kv}
}

func (s *ModeConfigStore) LoadModeConfig(ctx context.Context) (modecontrol.Config, error) {
	raw, ok, err := s.kv.Get(ctx, modeConfigKey)
	if err != nil {
		return modecontrol.Config{}, fmt.Errorf("load mode config: %w", err)
	}
	if !ok {
		return modecontrol.Config{}, nil
	}

	var persisted persistedModeConfig
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		return modecontrol.Config{}, fmt.Errorf("unmarshal mode config: %w", err)
	}
	return modecontrol.Config{
		ManualOverride:   persisted.ManualOverride,
		HistoricalReplay: persisted.HistoricalReplay,
	}, nil
}

func (s *ModeConfigStore) SaveModeConfig(ctx context.Context, cfg modecontrol.Config) error {
	persisted := persistedModeConfig{
		ManualOverride:   cfg.ManualOverride,
		HistoricalReplay: cfg.HistoricalReplay,
	}
	blob, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("marshal mode config: %w", err)
	}
	if err := s.kv.Set(ctx, modeConfigKey, string(blob), 0); err != nil {
		return fmt.Errorf("save mode config: %w", err)
	}
	return nil
}
