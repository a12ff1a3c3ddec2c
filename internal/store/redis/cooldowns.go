package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"signal-engine/internal/alert"

	goredis "github.com/go-redis/redis/v8"
)

const cooldownsKey = "alert:cooldowns"

// SaveCooldowns persists the controller state. Snapshots are never
// buffered while the breaker is open.
func (s *Store) SaveCooldowns(ctx context.Context, st alert.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal cooldowns: %w", err)
	}
	return s.cb.Execute(func() error {
		return s.client.Set(ctx, cooldownsKey, data, s.cfg.CooldownTTL).Err()
	})
}

// LoadCooldowns returns the persisted state. found is false when nothing
// was saved.
func (s *Store) LoadCooldowns(ctx context.Context) (st alert.State, found bool, err error) {
	var data []byte
	err = s.cb.Execute(func() (err error) {
		data, err = s.client.Get(ctx, cooldownsKey).Bytes()
		return err
	})
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return alert.State{}, false, nil
		}
		return alert.State{}, false, fmt.Errorf("redis GET %s: %w", cooldownsKey, err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return alert.State{}, false, fmt.Errorf("unmarshal cooldowns: %w", err)
	}
	return st, true, nil
}

var _ alert.StateStore = (*Store)(nil)
