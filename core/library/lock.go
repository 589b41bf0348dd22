package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	lockPrefix   = "referee:config:lock:"
	lockTTL      = 5 * time.Second
	lockAttempts = 20
	lockBackoff  = 25 * time.Millisecond
)

// ErrBusy is returned when another writer holds the save lock for an id.
var ErrBusy = errors.New("config is being saved by another writer")

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// withLock runs fn while holding the exclusive save lock for id. The lock
// expires after lockTTL so a crashed writer cannot wedge the id.
func (s *Store) withLock(ctx context.Context, id string, fn func() error) error {
	key := lockPrefix + id
	owner := uuid.NewString()
	for attempt := 0; ; attempt++ {
		ok, err := s.client.SetNX(ctx, key, owner, lockTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", id, err)
		}
		if ok {
			break
		}
		if attempt+1 >= lockAttempts {
			return ErrBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
	defer func() {
		_ = s.client.Eval(context.WithoutCancel(ctx), releaseScript, []string{key}, owner).Err()
	}()
	return fn()
}
