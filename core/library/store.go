// Package library persists finished canary configurations in Redis.
//
// Every save bumps the document revision and records the sha256 of its
// canonical JSON so clients can detect unchanged saves. An index sorted by
// update time backs List and is capped at indexMaxLen entries.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/refereehq/referee/core/canary"
	"github.com/refereehq/referee/core/infra/redisutil"
)

const (
	keyPrefix    = "referee:config:"
	indexKey     = "referee:config:index"
	indexMaxLen  = 500
	defaultLimit = 50
)

// ErrUnavailable is returned by a nil or closed store.
var ErrUnavailable = errors.New("config library unavailable")

// Entry is a stored canary configuration.
type Entry struct {
	ID        string        `json:"id"`
	Config    canary.Config `json:"config"`
	Revision  int64         `json:"revision"`
	Hash      string        `json:"hash"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Summary is the listing view of an entry.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MetricCount int       `json:"metric_count"`
	Sources     []string  `json:"sources"`
	Revision    int64     `json:"revision"`
	Hash        string    `json:"hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists canary configs in Redis.
type Store struct {
	client redis.UniversalClient
	now    func() time.Time
}

// New creates a library store backed by Redis.
func New(url string) (*Store, error) {
	client, err := redisutil.Connect(context.Background(), url)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Save stores cfg under id, or under a fresh id when id is empty. Saving an
// unchanged document keeps its revision. Concurrent saves of one id are
// serialized by a short-lived Redis lock; ErrBusy means it stayed held.
func (s *Store) Save(ctx context.Context, id string, cfg canary.Config) (*Entry, error) {
	if s == nil || s.client == nil {
		return nil, ErrUnavailable
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	cfg = cfg.Clone()
	cfg.Normalize()
	hash, err := canary.Hash(cfg)
	if err != nil {
		return nil, fmt.Errorf("hash config: %w", err)
	}

	var entry *Entry
	err = s.withLock(ctx, id, func() error {
		var err error
		entry, err = s.write(ctx, id, cfg, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) write(ctx context.Context, id string, cfg canary.Config, hash string) (*Entry, error) {
	entry := &Entry{ID: id, Config: cfg, Hash: hash}
	prev, err := s.Get(ctx, id)
	switch {
	case err == nil:
		if prev.Hash == hash {
			return prev, nil
		}
		entry.Revision = prev.Revision
	case !errors.Is(err, redis.Nil):
		return nil, err
	}
	entry.Revision++
	entry.UpdatedAt = s.now().UTC()

	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entryKey(id), payload, 0)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(entry.UpdatedAt.UnixNano()), Member: id})
	pipe.ZRemRangeByRank(ctx, indexKey, 0, -indexMaxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("save config %s: %w", id, err)
	}
	return entry, nil
}

// Get fetches an entry. A missing id yields redis.Nil.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	if s == nil || s.client == nil {
		return nil, ErrUnavailable
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("config id required")
	}
	data, err := s.client.Get(ctx, entryKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry %s: %w", id, err)
	}
	entry.Config.Normalize()
	return &entry, nil
}

// Delete removes an entry. A missing id yields redis.Nil.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s == nil || s.client == nil {
		return ErrUnavailable
	}
	id = strings.TrimSpace(id)
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, entryKey(id))
	pipe.ZRem(ctx, indexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete config %s: %w", id, err)
	}
	if del.Val() == 0 {
		return redis.Nil
	}
	return nil
}

// List returns up to limit summaries, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if s == nil || s.client == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > indexMaxLen {
		limit = indexMaxLen
	}
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	if len(ids) == 0 {
		return []Summary{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load configs: %w", err)
	}
	out := make([]Summary, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, Summary{
			ID:          entry.ID,
			Name:        entry.Config.Name,
			MetricCount: len(entry.Config.Metrics),
			Sources:     querySources(entry.Config.Metrics),
			Revision:    entry.Revision,
			Hash:        entry.Hash,
			UpdatedAt:   entry.UpdatedAt,
		})
	}
	return out, nil
}

// querySources lists the distinct metric source types in first-use order.
func querySources(metrics []canary.Metric) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, m := range metrics {
		if t := m.QueryType(); t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func entryKey(id string) string {
	return keyPrefix + id
}
