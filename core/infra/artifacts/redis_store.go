package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/refereehq/referee/core/infra/redisutil"
)

const (
	defaultShortTTL        = time.Hour
	defaultStandardTTL     = 7 * 24 * time.Hour
	defaultAuditTTL        = 90 * 24 * time.Hour
	envArtifactTTLShort    = "ARTIFACT_TTL_SHORT"
	envArtifactTTLStandard = "ARTIFACT_TTL_STANDARD"
	envArtifactTTLAudit    = "ARTIFACT_TTL_AUDIT"
)

// RedisStore implements artifact storage using Redis.
type RedisStore struct {
	client      redis.UniversalClient
	ttlShort    time.Duration
	ttlStandard time.Duration
	ttlAudit    time.Duration
	now         func() time.Time
}

// NewRedisStore constructs an artifact store backed by Redis.
func NewRedisStore(url string) (*RedisStore, error) {
	client, err := redisutil.Connect(context.Background(), url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{
		client:      client,
		ttlShort:    parseDurationEnv(envArtifactTTLShort, defaultShortTTL),
		ttlStandard: parseDurationEnv(envArtifactTTLStandard, defaultStandardTTL),
		ttlAudit:    parseDurationEnv(envArtifactTTLAudit, defaultAuditTTL),
		now:         time.Now,
	}, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Put stores content and metadata, returning an artifact pointer.
func (s *RedisStore) Put(ctx context.Context, content []byte, meta Metadata) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrUnavailable
	}
	id := uuid.NewString()
	meta.SizeBytes = int64(len(content))
	if meta.Retention == "" {
		meta.Retention = RetentionStandard
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now().UTC()
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	ttl := s.ttlFor(meta.Retention)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, MakeArtifactKey(id), content, ttl)
	pipe.Set(ctx, artifactMetaKey(id), payload, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return PointerForID(id), nil
}

// Get returns artifact content and metadata for a pointer or bare id. A
// missing or expired artifact yields redis.Nil.
func (s *RedisStore) Get(ctx context.Context, ptr string) ([]byte, Metadata, error) {
	if s == nil || s.client == nil {
		return nil, Metadata{}, ErrUnavailable
	}
	id, err := IDFromPointer(ptr)
	if err != nil {
		return nil, Metadata{}, err
	}
	pipe := s.client.Pipeline()
	contentCmd := pipe.Get(ctx, MakeArtifactKey(id))
	metaCmd := pipe.Get(ctx, artifactMetaKey(id))
	_, _ = pipe.Exec(ctx)

	content, err := contentCmd.Bytes()
	if err != nil {
		return nil, Metadata{}, err
	}
	var meta Metadata
	if data, err := metaCmd.Bytes(); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return content, meta, nil
}

// TTL reports how long the artifact behind ptr is kept.
func (s *RedisStore) TTL(ctx context.Context, ptr string) (time.Duration, error) {
	if s == nil || s.client == nil {
		return 0, ErrUnavailable
	}
	id, err := IDFromPointer(ptr)
	if err != nil {
		return 0, err
	}
	return s.client.TTL(ctx, MakeArtifactKey(id)).Result()
}

func (s *RedisStore) ttlFor(retention RetentionClass) time.Duration {
	switch retention {
	case RetentionShort:
		return s.ttlShort
	case RetentionAudit:
		return s.ttlAudit
	default:
		return s.ttlStandard
	}
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
