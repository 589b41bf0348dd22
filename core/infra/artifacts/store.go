// Package artifacts keeps exported canary config snapshots for a bounded time.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RetentionClass controls artifact TTL semantics.
type RetentionClass string

const (
	RetentionShort    RetentionClass = "short"
	RetentionStandard RetentionClass = "standard"
	RetentionAudit    RetentionClass = "audit"
)

const pointerPrefix = "redis://"

// ErrUnavailable is returned by a nil or closed store.
var ErrUnavailable = errors.New("artifact store unavailable")

// Metadata describes stored artifacts.
type Metadata struct {
	ContentType string            `json:"content_type,omitempty"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	Retention   RetentionClass    `json:"retention,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Store provides artifact pointer storage.
type Store interface {
	Put(ctx context.Context, content []byte, meta Metadata) (string, error)
	Get(ctx context.Context, ptr string) ([]byte, Metadata, error)
}

// ParseRetention maps user input to a retention class. Empty input means
// standard retention.
func ParseRetention(raw string) (RetentionClass, error) {
	switch RetentionClass(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RetentionStandard:
		return RetentionStandard, nil
	case RetentionShort:
		return RetentionShort, nil
	case RetentionAudit:
		return RetentionAudit, nil
	default:
		return "", fmt.Errorf("unknown retention %q", raw)
	}
}

// MakeArtifactKey constructs the redis key for an artifact.
func MakeArtifactKey(id string) string {
	return "art:" + id
}

func artifactMetaKey(id string) string {
	return "art:meta:" + id
}

// PointerForID returns the pointer handed out for an artifact id.
func PointerForID(id string) string {
	return pointerPrefix + MakeArtifactKey(id)
}

// IDFromPointer extracts the artifact id from a redis:// pointer. A bare id is
// accepted as is.
func IDFromPointer(ptr string) (string, error) {
	ptr = strings.TrimSpace(ptr)
	if ptr == "" {
		return "", errors.New("empty pointer")
	}
	if !strings.Contains(ptr, "://") {
		return ptr, nil
	}
	if !strings.HasPrefix(ptr, pointerPrefix) {
		return "", fmt.Errorf("invalid pointer prefix: %s", ptr)
	}
	id := strings.TrimPrefix(strings.TrimPrefix(ptr, pointerPrefix), "art:")
	if id == "" || strings.HasPrefix(id, "meta:") {
		return "", fmt.Errorf("invalid artifact pointer: %s", ptr)
	}
	return id, nil
}
