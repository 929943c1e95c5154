// Package secret seals mailbox credentials before they are persisted.
package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("sealed credential is malformed")

type Sealer interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

type Config struct {
	Backend  string
	LocalKey string // base64, 32 bytes
	KMSKeyID string
}

// NewFromConfig picks the sealer once at startup.
func NewFromConfig(ctx context.Context, cfg Config) (Sealer, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "secretbox"
	}

	switch backend {
	case "secretbox", "local":
		return NewBoxSealerFromBase64(cfg.LocalKey)
	case "kms":
		return NewKMSSealerFromEnv(ctx, cfg.KMSKeyID)
	default:
		return nil, fmt.Errorf("unsupported credential sealer: %s", backend)
	}
}
