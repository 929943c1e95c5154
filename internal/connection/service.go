package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-playground/validator/v10"

	"github.com/znz-systems/solebook/internal/auth"
	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/secret"
	"github.com/znz-systems/solebook/internal/store"
)

const (
	DefaultIMAPPort    = 993
	maxLastErrorLength = 500
)

var (
	ErrConnectionNotFound = errors.New("email connection not found")
	ErrInvalidConnection  = errors.New("invalid email connection")
)

// Input is what a user submits to connect a mailbox. An empty password keeps
// the stored credential as long as the address and host are unchanged.
type Input struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Host     string `json:"host" validate:"required,hostname_rfc1123,max=253"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Password string `json:"password" validate:"max=1024"`
	IsActive *bool  `json:"isActive"`
}

// Service is the per-user connection registry. Every call is keyed by the
// caller's identity; nothing accepts a connection id from a request.
type Service struct {
	connections store.EmailConnectionStore
	sealer      secret.Sealer
	validate    *validator.Validate
	logger      *slog.Logger

	retryAttempts uint
	retryDelay    time.Duration
}

func NewService(connections store.EmailConnectionStore, sealer secret.Sealer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		connections:   connections,
		sealer:        sealer,
		validate:      validator.New(),
		logger:        logger,
		retryAttempts: 3,
		retryDelay:    250 * time.Millisecond,
	}
}

func (s *Service) Get(ctx context.Context, id auth.Identity) (*models.EmailConnection, error) {
	conn, err := s.connections.GetEmailConnectionByUserID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("get email connection: %w", err)
	}
	return conn, nil
}

func (s *Service) Upsert(ctx context.Context, id auth.Identity, in Input) (*models.EmailConnection, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Host = strings.ToLower(strings.TrimSpace(in.Host))
	if in.Port == 0 {
		in.Port = DefaultIMAPPort
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConnection, err)
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	sealed, err := s.credentialFor(ctx, id, in)
	if err != nil {
		return nil, err
	}

	conn, err := s.connections.UpsertEmailConnection(ctx, models.EmailConnectionUpsertParams{
		UserID:           id.UserID,
		Email:            in.Email,
		Host:             in.Host,
		Port:             in.Port,
		SecretCredential: sealed,
		IsActive:         active,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert email connection: %w", err)
	}
	s.logger.Info("email connection saved", "user_id", id.UserID, "host", conn.Host, "active", conn.IsActive)
	return conn, nil
}

func (s *Service) credentialFor(ctx context.Context, id auth.Identity, in Input) (string, error) {
	if in.Password != "" {
		sealed, err := s.sealer.Seal(ctx, in.Password)
		if err != nil {
			return "", fmt.Errorf("seal credential: %w", err)
		}
		return sealed, nil
	}

	existing, err := s.Get(ctx, id)
	if errors.Is(err, ErrConnectionNotFound) {
		return "", fmt.Errorf("%w: password is required", ErrInvalidConnection)
	}
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(existing.Email, in.Email) || existing.Host != in.Host {
		return "", fmt.Errorf("%w: password is required when changing mailbox", ErrInvalidConnection)
	}
	return existing.SecretCredential, nil
}

func (s *Service) Delete(ctx context.Context, id auth.Identity) error {
	if err := s.connections.DeleteEmailConnection(ctx, id.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrConnectionNotFound
		}
		return fmt.Errorf("delete email connection: %w", err)
	}
	s.logger.Info("email connection deleted", "user_id", id.UserID)
	return nil
}

func (s *Service) ListActive(ctx context.Context) ([]models.EmailConnection, error) {
	conns, err := s.connections.ListActiveEmailConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}
	return conns, nil
}

// Credential unseals the stored mailbox password.
func (s *Service) Credential(ctx context.Context, conn models.EmailConnection) (string, error) {
	plain, err := s.sealer.Open(ctx, conn.SecretCredential)
	if err != nil {
		return "", fmt.Errorf("open credential: %w", err)
	}
	return plain, nil
}

// RecordSuccess advances the cursor to checkedAt and clears the last error.
func (s *Service) RecordSuccess(ctx context.Context, conn models.EmailConnection, checkedAt time.Time) error {
	return s.withRetry(ctx, conn, func() error {
		return s.connections.MarkEmailConnectionChecked(ctx, conn.ID, checkedAt)
	})
}

// RecordFailure stores cause as the last error. The cursor is left alone so
// the same window is searched again next run.
func (s *Service) RecordFailure(ctx context.Context, conn models.EmailConnection, cause error) error {
	msg := truncate(cause.Error(), maxLastErrorLength)
	return s.withRetry(ctx, conn, func() error {
		return s.connections.MarkEmailConnectionFailed(ctx, conn.ID, msg)
	})
}

func (s *Service) withRetry(ctx context.Context, conn models.EmailConnection, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Attempts(s.retryAttempts),
		retry.Delay(s.retryDelay),
		retry.MaxDelay(2*time.Second),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, store.ErrNotFound)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("retrying connection status write", "connection_id", conn.ID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("update connection %s: %w", conn.ID, err)
	}
	return nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
