package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"go.uber.org/zap"
)

// Recorder receives engine outcomes for metrics. Implementations must be safe
// for concurrent use.
type Recorder interface {
	ChallengeIssued(reason string)
	VerificationResult(result string)
	RecordsPurged(n int64)
}

const (
	ResultSuccess      = "success"
	ResultMismatch     = "mismatch"
	ResultExpired      = "expired"
	ResultLocked       = "locked"
	ResultNotFound     = "not_found"
	ResultStoreFailure = "store_unavailable"
)

type Option func(*Service)

func WithClock(clock Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

func WithRandomSource(src RandomSource) Option {
	return func(s *Service) {
		s.random = src
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

type Service struct {
	config   config.ChallengeConfig
	store    Store
	hasher   *hasher
	clock    Clock
	random   RandomSource
	recorder Recorder
	logger   *logging.Service
}

func NewService(cfg *config.Config, store Store, logger *logging.Service, opts ...Option) (*Service, error) {
	if err := cfg.Challenge.Validate(); err != nil {
		return nil, fmt.Errorf("invalid challenge configuration: %w", err)
	}
	if store == nil {
		return nil, errors.New("challenge store is required")
	}

	if logger != nil {
		logger.Info("initializing verification service",
			zap.Duration("ttl", cfg.Challenge.TTL),
			zap.Int("max_attempts", cfg.Challenge.MaxAttempts),
			zap.Int("code_digits", cfg.Challenge.CodeDigits),
			zap.String("store_type", cfg.Challenge.Store))
	}

	s := &Service{
		config: cfg.Challenge,
		store:  store,
		hasher: newHasher(cfg.Challenge.HashKey),
		clock:  systemClock{},
		random: cryptoSource{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Issue creates a fresh challenge for the principal, replacing any previous
// one. The returned Challenge carries the only copy of the plaintext code.
func (s *Service) Issue(ctx context.Context, principalID string) (*Challenge, error) {
	return s.issue(ctx, principalID, "issue")
}

// Resend behaves exactly like Issue; the prior code stops verifying.
func (s *Service) Resend(ctx context.Context, principalID string) (*Challenge, error) {
	return s.issue(ctx, principalID, "resend")
}

func (s *Service) issue(ctx context.Context, principalID, reason string) (*Challenge, error) {
	if s.logger != nil {
		s.logger.Info("issuing verification challenge",
			zap.String("principal_id", principalID),
			zap.String("reason", reason))
	}

	if principalID == "" {
		if s.logger != nil {
			s.logger.Warn("challenge issuance rejected - empty principal id")
		}
		return nil, ErrInvalidPrincipal
	}

	code, err := generateCode(s.random, s.config.CodeDigits)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to generate verification code",
				zap.Error(err),
				zap.String("principal_id", principalID))
		}
		return nil, fmt.Errorf("failed to generate verification code: %w", err)
	}

	now := s.clock.Now()
	rec := &Record{
		PrincipalID: principalID,
		Nonce:       uuid.NewString(),
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.config.TTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rec.CodeHash = s.hasher.digest(rec.PrincipalID, rec.Nonce, code)

	if err := s.store.Put(ctx, rec); err != nil {
		if s.logger != nil {
			s.logger.Error("failed to store verification challenge",
				zap.Error(err),
				zap.String("principal_id", principalID))
		}
		return nil, unavailable(err)
	}

	if s.recorder != nil {
		s.recorder.ChallengeIssued(reason)
	}

	if s.logger != nil {
		s.logger.Info("verification challenge issued",
			zap.String("principal_id", principalID),
			zap.String("nonce", rec.Nonce),
			zap.Time("expires_at", rec.ExpiresAt))
	}

	return &Challenge{
		PrincipalID: principalID,
		Code:        code,
		Nonce:       rec.Nonce,
		IssuedAt:    rec.IssuedAt,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// Verify checks code against the principal's current challenge. A nil error
// means the code matched and the challenge has been consumed; at most one
// Verify per issuance can return nil.
func (s *Service) Verify(ctx context.Context, principalID, code string) error {
	if s.logger != nil {
		s.logger.Debug("verifying challenge code",
			zap.String("principal_id", principalID))
	}

	err := s.verify(ctx, principalID, code)
	s.record(err)
	return err
}

func (s *Service) verify(ctx context.Context, principalID, code string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := s.store.Get(ctx, principalID)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				if s.logger != nil {
					s.logger.Debug("verification failed - no challenge",
						zap.String("principal_id", principalID))
				}
				return ErrNotFound
			}
			if s.logger != nil {
				s.logger.Error("failed to load verification challenge",
					zap.Error(err),
					zap.String("principal_id", principalID))
			}
			return unavailable(err)
		}

		if rec.Consumed {
			if rec.Outcome == OutcomeExpired {
				if s.logger != nil {
					s.logger.Info("verification failed - challenge expired",
						zap.String("principal_id", principalID))
				}
				return ErrExpired
			}
			if s.logger != nil {
				s.logger.Info("verification failed - challenge already used",
					zap.String("principal_id", principalID))
			}
			return ErrNotFound
		}

		now := s.clock.Now()
		next := rec.clone()
		next.UpdatedAt = now

		if now.After(rec.ExpiresAt) {
			next.Consumed = true
			next.Outcome = OutcomeExpired
			next.ConsumedAt = &now

			applied, err := s.swap(ctx, rec, next)
			if err != nil {
				return err
			}
			if !applied {
				continue
			}

			if s.logger != nil {
				s.logger.Info("verification failed - challenge expired",
					zap.String("principal_id", principalID),
					zap.Time("expires_at", rec.ExpiresAt))
			}
			return ErrExpired
		}

		if rec.Attempts >= s.config.MaxAttempts {
			if s.logger != nil {
				s.logger.Warn("verification rejected - attempt limit reached",
					zap.String("principal_id", principalID),
					zap.Int("attempts", rec.Attempts))
			}
			return ErrTooManyAttempts
		}

		if !s.hasher.matches(rec, code) {
			next.Attempts++

			applied, err := s.swap(ctx, rec, next)
			if err != nil {
				return err
			}
			if !applied {
				continue
			}

			if s.logger != nil {
				s.logger.Warn("verification failed - code mismatch",
					zap.String("principal_id", principalID),
					zap.Int("attempts", next.Attempts))
			}
			return &MismatchError{Remaining: s.config.MaxAttempts - next.Attempts}
		}

		next.Consumed = true
		next.Outcome = OutcomeVerified
		next.ConsumedAt = &now

		applied, err := s.swap(ctx, rec, next)
		if err != nil {
			return err
		}
		if !applied {
			continue
		}

		if s.logger != nil {
			s.logger.Info("verification succeeded",
				zap.String("principal_id", principalID))
		}
		return nil
	}
}

func (s *Service) swap(ctx context.Context, prev, next *Record) (bool, error) {
	applied, err := s.store.Swap(ctx, prev, next)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to update verification challenge",
				zap.Error(err),
				zap.String("principal_id", prev.PrincipalID))
		}
		return false, unavailable(err)
	}
	if !applied && s.logger != nil {
		s.logger.Debug("verification challenge changed concurrently, re-evaluating",
			zap.String("principal_id", prev.PrincipalID))
	}
	return applied, nil
}

func (s *Service) record(err error) {
	if s.recorder == nil {
		return
	}

	var result string
	switch {
	case err == nil:
		result = ResultSuccess
	case errors.Is(err, ErrMismatch):
		result = ResultMismatch
	case errors.Is(err, ErrExpired):
		result = ResultExpired
	case errors.Is(err, ErrTooManyAttempts):
		result = ResultLocked
	case errors.Is(err, ErrNotFound):
		result = ResultNotFound
	case errors.Is(err, ErrStoreUnavailable):
		result = ResultStoreFailure
	default:
		return
	}
	s.recorder.VerificationResult(result)
}

// Status reports the principal's current challenge without mutating it.
func (s *Service) Status(ctx context.Context, principalID string) (*Status, error) {
	rec, err := s.store.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if s.logger != nil {
			s.logger.Error("failed to load verification challenge status",
				zap.Error(err),
				zap.String("principal_id", principalID))
		}
		return nil, unavailable(err)
	}

	status := &Status{
		PrincipalID:       rec.PrincipalID,
		IssuedAt:          rec.IssuedAt,
		ExpiresAt:         rec.ExpiresAt,
		Attempts:          rec.Attempts,
		AttemptsRemaining: max(s.config.MaxAttempts-rec.Attempts, 0),
	}

	switch {
	case rec.Consumed && rec.Outcome == OutcomeExpired:
		status.State = StateExpired
	case rec.Consumed:
		status.State = StateConsumed
	case s.clock.Now().After(rec.ExpiresAt):
		status.State = StateExpired
	case rec.Attempts >= s.config.MaxAttempts:
		status.State = StateLocked
	default:
		status.State = StateActive
	}

	return status, nil
}

// CleanupExpired removes records that expired more than the retention window
// ago. Until then a verify keeps answering ErrExpired.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.config.Retention)

	if s.logger != nil {
		s.logger.Debug("cleaning up expired verification challenges",
			zap.Time("expired_before", cutoff))
	}

	removed, err := s.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to clean up expired verification challenges", zap.Error(err))
		}
		return removed, unavailable(err)
	}

	if s.recorder != nil && removed > 0 {
		s.recorder.RecordsPurged(removed)
	}

	if s.logger != nil {
		s.logger.Debug("expired verification challenges cleaned up",
			zap.Int64("removed", removed))
	}

	return removed, nil
}

// StartCleanupWorker runs CleanupExpired every interval until ctx is done.
func (s *Service) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		if s.logger != nil {
			s.logger.Debug("verification cleanup worker disabled")
		}
		return
	}

	if s.logger != nil {
		s.logger.Info("starting verification cleanup worker",
			zap.Duration("interval", interval))
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				if s.logger != nil {
					s.logger.Info("verification cleanup worker stopped")
				}
				return
			case <-ticker.C:
				if _, err := s.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
					if s.logger != nil {
						s.logger.Warn("verification cleanup run failed", zap.Error(err))
					}
				}
			}
		}
	}()
}
