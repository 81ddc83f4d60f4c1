package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/kvstore"
	"github.com/BradenHooton/tradergate/internal/models"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
)

// LockoutConfig holds the lockout thresholds
type LockoutConfig struct {
	Threshold int           // failed attempts that trigger a lock
	Window    time.Duration // counter lifetime, starting at the first failure
	Duration  time.Duration // lock lifetime
	// FailClosed reports accounts as locked when the store cannot be read.
	FailClosed bool
}

// LockoutService tracks failed attempts per (username, address) and issues
// time-boxed account locks. Callers must check IsLocked before verifying
// credentials so attempts during an active lock never reach the counter.
type LockoutService struct {
	store   kvstore.Store
	config  LockoutConfig
	clock   clock.Clock
	logger  *slog.Logger
	audit   *pkglogger.AuditLogger
	metrics *Metrics
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(store kvstore.Store, config LockoutConfig, clk clock.Clock, logger *slog.Logger, audit *pkglogger.AuditLogger, metrics *Metrics) *LockoutService {
	return &LockoutService{
		store:   store,
		config:  config,
		clock:   clk,
		logger:  logger,
		audit:   audit,
		metrics: metrics,
	}
}

func attemptsKey(username, addr string) string {
	return "lockout:attempts:" + username + ":" + addr
}

func lockKey(username string) string {
	return "lockout:lock:" + username
}

// RecordFailedAttempt increments the window counter for the pair and locks the
// account once the threshold is reached. The counter is consumed by the lock.
func (s *LockoutService) RecordFailedAttempt(ctx context.Context, username, addr string) (*models.FailedAttemptResult, error) {
	s.metrics.incFailedLogin()

	count, err := s.store.Incr(ctx, attemptsKey(username, addr), s.config.Window)
	if err != nil {
		s.logger.Error("failed to record failed attempt",
			slog.String("username", pkglogger.MaskedUsername(username)),
			slog.Any("error", err))
		return nil, fmt.Errorf("record failed attempt: %w", err)
	}

	if int(count) < s.config.Threshold {
		return &models.FailedAttemptResult{
			RemainingAttempts: s.config.Threshold - int(count),
		}, nil
	}

	now := s.clock.Now()
	lock := models.AccountLock{
		Username:    username,
		LockedAt:    now,
		LockedUntil: now.Add(s.config.Duration),
	}
	payload, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("encode account lock: %w", err)
	}

	if err := s.store.Put(ctx, lockKey(username), payload, s.config.Duration); err != nil {
		return nil, fmt.Errorf("store account lock: %w", err)
	}
	if _, err := s.store.Delete(ctx, attemptsKey(username, addr)); err != nil {
		// The lock is in place; a stale counter only expires with its window.
		s.logger.Warn("failed to clear attempt counter after lock", slog.Any("error", err))
	}

	s.metrics.incLockout()
	s.audit.LogLockout(pkglogger.EventAccountLocked, username, addr, &lock.LockedUntil)
	s.logger.Warn("account locked",
		slog.String("username", pkglogger.MaskedUsername(username)),
		slog.Int64("failed_attempts", count),
		slog.Time("locked_until", lock.LockedUntil))

	return &models.FailedAttemptResult{
		Locked:      true,
		LockedUntil: &lock.LockedUntil,
	}, nil
}

// IsLocked reports whether the username currently holds a lock. A lock whose
// lockedUntil has passed is removed and reported as unlocked.
func (s *LockoutService) IsLocked(ctx context.Context, username string) (*models.LockStatus, error) {
	raw, err := s.store.Get(ctx, lockKey(username))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return &models.LockStatus{}, nil
	}
	if err != nil {
		s.logger.Error("lock check failed, applying policy",
			slog.String("username", pkglogger.MaskedUsername(username)),
			slog.Bool("fail_closed", s.config.FailClosed),
			slog.Any("error", err))
		return &models.LockStatus{Locked: s.config.FailClosed}, nil
	}

	var lock models.AccountLock
	if err := json.Unmarshal(raw, &lock); err != nil {
		s.logger.Error("corrupt account lock record",
			slog.String("username", pkglogger.MaskedUsername(username)),
			slog.Any("error", err))
		return &models.LockStatus{Locked: s.config.FailClosed}, nil
	}

	if !s.clock.Now().Before(lock.LockedUntil) {
		if _, err := s.store.Delete(ctx, lockKey(username)); err != nil {
			s.logger.Warn("failed to delete expired lock", slog.Any("error", err))
		}
		return &models.LockStatus{}, nil
	}

	return &models.LockStatus{Locked: true, LockedUntil: &lock.LockedUntil}, nil
}

// ClearFailedAttempts resets the counter after a successful login.
func (s *LockoutService) ClearFailedAttempts(ctx context.Context, username, addr string) error {
	if _, err := s.store.Delete(ctx, attemptsKey(username, addr)); err != nil {
		return fmt.Errorf("clear failed attempts: %w", err)
	}
	return nil
}

// RemainingAttempts returns max(0, threshold - current count) for the pair.
func (s *LockoutService) RemainingAttempts(ctx context.Context, username, addr string) (int, error) {
	raw, err := s.store.Get(ctx, attemptsKey(username, addr))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return s.config.Threshold, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read attempt counter: %w", err)
	}

	count, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("parse attempt counter: %w", err)
	}
	return max(0, s.config.Threshold-count), nil
}

// Unlock removes the lock regardless of its expiry and reports whether one existed.
func (s *LockoutService) Unlock(ctx context.Context, username string) (bool, error) {
	existed, err := s.store.Delete(ctx, lockKey(username))
	if err != nil {
		return false, fmt.Errorf("unlock account: %w", err)
	}

	if existed {
		s.audit.LogLockout(pkglogger.EventAccountUnlocked, username, "", nil)
		s.logger.Info("account unlocked", slog.String("username", pkglogger.MaskedUsername(username)))
	}
	return existed, nil
}
