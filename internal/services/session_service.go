package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/kvstore"
	"github.com/BradenHooton/tradergate/internal/models"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
)

// refreshTokenBytes is the entropy of an opaque refresh token (256 bits).
const refreshTokenBytes = 32

// SessionConfig holds refresh-session settings
type SessionConfig struct {
	TTL time.Duration
	// FailOpen makes ValidateSession report a miss instead of an error when
	// the store cannot be read.
	FailOpen bool
}

// SessionService issues, validates, rotates and revokes opaque refresh tokens.
// Each session lives under session:{token}; session tokens for a user are
// indexed in the set user_sessions:{userID}.
type SessionService struct {
	store   kvstore.Store
	config  SessionConfig
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
}

// NewSessionService creates a new SessionService
func NewSessionService(store kvstore.Store, config SessionConfig, clk clock.Clock, logger *slog.Logger, metrics *Metrics) *SessionService {
	return &SessionService{
		store:   store,
		config:  config,
		clock:   clk,
		logger:  logger,
		metrics: metrics,
	}
}

func sessionKey(token string) string {
	return "session:" + token
}

func userSessionsKey(userID string) string {
	return "user_sessions:" + userID
}

func generateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DeviceLabel derives a coarse device label from a User-Agent header.
func DeviceLabel(userAgent string) string {
	switch {
	case userAgent == "":
		return models.DeviceUnknown
	case strings.Contains(userAgent, "Mobile"):
		return models.DeviceMobile
	case strings.Contains(userAgent, "Tablet"), strings.Contains(userAgent, "iPad"):
		return models.DeviceTablet
	default:
		return models.DeviceDesktop
	}
}

func (s *SessionService) put(ctx context.Context, sess *models.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ttl := time.Duration(sess.TTLSeconds) * time.Second
	if err := s.store.Put(ctx, sessionKey(sess.RefreshToken), payload, ttl); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *SessionService) load(ctx context.Context, token string) (*models.Session, error) {
	raw, err := s.store.Get(ctx, sessionKey(token))
	if err != nil {
		return nil, err
	}

	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess.RefreshToken = token
	return &sess, nil
}

// CreateSession mints a new refresh token for the user. A ttl <= 0 uses the
// configured session lifetime.
func (s *SessionService) CreateSession(ctx context.Context, userID, deviceLabel, addr string, ttl time.Duration) (*models.Session, error) {
	if ttl <= 0 {
		ttl = s.config.TTL
	}

	token, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sess := &models.Session{
		RefreshToken:  token,
		UserID:        userID,
		DeviceLabel:   deviceLabel,
		SourceAddress: addr,
		CreatedAt:     now,
		LastUsedAt:    now,
		TTLSeconds:    int64(ttl / time.Second),
	}

	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.store.AddMember(ctx, userSessionsKey(userID), token); err != nil {
		return nil, fmt.Errorf("index session: %w", err)
	}
	if _, err := s.store.ExtendTTL(ctx, userSessionsKey(userID), ttl); err != nil {
		return nil, fmt.Errorf("index session: %w", err)
	}

	s.metrics.incSessionsCreated()
	s.logger.Info("session created",
		slog.String("user_id", userID),
		slog.String("device", deviceLabel),
		slog.String("token", pkglogger.MaskedToken(token)))

	return sess, nil
}

// ValidateSession returns the session for token, or nil if it is absent or
// expired. A hit bumps LastUsedAt and keeps the record's remaining TTL. The
// write only lands if the record still exists, so a concurrent revoke wins.
func (s *SessionService) ValidateSession(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, nil
	}

	sess, err := s.load(ctx, token)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return s.unavailable(fmt.Errorf("validate session: %w", err))
	}

	sess.LastUsedAt = s.clock.Now()
	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}

	ok, err := s.store.Replace(ctx, sessionKey(token), payload)
	if err != nil {
		return s.unavailable(fmt.Errorf("validate session: %w", err))
	}
	if !ok {
		return nil, nil
	}
	return sess, nil
}

// unavailable applies the fail-open policy to a store error.
func (s *SessionService) unavailable(err error) (*models.Session, error) {
	if errors.Is(err, models.ErrBackendUnavailable) && s.config.FailOpen {
		s.logger.Warn("session store unavailable, treating session as absent", slog.Any("error", err))
		return nil, nil
	}
	return nil, err
}

// RevokeSession removes a session and its index entry. It reports whether
// the session existed.
func (s *SessionService) RevokeSession(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	sess, err := s.load(ctx, token)
	if err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
		return false, fmt.Errorf("revoke session: %w", err)
	}

	existed, err := s.store.Delete(ctx, sessionKey(token))
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}

	if sess != nil {
		if err := s.store.RemoveMember(ctx, userSessionsKey(sess.UserID), token); err != nil {
			s.logger.Warn("failed to remove session from index", slog.Any("error", err))
		}
	}

	if existed {
		s.metrics.addSessionsRevoked(1)
	}
	return existed, nil
}

// RevokeAllSessions deletes every session indexed for the user and returns
// how many were removed. Only the index entries read here are dropped, so a
// session indexed concurrently stays visible to the next revoke.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	tokens, err := s.store.Members(ctx, userSessionsKey(userID))
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}

	revoked := 0
	for _, token := range tokens {
		existed, err := s.store.Delete(ctx, sessionKey(token))
		if err != nil {
			return revoked, fmt.Errorf("revoke session: %w", err)
		}
		if existed {
			revoked++
		}
		if err := s.store.RemoveMember(ctx, userSessionsKey(userID), token); err != nil {
			return revoked, fmt.Errorf("update session index: %w", err)
		}
	}

	s.metrics.addSessionsRevoked(revoked)
	s.logger.Info("all sessions revoked", slog.String("user_id", userID), slog.Int("count", revoked))
	return revoked, nil
}

// ListSessions returns the user's live sessions, newest first. Index entries
// whose session has expired are pruned.
func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	tokens, err := s.store.Members(ctx, userSessionsKey(userID))
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}

	sessions := make([]*models.Session, 0, len(tokens))
	for _, token := range tokens {
		sess, err := s.load(ctx, token)
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			_ = s.store.RemoveMember(ctx, userSessionsKey(userID), token)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// RotateSession validates the presented token, revokes it and issues a
// replacement bound to the same user and device. Only one of two concurrent
// rotations of the same token succeeds; the other gets ErrUnauthorized. An
// absent session, including one hidden by the fail-open policy, is
// ErrUnauthorized.
func (s *SessionService) RotateSession(ctx context.Context, token, addr string) (*models.Session, error) {
	sess, err := s.ValidateSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	if sess == nil {
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.RevokeSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if !revoked {
		return nil, models.ErrUnauthorized
	}

	if addr == "" {
		addr = sess.SourceAddress
	}
	return s.CreateSession(ctx, sess.UserID, sess.DeviceLabel, addr, time.Duration(sess.TTLSeconds)*time.Second)
}
