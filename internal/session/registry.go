package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/ids"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/models"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/security"
)

const sessionIDBytes = 32

// ActivityRecorder persists session lifecycle events. Recording is best-effort:
// implementations log their own failures and never affect the caller.
type ActivityRecorder interface {
	Record(ctx context.Context, activity models.Activity)
}

// Observer receives lifecycle counters, typically backed by Prometheus.
type Observer interface {
	SessionCreated()
	SessionsEvicted(n int)
	SessionsExpired(n int)
	SessionsDestroyed(n int)
	TokenRefreshed(ok bool)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, models.Activity) {}

type nopObserver struct{}

func (nopObserver) SessionCreated() {}
func (nopObserver) SessionsEvicted(int) {}
func (nopObserver) SessionsExpired(int) {}
func (nopObserver) SessionsDestroyed(int) {}
func (nopObserver) TokenRefreshed(bool) {}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithActivityRecorder(rec ActivityRecorder) Option {
	return func(r *Registry) {
		if rec != nil {
			r.activity = rec
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(r *Registry) {
		if obs != nil {
			r.observer = obs
		}
	}
}

type Registry struct {
	cfg      Config
	store    Store
	tokens   *security.TokenIssuer
	activity ActivityRecorder
	observer Observer
	log      zerolog.Logger
	now      func() time.Time

	// mu serializes read-modify-write sequences against the store so that
	// eviction, touch and destroy never interleave.
	mu sync.Mutex
}

func NewRegistry(cfg Config, store Store, tokens *security.TokenIssuer, log zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		cfg:      cfg,
		store:    store,
		tokens:   tokens,
		activity: nopRecorder{},
		observer: nopObserver{},
		log:      log.With().Str("component", "session_registry").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Config() Config {
	return r.cfg
}

func (r *Registry) CreateSession(ctx context.Context, identity Identity, reqCtx RequestContext) (Issued, error) {
	sessionID, err := ids.NewToken(sessionIDBytes)
	if err != nil {
		return Issued{}, err
	}

	sub := security.Subject{
		UserID:    identity.UserID,
		Email:     identity.Email,
		Role:      identity.Role,
		SessionID: sessionID,
	}
	access, refresh, err := r.issuePair(sub)
	if err != nil {
		return Issued{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if err := r.enforceLimit(ctx, identity.UserID, now, reqCtx); err != nil {
		return Issued{}, err
	}

	sess := Session{
		ID:           sessionID,
		UserID:       identity.UserID,
		Email:        identity.Email,
		Role:         identity.Role,
		IPAddress:    reqCtx.IPAddress,
		UserAgent:    reqCtx.UserAgent,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := r.store.Put(ctx, sess); err != nil {
		return Issued{}, fmt.Errorf("store session: %w", err)
	}

	r.observer.SessionCreated()
	r.record(ctx, sess, models.ActivityLogin, reqCtx)
	r.log.Debug().Str("user_id", sess.UserID).Str("session_id", sess.ID).Msg("session created")

	return Issued{
		SessionID:        sessionID,
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// enforceLimit makes room for one more session: expired sessions are dropped,
// then the least recently active ones are evicted until the user is below the cap.
func (r *Registry) enforceLimit(ctx context.Context, userID string, now time.Time, reqCtx RequestContext) error {
	existing, err := r.store.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}

	active := existing[:0]
	expired := 0
	for _, s := range existing {
		if s.Expired(now, r.cfg.Timeout) {
			if _, err := r.store.Delete(ctx, s.ID); err != nil {
				return fmt.Errorf("delete expired session: %w", err)
			}
			expired++
			continue
		}
		active = append(active, s)
	}
	if expired > 0 {
		r.observer.SessionsExpired(expired)
	}

	keep := r.cfg.MaxSessionsPerUser - 1
	if keep < 0 {
		keep = 0
	}
	if len(active) <= keep {
		return nil
	}

	sortByRecency(active)
	for _, victim := range active[keep:] {
		if _, err := r.store.Delete(ctx, victim.ID); err != nil {
			return fmt.Errorf("evict session: %w", err)
		}
		r.record(ctx, victim, models.ActivitySessionEvicted, reqCtx)
		r.log.Info().
			Str("user_id", userID).
			Str("session_id", victim.ID).
			Time("last_activity", victim.LastActivity).
			Msg("session evicted over per-user limit")
	}
	r.observer.SessionsEvicted(len(active) - keep)
	return nil
}

// ValidateSession returns the live session for id and bumps its activity
// timestamp. It returns nil (and no error) when the session is absent or has
// timed out; a timed-out session is deleted as a side effect.
func (r *Registry) ValidateSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.validateLocked(ctx, id)
}

func (r *Registry) validateLocked(ctx context.Context, id string) (*Session, error) {
	sess, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	now := r.now()
	if sess.Expired(now, r.cfg.Timeout) {
		if _, err := r.store.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("delete expired session: %w", err)
		}
		r.observer.SessionsExpired(1)
		r.log.Debug().Str("session_id", id).Msg("session expired on access")
		return nil, nil
	}

	sess.LastActivity = now
	if err := r.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return &sess, nil
}

// RefreshAccessToken rotates the token pair for the session embedded in
// refreshToken. Every rejection yields nil without an error.
func (r *Registry) RefreshAccessToken(ctx context.Context, refreshToken string, reqCtx RequestContext) (*TokenPair, error) {
	claims, err := r.tokens.ParseRefresh(refreshToken)
	if err != nil {
		r.observer.TokenRefreshed(false)
		r.log.Warn().Err(err).Str("ip", reqCtx.IPAddress).Msg("refresh token rejected")
		return nil, nil
	}

	r.mu.Lock()
	sess, err := r.validateLocked(ctx, claims.SessionID)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		r.observer.TokenRefreshed(false)
		r.log.Debug().Str("session_id", claims.SessionID).Msg("refresh for missing or expired session")
		return nil, nil
	}
	if sess.UserID != claims.UserID {
		r.observer.TokenRefreshed(false)
		r.log.Warn().Str("session_id", sess.ID).Msg("refresh token subject does not match session")
		return nil, nil
	}

	access, refresh, err := r.issuePair(security.Subject{
		UserID:    sess.UserID,
		Email:     sess.Email,
		Role:      sess.Role,
		SessionID: sess.ID,
	})
	if err != nil {
		return nil, err
	}

	r.observer.TokenRefreshed(true)
	r.record(ctx, *sess, models.ActivityTokenRefresh, reqCtx)

	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// DestroySession removes the session if present. It is idempotent.
func (r *Registry) DestroySession(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return false, nil
	}

	deleted, err := r.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return false, nil
	}

	r.observer.SessionsDestroyed(1)
	r.record(ctx, sess, models.ActivityLogout, RequestContext{IPAddress: sess.IPAddress, UserAgent: sess.UserAgent})
	return true, nil
}

// DestroyAllUserSessions logs the user out everywhere and returns the number of
// sessions removed.
func (r *Registry) DestroyAllUserSessions(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.store.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}

	removed := 0
	for _, s := range sessions {
		ok, err := r.store.Delete(ctx, s.ID)
		if err != nil {
			return removed, fmt.Errorf("delete session: %w", err)
		}
		if ok {
			removed++
		}
	}

	r.observer.SessionsDestroyed(removed)
	r.activity.Record(ctx, models.Activity{
		ID:        ids.NewUUID(),
		UserID:    userID,
		Action:    models.ActivityLogoutAll,
		Metadata:  map[string]any{"sessionsRemoved": removed},
		CreatedAt: r.now(),
	})
	r.log.Info().Str("user_id", userID).Int("removed", removed).Msg("all user sessions destroyed")
	return removed, nil
}

// CleanupExpiredSessions deletes every session past the idle timeout.
func (r *Registry) CleanupExpiredSessions(ctx context.Context) (int, error) {
	now := r.now()

	var expired []string
	err := r.store.Scan(ctx, func(s Session) bool {
		if s.Expired(now, r.cfg.Timeout) {
			expired = append(expired, s.ID)
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, id := range expired {
		// re-check under the lock: the session may have been touched since the scan
		sess, ok, err := r.store.Get(ctx, id)
		if err != nil {
			return removed, fmt.Errorf("get session: %w", err)
		}
		if !ok || !sess.Expired(r.now(), r.cfg.Timeout) {
			continue
		}
		ok, err = r.store.Delete(ctx, id)
		if err != nil {
			return removed, fmt.Errorf("delete session: %w", err)
		}
		if ok {
			removed++
		}
	}

	if removed > 0 {
		r.observer.SessionsExpired(removed)
		r.log.Info().Int("removed", removed).Msg("expired sessions swept")
	}
	return removed, nil
}

// ListUserSessions returns the user's live sessions, most recently active first.
func (r *Registry) ListUserSessions(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := r.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}

	now := r.now()
	live := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.Expired(now, r.cfg.Timeout) {
			live = append(live, s)
		}
	}
	sortByRecency(live)
	return live, nil
}

func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	now := r.now()
	users := make(map[string]int)
	total := 0

	err := r.store.Scan(ctx, func(s Session) bool {
		if !s.Expired(now, r.cfg.Timeout) {
			total++
			users[s.UserID]++
		}
		return true
	})
	if err != nil {
		return Stats{}, fmt.Errorf("scan sessions: %w", err)
	}

	stats := Stats{
		TotalActiveSessions: total,
		UniqueUsers:         len(users),
		MaxSessionsPerUser:  r.cfg.MaxSessionsPerUser,
	}
	if len(users) > 0 {
		stats.AverageSessionsPerUser = float64(total) / float64(len(users))
	}
	return stats, nil
}

func (r *Registry) issuePair(sub security.Subject) (security.SignedToken, security.SignedToken, error) {
	access, err := r.tokens.IssueAccess(sub)
	if err != nil {
		return security.SignedToken{}, security.SignedToken{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := r.tokens.IssueRefresh(sub)
	if err != nil {
		return security.SignedToken{}, security.SignedToken{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return access, refresh, nil
}

func (r *Registry) record(ctx context.Context, sess Session, action models.ActivityAction, reqCtx RequestContext) {
	r.activity.Record(ctx, models.Activity{
		ID:        ids.NewUUID(),
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Action:    action,
		IPAddress: reqCtx.IPAddress,
		UserAgent: reqCtx.UserAgent,
		CreatedAt: r.now(),
	})
}
