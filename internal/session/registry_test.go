package session

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/models"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/security"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingActivity struct {
	mu     sync.Mutex
	events []models.Activity
}

func (r *recordingActivity) Record(_ context.Context, a models.Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, a)
}

func (r *recordingActivity) actions() []models.ActivityAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ActivityAction, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

func (r *recordingActivity) count(action models.ActivityAction) int {
	n := 0
	for _, a := range r.actions() {
		if a == action {
			n++
		}
	}
	return n
}

type countingObserver struct {
	created, evicted, expired, destroyed, refreshOK, refreshFail int
}

func (o *countingObserver) SessionCreated() { o.created++ }
func (o *countingObserver) SessionsEvicted(n int) { o.evicted += n }
func (o *countingObserver) SessionsExpired(n int) { o.expired += n }
func (o *countingObserver) SessionsDestroyed(n int) { o.destroyed += n }
func (o *countingObserver) TokenRefreshed(ok bool) {
	if ok {
		o.refreshOK++
	} else {
		o.refreshFail++
	}
}

type fixture struct {
	registry *Registry
	store    *MemoryStore
	clock    *fakeClock
	activity *recordingActivity
	observer *countingObserver
	tokens   *security.TokenIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		clock:    newFakeClock(),
		activity: &recordingActivity{},
		observer: &countingObserver{},
		tokens:   security.NewTokenIssuer("test-secret", "test-secret", 30*time.Minute, 7*24*time.Hour),
	}
	f.registry = NewRegistry(DefaultConfig(), f.store, f.tokens, zerolog.Nop(),
		WithClock(f.clock.Now),
		WithActivityRecorder(f.activity),
		WithObserver(f.observer),
	)
	return f
}

var (
	alice = Identity{UserID: "user-alice", Email: "alice@agency.test", Role: "manager"}
	bob   = Identity{UserID: "user-bob", Email: "bob@agency.test", Role: "agent"}
	req   = RequestContext{IPAddress: "203.0.113.7", UserAgent: "agency-mobile/2.1"}
)

func TestRegistry_CreateSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)
	assert.Len(t, issued.SessionID, 64)
	assert.NotEmpty(t, issued.AccessToken)
	assert.NotEmpty(t, issued.RefreshToken)
	assert.True(t, issued.RefreshExpiresAt.After(issued.AccessExpiresAt))

	access, err := f.tokens.ParseAccess(issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, issued.SessionID, access.SessionID)
	assert.Equal(t, alice.Email, access.Email)
	assert.Equal(t, alice.Role, access.Role)

	refresh, err := f.tokens.ParseRefresh(issued.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, issued.SessionID, refresh.SessionID)

	sess, ok, err := f.store.Get(ctx, issued.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice.UserID, sess.UserID)
	assert.Equal(t, req.IPAddress, sess.IPAddress)
	assert.Equal(t, req.UserAgent, sess.UserAgent)
	assert.Equal(t, f.clock.Now(), sess.LastActivity)

	assert.Equal(t, []models.ActivityAction{models.ActivityLogin}, f.activity.actions())
	assert.Equal(t, 1, f.observer.created)
}

func TestRegistry_CreateSession_EvictsLeastRecentlyActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var sessionIDs []string
	for i := 0; i < 5; i++ {
		issued, err := f.registry.CreateSession(ctx, alice, req)
		require.NoError(t, err)
		sessionIDs = append(sessionIDs, issued.SessionID)
		f.clock.Advance(time.Minute)
	}

	// A is touched, so B becomes the least recently active
	_, err := f.registry.ValidateSession(ctx, sessionIDs[0])
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	sixth, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	remaining, err := f.registry.ListUserSessions(ctx, alice.UserID)
	require.NoError(t, err)
	require.Len(t, remaining, 5)

	kept := make(map[string]bool, len(remaining))
	for _, s := range remaining {
		kept[s.ID] = true
	}
	assert.True(t, kept[sixth.SessionID], "newest session must survive")
	assert.True(t, kept[sessionIDs[0]], "recently validated session must survive")
	assert.False(t, kept[sessionIDs[1]], "least recently active session must be evicted")

	assert.Equal(t, 1, f.activity.count(models.ActivitySessionEvicted))
	assert.Equal(t, 1, f.observer.evicted)
}

func TestRegistry_CreateSession_RetainsMostRecentAfterEveryCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var created []string
	for i := 0; i < 12; i++ {
		issued, err := f.registry.CreateSession(ctx, alice, req)
		require.NoError(t, err)
		created = append(created, issued.SessionID)
		f.clock.Advance(time.Second)

		remaining, err := f.registry.ListUserSessions(ctx, alice.UserID)
		require.NoError(t, err)

		want := created
		if len(want) > 5 {
			want = want[len(want)-5:]
		}
		got := make([]string, len(remaining))
		for j, s := range remaining {
			got[j] = s.ID
		}
		assert.ElementsMatch(t, want, got, "after login %d", i+1)
	}
}

func TestRegistry_CreateSession_SameInstantKeepsNewest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var last string
	for i := 0; i < 7; i++ {
		issued, err := f.registry.CreateSession(ctx, alice, req)
		require.NoError(t, err)
		last = issued.SessionID
	}

	remaining, err := f.registry.ListUserSessions(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Len(t, remaining, 5)

	var found bool
	for _, s := range remaining {
		found = found || s.ID == last
	}
	assert.True(t, found)
}

func TestRegistry_CreateSession_LimitIsPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.registry.CreateSession(ctx, alice, req)
		require.NoError(t, err)
		_, err = f.registry.CreateSession(ctx, bob, req)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, f.store.Len())
	assert.Zero(t, f.observer.evicted)
}

func TestRegistry_CreateSession_DropsExpiredBeforeEvicting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.registry.CreateSession(ctx, alice, req)
		require.NoError(t, err)
	}
	f.clock.Advance(31 * time.Minute)

	_, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, 5, f.observer.expired)
	assert.Zero(t, f.observer.evicted)
}

func TestRegistry_ValidateSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	sess, err := f.registry.ValidateSession(ctx, issued.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, f.clock.Now(), sess.LastActivity)

	stored, _, err := f.store.Get(ctx, issued.SessionID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), stored.LastActivity, "activity bump must be persisted")
}

func TestRegistry_ValidateSession_SlidingTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		f.clock.Advance(20 * time.Minute)
		sess, err := f.registry.ValidateSession(ctx, issued.SessionID)
		require.NoError(t, err)
		require.NotNil(t, sess, "step %d", i)
	}
}

func TestRegistry_ValidateSession_ExactTimeoutIsStillValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	sess, err := f.registry.ValidateSession(ctx, issued.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestRegistry_ValidateSession_ExpiredIsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	f.clock.Advance(30*time.Minute + time.Second)

	sess, err := f.registry.ValidateSession(ctx, issued.SessionID)
	require.NoError(t, err)
	assert.Nil(t, sess)

	_, ok, err := f.store.Get(ctx, issued.SessionID)
	require.NoError(t, err)
	assert.False(t, ok, "expired session must be deleted on access")

	sess, err = f.registry.ValidateSession(ctx, issued.SessionID)
	require.NoError(t, err)
	assert.Nil(t, sess, "second validate must not resurrect the session")
	assert.Equal(t, 1, f.observer.expired)
}

func TestRegistry_ValidateSession_Unknown(t *testing.T) {
	f := newFixture(t)

	sess, err := f.registry.ValidateSession(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, sess)

	sess, err = f.registry.ValidateSession(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestRegistry_RefreshAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	pair, err := f.registry.RefreshAccessToken(ctx, issued.RefreshToken, req)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.NotEqual(t, issued.AccessToken, pair.AccessToken)
	assert.NotEqual(t, issued.RefreshToken, pair.RefreshToken)

	access, err := f.tokens.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, issued.SessionID, access.SessionID, "rotation keeps the session identity")

	refresh, err := f.tokens.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, issued.SessionID, refresh.SessionID)

	stored, _, err := f.store.Get(ctx, issued.SessionID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), stored.LastActivity)

	assert.Equal(t, 1, f.activity.count(models.ActivityTokenRefresh))
	assert.Equal(t, 1, f.observer.refreshOK)
}

func TestRegistry_RefreshAccessToken_RejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	pair, err := f.registry.RefreshAccessToken(ctx, issued.AccessToken, req)
	require.NoError(t, err)
	assert.Nil(t, pair)
	assert.Equal(t, 1, f.observer.refreshFail)
}

func TestRegistry_RefreshAccessToken_RejectsDestroyedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	destroyed, err := f.registry.DestroySession(ctx, issued.SessionID)
	require.NoError(t, err)
	require.True(t, destroyed)

	pair, err := f.registry.RefreshAccessToken(ctx, issued.RefreshToken, req)
	require.NoError(t, err)
	assert.Nil(t, pair)
}

func TestRegistry_RefreshAccessToken_RejectsExpiredSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	pair, err := f.registry.RefreshAccessToken(ctx, issued.RefreshToken, req)
	require.NoError(t, err)
	assert.Nil(t, pair)
	assert.Zero(t, f.store.Len())
}

func TestRegistry_RefreshAccessToken_RejectsGarbage(t *testing.T) {
	f := newFixture(t)

	pair, err := f.registry.RefreshAccessToken(context.Background(), "garbage", req)
	require.NoError(t, err)
	assert.Nil(t, pair)
}

func TestRegistry_DestroySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)

	ok, err := f.registry.DestroySession(ctx, issued.SessionID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.registry.DestroySession(ctx, issued.SessionID)
	require.NoError(t, err)
	assert.False(t, ok, "second destroy is a no-op")

	assert.Equal(t, 1, f.activity.count(models.ActivityLogout), "logout recorded only when the session existed")
}

func TestRegistry_DestroyAllUserSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.registry.CreateSession(ctx, alice, req)
		require.NoError(t, err)
	}
	bobSession, err := f.registry.CreateSession(ctx, bob, req)
	require.NoError(t, err)

	removed, err := f.registry.DestroyAllUserSessions(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	remaining, err := f.registry.ListUserSessions(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	sess, err := f.registry.ValidateSession(ctx, bobSession.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, sess, "other users are unaffected")

	require.Equal(t, 1, f.activity.count(models.ActivityLogoutAll))
	for _, e := range f.activity.events {
		if e.Action == models.ActivityLogoutAll {
			assert.Equal(t, 3, e.Metadata["sessionsRemoved"])
		}
	}
}

func TestRegistry_CleanupExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale, err := f.registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)
	f.clock.Advance(20 * time.Minute)
	fresh, err := f.registry.CreateSession(ctx, bob, req)
	require.NoError(t, err)
	f.clock.Advance(15 * time.Minute)

	removed, err := f.registry.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, _ := f.store.Get(ctx, stale.SessionID)
	assert.False(t, ok)
	_, ok, _ = f.store.Get(ctx, fresh.SessionID)
	assert.True(t, ok)
}

func TestRegistry_CleanupExpiredSessions_CancelledContext(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.CreateSession(context.Background(), alice, req)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.registry.CleanupExpiredSessions(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.store.Len())
}

func TestRegistry_Stats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stats, err := f.registry.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{MaxSessionsPerUser: 5}, stats)

	for i := 0; i < 3; i++ {
		_, err := f.registry.CreateSession(ctx, alice, req)
		require.NoError(t, err)
	}
	_, err = f.registry.CreateSession(ctx, bob, req)
	require.NoError(t, err)

	stats, err = f.registry.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalActiveSessions)
	assert.Equal(t, 2, stats.UniqueUsers)
	assert.InDelta(t, 2.0, stats.AverageSessionsPerUser, 0.0001)
	assert.Equal(t, 5, stats.MaxSessionsPerUser)
}

func TestRegistry_ConcurrentLoginsRespectLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.registry.CreateSession(ctx, alice, RequestContext{IPAddress: fmt.Sprintf("10.0.0.%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	remaining, err := f.registry.ListUserSessions(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Len(t, remaining, 5)
}

func TestRegistry_CleanupLogsOnceWithOneComponent(t *testing.T) {
	var buf bytes.Buffer
	clock := newFakeClock()
	tokens := security.NewTokenIssuer("test-secret", "test-secret", 30*time.Minute, 7*24*time.Hour)
	registry := NewRegistry(DefaultConfig(), NewMemoryStore(), tokens, zerolog.New(&buf), WithClock(clock.Now))
	ctx := context.Background()

	_, err := registry.CreateSession(ctx, alice, req)
	require.NoError(t, err)
	clock.Advance(31 * time.Minute)
	buf.Reset()

	removed, err := registry.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "expired sessions swept"))
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.Equal(t, 1, strings.Count(line, `"component":`), line)
	}
}
