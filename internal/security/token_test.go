package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer("access-secret", "refresh-secret", 30*time.Minute, 7*24*time.Hour)
}

var testSubject = Subject{UserID: "u1", Email: "ada@example.com", Role: "agent", SessionID: "s1"}

func TestTokenIssuer_AccessRoundTrip(t *testing.T) {
	issuer := newTestIssuer()

	signed, err := issuer.IssueAccess(testSubject)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), signed.ExpiresAt, 5*time.Second)

	claims, err := issuer.ParseAccess(signed.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "agent", claims.Role)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, TokenTypeAccess, claims.Type)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenIssuer_RefreshRoundTrip(t *testing.T) {
	issuer := newTestIssuer()

	signed, err := issuer.IssueRefresh(testSubject)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), signed.ExpiresAt, 5*time.Second)

	claims, err := issuer.ParseRefresh(signed.Token)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, TokenTypeRefresh, claims.Type)
}

func TestTokenIssuer_RotatedTokensDiffer(t *testing.T) {
	issuer := newTestIssuer()

	first, err := issuer.IssueRefresh(testSubject)
	require.NoError(t, err)
	second, err := issuer.IssueRefresh(testSubject)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestTokenIssuer_ParseRefreshRejectsAccessToken(t *testing.T) {
	// shared secret so only the type tag separates the two tokens
	issuer := NewTokenIssuer("shared", "shared", time.Minute, time.Hour)

	access, err := issuer.IssueAccess(testSubject)
	require.NoError(t, err)

	_, err = issuer.ParseRefresh(access.Token)
	assert.ErrorIs(t, err, ErrWrongTokenType)

	refresh, err := issuer.IssueRefresh(testSubject)
	require.NoError(t, err)
	_, err = issuer.ParseAccess(refresh.Token)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestTokenIssuer_ParseRejectsWrongSecret(t *testing.T) {
	issuer := newTestIssuer()
	other := NewTokenIssuer("other", "other", time.Minute, time.Hour)

	signed, err := other.IssueRefresh(testSubject)
	require.NoError(t, err)

	_, err = issuer.ParseRefresh(signed.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_ParseRejectsExpired(t *testing.T) {
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer().WithClock(func() time.Time { return issued })

	signed, err := issuer.IssueAccess(testSubject)
	require.NoError(t, err)

	issuer.WithClock(func() time.Time { return issued.Add(31 * time.Minute) })
	_, err = issuer.ParseAccess(signed.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_ParseRejectsNoneAlgorithm(t *testing.T) {
	issuer := newTestIssuer()

	claims := RefreshClaims{UserID: "u1", SessionID: "s1", Type: TokenTypeRefresh}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.ParseRefresh(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_ParseGarbage(t *testing.T) {
	issuer := newTestIssuer()
	_, err := issuer.ParseAccess("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenIssuer_RefreshSecretFallback(t *testing.T) {
	issuer := NewTokenIssuer("only", "", time.Minute, time.Hour)
	signed, err := issuer.IssueRefresh(testSubject)
	require.NoError(t, err)

	shared := NewTokenIssuer("only", "only", time.Minute, time.Hour)
	_, err = shared.ParseRefresh(signed.Token)
	assert.NoError(t, err)
}
