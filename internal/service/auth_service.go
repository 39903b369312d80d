package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/ids"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/models"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/repository"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/security"
	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/session"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUserSuspended       = errors.New("user suspended")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSessionNotFound     = errors.New("session not found")
)

const minPasswordLength = 8

// UserStore is satisfied by *repository.UserRepository.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
}

type AuthService struct {
	users    UserStore
	sessions *session.Registry
	params   security.Argon2Params
	log      zerolog.Logger
}

type Option func(*AuthService)

func WithPasswordParams(params security.Argon2Params) Option {
	return func(s *AuthService) { s.params = params }
}

func NewAuthService(users UserStore, sessions *session.Registry, log zerolog.Logger, opts ...Option) *AuthService {
	s := &AuthService{
		users:    users,
		sessions: sessions,
		params:   security.DefaultArgon2Params,
		log:      log.With().Str("component", "auth").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

type AuthResult struct {
	User   models.User
	Tokens session.Issued
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput, reqCtx session.RequestContext) (AuthResult, error) {
	email := normalizeEmail(input.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return AuthResult{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(input.Password) < minPasswordLength {
		return AuthResult{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return AuthResult{}, repository.ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return AuthResult{}, err
	}

	passwordHash, err := security.HashPasswordWithParams(input.Password, s.params)
	if err != nil {
		return AuthResult{}, err
	}

	user := models.User{
		ID:           ids.NewUUID(),
		Email:        email,
		PasswordHash: passwordHash,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		Role:         models.UserRoleAgent,
		Status:       models.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return AuthResult{}, err
	}

	return s.open(ctx, user, reqCtx)
}

type LoginInput struct {
	Email    string
	Password string
}

func (s *AuthService) Login(ctx context.Context, input LoginInput, reqCtx session.RequestContext) (AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil || !ok {
		return AuthResult{}, ErrInvalidCredentials
	}

	if user.Status != models.UserStatusActive {
		return AuthResult{}, ErrUserSuspended
	}

	return s.open(ctx, user, reqCtx)
}

func (s *AuthService) open(ctx context.Context, user models.User, reqCtx session.RequestContext) (AuthResult, error) {
	issued, err := s.sessions.CreateSession(ctx, session.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
	}, reqCtx)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: user, Tokens: issued}, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string, reqCtx session.RequestContext) (session.TokenPair, error) {
	pair, err := s.sessions.RefreshAccessToken(ctx, refreshToken, reqCtx)
	if err != nil {
		return session.TokenPair{}, err
	}
	if pair == nil {
		return session.TokenPair{}, ErrInvalidRefreshToken
	}
	return *pair, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	_, err := s.sessions.DestroySession(ctx, sessionID)
	return err
}

func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	return s.sessions.DestroyAllUserSessions(ctx, userID)
}

func (s *AuthService) Sessions(ctx context.Context, userID string) ([]session.Session, error) {
	return s.sessions.ListUserSessions(ctx, userID)
}

// RevokeSession ends one of the user's own sessions. Sessions belonging to
// someone else are reported as not found.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sessions, err := s.sessions.ListUserSessions(ctx, userID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.ID == sessionID {
			_, err := s.sessions.DestroySession(ctx, sessionID)
			return err
		}
	}
	return ErrSessionNotFound
}

func (s *AuthService) Me(ctx context.Context, userID string) (models.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *AuthService) Stats(ctx context.Context) (session.Stats, error) {
	return s.sessions.Stats(ctx)
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
