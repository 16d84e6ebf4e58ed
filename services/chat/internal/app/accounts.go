package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"roomchat/pkg/auth"
	"roomchat/pkg/domain"
	"roomchat/pkg/store"
)

// Register creates an account and signs it in.
func (a *App) Register(ctx context.Context, username, password string) (domain.User, string, error) {
	nickname, err := validateNickname(username)
	if err != nil {
		return domain.User{}, "", err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	_, exists, err := a.store.GetUserByNickname(ctx, nickname)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check nickname: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrNicknameTaken
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Nickname:     nickname,
		PasswordHash: passwordHash,
		Role:         domain.RoleUser,
		CreatedAt:    a.now(),
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, "", ErrNicknameTaken
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	return a.issueToken(user)
}

// Login validates credentials and issues a session token.
func (a *App) Login(ctx context.Context, username, password string) (domain.User, string, error) {
	nickname := strings.TrimSpace(username)
	if nickname == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByNickname(ctx, nickname)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	return a.issueToken(user)
}

// Logout revokes the token until it would have expired.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// Authenticate resolves a bearer token to its user.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, error) {
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, ErrUnauthenticated
	}
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	return user, nil
}

func (a *App) issueToken(user domain.User) (domain.User, string, error) {
	token, err := a.sessions.NewSession(user.ID, user.Role)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}
