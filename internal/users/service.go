// Package users resolves roles and keeps the users/{uid} profile records.
// The authentication provider itself is out of scope: callers hand this
// package an already-authenticated uid/email pair. Admins are the emails
// on the configured allow-list; everyone else sells.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/samuelcolman2/cantina-icone/internal/domain"
	"github.com/samuelcolman2/cantina-icone/internal/store"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrForbidden    = errors.New("admin role required")
)

type Service struct {
	store  store.Store
	admins map[string]struct{}
	log    *zap.Logger
}

func NewService(st store.Store, adminEmails []string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	admins := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			admins[email] = struct{}{}
		}
	}
	return &Service{store: st, admins: admins, log: log}
}

// ResolveRole maps an email to its effective role. The stored profile
// always says seller; admin is granted only by the allow-list, so revoking
// an admin is a config change, not a data migration.
func (s *Service) ResolveRole(email string) domain.UserRole {
	if _, ok := s.admins[strings.ToLower(strings.TrimSpace(email))]; ok {
		return domain.RoleAdmin
	}
	return domain.RoleSeller
}

// Register writes the profile record for a newly created account. The
// persisted role is always seller; see ResolveRole.
func (s *Service) Register(ctx context.Context, uid, email string) error {
	if uid == "" {
		return fmt.Errorf("empty uid")
	}
	record := struct {
		Email     string          `json:"email"`
		Role      domain.UserRole `json:"role"`
		CreatedAt any             `json:"createdAt"`
	}{
		Email:     email,
		Role:      domain.RoleSeller,
		CreatedAt: store.ServerTimestamp,
	}
	if err := s.store.Set(ctx, store.UserPath(uid), record); err != nil {
		return fmt.Errorf("register user %s: %w", uid, err)
	}
	s.log.Info("user registered", zap.String("uid", uid))
	return nil
}

// Profile loads one user record with the effective role applied.
func (s *Service) Profile(ctx context.Context, uid string) (*domain.UserProfile, error) {
	raw, err := s.store.Get(ctx, store.UserPath(uid))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", uid, err)
	}
	var profile domain.UserProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", uid, err)
	}
	profile.UID = uid
	profile.Role = s.ResolveRole(profile.Email)
	return &profile, nil
}

// RequireAdmin gates administrative operations (product CRUD, category
// fan-outs, stock edits) on the caller's effective role.
func (s *Service) RequireAdmin(profile *domain.UserProfile) error {
	if profile == nil || s.ResolveRole(profile.Email) != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}
