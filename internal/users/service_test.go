package users

import (
	"context"
	"errors"
	"testing"

	"github.com/samuelcolman2/cantina-icone/internal/domain"
	"github.com/samuelcolman2/cantina-icone/internal/store/memory"
)

func TestResolveRole(t *testing.T) {
	svc := NewService(memory.New(), []string{"Chefe@cantina.com", "  dona@cantina.com "}, nil)

	cases := []struct {
		email string
		want  domain.UserRole
	}{
		{"chefe@cantina.com", domain.RoleAdmin},
		{"CHEFE@CANTINA.COM", domain.RoleAdmin},
		{"dona@cantina.com", domain.RoleAdmin},
		{"caixa@cantina.com", domain.RoleSeller},
		{"", domain.RoleSeller},
	}
	for _, tc := range cases {
		if got := svc.ResolveRole(tc.email); got != tc.want {
			t.Errorf("ResolveRole(%q): expected %s, got %s", tc.email, tc.want, got)
		}
	}
}

func TestRegisterAndProfile(t *testing.T) {
	st := memory.New()
	svc := NewService(st, []string{"chefe@cantina.com"}, nil)
	ctx := context.Background()

	if err := svc.Register(ctx, "uid-1", "caixa@cantina.com"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	profile, err := svc.Profile(ctx, "uid-1")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.UID != "uid-1" || profile.Email != "caixa@cantina.com" {
		t.Errorf("unexpected profile: %+v", profile)
	}
	if profile.Role != domain.RoleSeller {
		t.Errorf("expected seller role, got %s", profile.Role)
	}
	if profile.CreatedAt == 0 {
		t.Error("expected a server-assigned creation timestamp")
	}
}

func TestProfileAdminComesFromAllowList(t *testing.T) {
	st := memory.New()
	svc := NewService(st, []string{"chefe@cantina.com"}, nil)
	ctx := context.Background()

	// The stored record always says seller; the allow-list promotes at
	// read time, so revoking is a config change.
	if err := svc.Register(ctx, "uid-2", "chefe@cantina.com"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	profile, err := svc.Profile(ctx, "uid-2")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.Role != domain.RoleAdmin {
		t.Errorf("expected admin role from allow-list, got %s", profile.Role)
	}

	demoted := NewService(st, nil, nil)
	profile, err = demoted.Profile(ctx, "uid-2")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.Role != domain.RoleSeller {
		t.Errorf("expected seller after allow-list removal, got %s", profile.Role)
	}
}

func TestProfileNotFound(t *testing.T) {
	svc := NewService(memory.New(), nil, nil)
	if _, err := svc.Profile(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRegisterEmptyUID(t *testing.T) {
	svc := NewService(memory.New(), nil, nil)
	if err := svc.Register(context.Background(), "", "x@y.com"); err == nil {
		t.Error("expected an error for empty uid")
	}
}

func TestRequireAdmin(t *testing.T) {
	svc := NewService(memory.New(), []string{"chefe@cantina.com"}, nil)

	admin := &domain.UserProfile{UID: "a", Email: "chefe@cantina.com"}
	if err := svc.RequireAdmin(admin); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}

	seller := &domain.UserProfile{UID: "s", Email: "caixa@cantina.com"}
	if err := svc.RequireAdmin(seller); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if err := svc.RequireAdmin(nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for nil profile, got %v", err)
	}

	// A forged role field does not bypass the allow-list.
	forged := &domain.UserProfile{UID: "f", Email: "caixa@cantina.com", Role: domain.RoleAdmin}
	if err := svc.RequireAdmin(forged); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for forged role, got %v", err)
	}
}
