package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := legacyAdminStore()
	ctx := context.Background()

	manager := NewAuthManager(ctx, "test-secret", time.Hour, "", store)
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestLoginTokenCarriesRole(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager(ctx, "test-secret", time.Hour, "", legacyAdminStore())

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: " Admin ", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager(ctx, "another-secret", time.Hour, "", nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	store := legacyAdminStore()
	ctx := context.Background()

	manager := NewAuthManager(ctx, "test-secret", time.Hour, "", store)
	cashier, err := manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "tillone", Password: "pass1234"})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "tillone" || cashier.Role != domain.RoleCashier {
		t.Fatalf("unexpected cashier %+v", cashier)
	}

	saved, ok := store.users["tillone"]
	if !ok {
		t.Fatalf("expected cashier to be saved")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "tillone", Password: "pass1234"}); err != nil {
		t.Fatalf("login with hashed cashier failed: %v", err)
	}
	if _, err := manager.CreateCashier(ctx, domain.CashierCreateRequest{Username: "tillone", Password: "pass1234"}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
	if got := manager.ListCashiers(ctx); len(got) != 1 || got[0].Username != "tillone" {
		t.Fatalf("unexpected cashier list %+v", got)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "246810", &userStoreStub{})

	if manager.managerPIN == "246810" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("246810") {
		t.Fatalf("expected manager pin validation to succeed")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}

func TestManagerPINDisabledWhenUnset(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "", nil)
	if manager.ValidateManagerPIN("disabled") || manager.ValidateManagerPIN("") {
		t.Fatalf("expected overrides to be disabled without a configured PIN")
	}
}

func TestParseTokenRejectsForeignClaims(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "", nil)
	now := time.Now().UTC()

	token, _, err := manager.signer.issue("owner", "owner", now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected token with unknown role to be rejected")
	}

	token, _, err = manager.signer.issue("", domain.RoleCashier, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected token without subject to be rejected")
	}

	expired, _, err := tokenSigner{secret: []byte("test-secret"), ttl: -time.Minute}.issue("cashier", domain.RoleCashier, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := manager.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateCashier(t *testing.T) {
	cases := []struct {
		req  domain.CashierCreateRequest
		want string
		ok   bool
	}{
		{domain.CashierCreateRequest{Username: " TillTwo ", Password: "secret1"}, "tilltwo", true},
		{domain.CashierCreateRequest{Username: "abc", Password: "secret1"}, "", false},
		{domain.CashierCreateRequest{Username: "till two", Password: "secret1"}, "", false},
		{domain.CashierCreateRequest{Username: "tilltwo", Password: "  12345  "}, "", false},
	}
	for _, tc := range cases {
		got, err := validateCashier(tc.req)
		if tc.ok != (err == nil) {
			t.Fatalf("validateCashier(%+v) error = %v", tc.req, err)
		}
		if got != tc.want {
			t.Fatalf("validateCashier(%+v) = %q, want %q", tc.req, got, tc.want)
		}
	}
}
