package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
)

const (
	userStoreTimeout = 3 * time.Second
	tokenIssuer      = "retailpos"
	minUsernameLen   = 4
	minPasswordLen   = 6
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errBadToken           = errors.New("invalid or expired token")
)

// UserStore persists till operator accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager signs in till operators, issues their bearer tokens and checks
// the manager override PIN.
type AuthManager struct {
	signer     tokenSigner
	managerPIN string
	userStore  UserStore
	roster     roster
}

// NewAuthManager loads operator accounts from userStore. An empty managerPIN
// leaves overrides switched off.
func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	a := &AuthManager{
		signer:    tokenSigner{secret: []byte(secret), ttl: tokenTTL},
		userStore: userStore,
		roster:    roster{accounts: make(map[string]credential)},
	}
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hash, err := hashPassword(pin); err == nil {
			a.managerPIN = hash
		}
	}
	a.refresh(ctx)
	return a
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	// Another terminal may have added the operator since we last looked.
	a.refresh(ctx)

	username := normalizeUsername(req.Username)
	cred, ok := a.roster.get(username)
	if !ok || !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	token, expiresAt, err := a.signer.issue(username, cred.role, time.Now().UTC())
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("sign token: %w", err)
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken returns the operator a bearer token was issued to.
func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	return a.signer.verify(tokenStr)
}

// ValidateManagerPIN is false whenever overrides are switched off.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" || !isPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(pin)) == nil
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	username, err := validateCashier(req)
	if err != nil {
		return domain.CashierUser{}, err
	}
	a.refresh(ctx)
	if _, taken := a.roster.get(username); taken {
		return domain.CashierUser{}, fmt.Errorf("username already exists")
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, account); err != nil {
			return domain.CashierUser{}, err
		}
	}
	a.roster.put(account)
	return cashierView(username, credentialOf(account)), nil
}

// ListCashiers returns cashier accounts ordered by username.
func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.refresh(ctx)
	return a.roster.cashiers()
}

// refresh reloads the roster from the user store. Accounts still holding a
// plain-text password are rehashed and written back.
func (a *AuthManager) refresh(ctx context.Context) {
	if a.userStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, userStoreTimeout)
	defer cancel()

	accounts, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return
	}
	for _, account := range accounts {
		account.Username = normalizeUsername(account.Username)
		if account.Username == "" {
			continue
		}
		if !isPasswordHash(account.Password) {
			a.upgradePassword(ctx, &account)
		}
		a.roster.put(account)
	}
}

func (a *AuthManager) upgradePassword(ctx context.Context, account *domain.UserAccount) {
	hash, err := hashPassword(account.Password)
	if err != nil {
		return
	}
	account.Password = hash
	_ = a.userStore.UpdateUserPassword(ctx, account.Username, hash)
}

func validateCashier(req domain.CashierCreateRequest) (string, error) {
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < minUsernameLen:
		return "", fmt.Errorf("username must be at least %d characters", minUsernameLen)
	case strings.ContainsAny(username, " \t\r\n"):
		return "", fmt.Errorf("username must not contain spaces")
	case len(strings.TrimSpace(req.Password)) < minPasswordLen:
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	return username, nil
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func knownRole(role string) bool {
	return role == domain.RoleAdmin || role == domain.RoleCashier
}

type credential struct {
	password string
	role     string
	active   bool
	created  time.Time
}

func credentialOf(account domain.UserAccount) credential {
	return credential{password: account.Password, role: account.Role, active: account.Active, created: account.CreatedAt}
}

func cashierView(username string, c credential) domain.CashierUser {
	return domain.CashierUser{Username: username, Role: c.role, Active: c.active, CreatedAt: c.created}
}

// roster caches credentials by normalized username.
type roster struct {
	mu       sync.RWMutex
	accounts map[string]credential
}

func (r *roster) get(username string) (credential, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.accounts[username]
	return c, ok
}

func (r *roster) put(account domain.UserAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.Username] = credentialOf(account)
}

func (r *roster) cashiers() []domain.CashierUser {
	r.mu.RLock()
	out := make([]domain.CashierUser, 0, len(r.accounts))
	for username, c := range r.accounts {
		if c.role == domain.RoleCashier {
			out = append(out, cashierView(username, c))
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

type tillClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// tokenSigner issues HS256 tokens carrying the operator's role.
type tokenSigner struct {
	secret []byte
	ttl    time.Duration
}

func (s tokenSigner) issue(username, role string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.ttl)
	claims := tillClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
	return signed, expiresAt, err
}

// verify rejects tokens from another issuer or carrying a role the till
// does not know.
func (s tokenSigner) verify(raw string) (domain.Actor, error) {
	claims := &tillClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (interface{}, error) {
		return s.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil {
		return domain.Actor{}, errBadToken
	}
	if claims.Subject == "" || !knownRole(claims.Role) {
		return domain.Actor{}, errBadToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func verifyPassword(stored, input string) bool {
	if strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isPasswordHash(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
