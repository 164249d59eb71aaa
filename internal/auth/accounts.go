package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"roster/internal/store"
)

const (
	usersKey          = "users"
	minPasswordLength = 6
	codeLength        = 6
	// ResetCodeTTL is how long a password reset code stays valid.
	ResetCodeTTL = 30 * time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid username/email or password")
	ErrNotVerified        = errors.New("email address not verified")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrNoPendingRequest   = errors.New("no pending request for this email")
	ErrInvalidCode        = errors.New("invalid code")
	ErrCodeExpired        = errors.New("code expired")
	ErrNoAccount          = errors.New("no account with this email")
	ErrDelivery           = errors.New("could not send code")
)

// User is a registered account.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	PasswordHash  []byte    `json:"passwordHash"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Notifier delivers verification and password reset codes.
type Notifier interface {
	SendVerificationCode(ctx context.Context, email, code string) error
	SendPasswordReset(ctx context.Context, email, code string) error
}

// Registration is the outcome of a successful Register call.
type Registration struct {
	RequireVerification bool   `json:"requireVerification"`
	Email               string `json:"email"`
}

type pendingVerification struct {
	code string
	user User
}

type pendingReset struct {
	code   string
	userID string
	expiry time.Time
}

// Accounts registers users, verifies their email address and handles
// logins and password resets. Users are persisted in the blob store;
// pending codes live in memory only.
type Accounts struct {
	blob   store.Blob
	notify Notifier
	tokens TokenConfig
	cost   int

	mu      sync.Mutex
	users   []User
	verify  map[string]pendingVerification
	resets  map[string]pendingReset
	nowFunc func() time.Time
	newCode func() (string, error)
}

// NewAccounts loads the stored users. cost is the bcrypt cost; zero picks
// bcrypt.DefaultCost.
func NewAccounts(ctx context.Context, blob store.Blob, notify Notifier, tokens TokenConfig, cost int) (*Accounts, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	a := &Accounts{
		blob:    blob,
		notify:  notify,
		tokens:  tokens,
		cost:    cost,
		verify:  make(map[string]pendingVerification),
		resets:  make(map[string]pendingReset),
		nowFunc: time.Now,
		newCode: generateCode,
	}
	data, err := blob.Get(ctx, usersKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load users: %w", err)
	default:
		if err := json.Unmarshal(data, &a.users); err != nil {
			log.Printf("discarding unreadable user list: %v", err)
			a.users = nil
		}
	}
	return a, nil
}

// Tokens returns the token configuration used by Login.
func (a *Accounts) Tokens() TokenConfig { return a.tokens }

// generateCode returns a uniformly random six digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// ValidCode reports whether code has the shape of an issued code.
func ValidCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// EnsureUser adds an already verified account unless the username exists.
func (a *Accounts) EnsureUser(ctx context.Context, username, email, password string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.findLocked(func(u User) bool { return u.Username == username }); ok {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return err
	}
	a.users = append(a.users, User{
		ID:            uuid.NewString(),
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		EmailVerified: true,
		CreatedAt:     a.nowFunc().UTC(),
	})
	return a.persistLocked(ctx)
}

// Login checks the credentials of a verified account; identifier is either
// the username or the email. Tokens are issued on success, with a refresh
// token when remember is set.
func (a *Accounts) Login(_ context.Context, identifier, secret string, remember bool) (User, TokenPair, error) {
	a.mu.Lock()
	usr, ok := a.findLocked(func(u User) bool { return u.Email == identifier || u.Username == identifier })
	a.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(usr.PasswordHash, []byte(secret)) != nil {
		return User{}, TokenPair{}, ErrInvalidCredentials
	}
	if !usr.EmailVerified {
		return User{}, TokenPair{}, ErrNotVerified
	}
	pair, err := a.tokens.Issue(usr, remember)
	if err != nil {
		return User{}, TokenPair{}, err
	}
	return usr, pair, nil
}

// Register creates an unverified account and mails a verification code.
// The account only becomes usable after VerifyEmail.
func (a *Accounts) Register(ctx context.Context, username, email, secret string) (Registration, error) {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if len(secret) < minPasswordLength {
		return Registration{}, ErrWeakPassword
	}
	a.mu.Lock()
	err := a.checkAvailableLocked(username, email)
	a.mu.Unlock()
	if err != nil {
		return Registration{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), a.cost)
	if err != nil {
		return Registration{}, err
	}
	code, err := a.newCode()
	if err != nil {
		return Registration{}, err
	}
	if err := a.notify.SendVerificationCode(ctx, email, code); err != nil {
		log.Printf("verification mail to %s failed: %v", email, err)
		return Registration{}, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	a.mu.Lock()
	a.verify[email] = pendingVerification{
		code: code,
		user: User{
			ID:           uuid.NewString(),
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			CreatedAt:    a.nowFunc().UTC(),
		},
	}
	a.mu.Unlock()
	return Registration{RequireVerification: true, Email: email}, nil
}

func (a *Accounts) checkAvailableLocked(username, email string) error {
	if _, ok := a.findLocked(func(u User) bool { return u.Username == username }); ok {
		return ErrUsernameTaken
	}
	if _, ok := a.findLocked(func(u User) bool { return u.Email == email }); ok {
		return ErrEmailTaken
	}
	return nil
}

// VerifyEmail activates the pending account of email.
func (a *Accounts) VerifyEmail(ctx context.Context, email, code string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.verify[email]
	if !ok {
		return ErrNoPendingRequest
	}
	if p.code != code {
		return ErrInvalidCode
	}
	if err := a.checkAvailableLocked(p.user.Username, p.user.Email); err != nil {
		delete(a.verify, email)
		return err
	}
	p.user.EmailVerified = true
	a.users = append(a.users, p.user)
	if err := a.persistLocked(ctx); err != nil {
		a.users = a.users[:len(a.users)-1]
		return err
	}
	delete(a.verify, email)
	return nil
}

// ResendVerificationCode replaces the pending code of email with a new one.
func (a *Accounts) ResendVerificationCode(ctx context.Context, email string) error {
	a.mu.Lock()
	_, ok := a.verify[email]
	a.mu.Unlock()
	if !ok {
		return ErrNoPendingRequest
	}

	code, err := a.newCode()
	if err != nil {
		return err
	}
	if err := a.notify.SendVerificationCode(ctx, email, code); err != nil {
		log.Printf("verification mail to %s failed: %v", email, err)
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.verify[email]; ok {
		p.code = code
		a.verify[email] = p
	}
	return nil
}

// SendPasswordResetEmail mails a reset code valid for ResetCodeTTL.
func (a *Accounts) SendPasswordResetEmail(ctx context.Context, email string) error {
	code, err := a.newCode()
	if err != nil {
		return err
	}

	a.mu.Lock()
	usr, ok := a.findLocked(func(u User) bool { return u.Email == email })
	if !ok {
		a.mu.Unlock()
		return ErrNoAccount
	}
	a.resets[email] = pendingReset{code: code, userID: usr.ID, expiry: a.nowFunc().Add(ResetCodeTTL)}
	a.mu.Unlock()

	if err := a.notify.SendPasswordReset(ctx, email, code); err != nil {
		log.Printf("reset mail to %s failed: %v", email, err)
		a.mu.Lock()
		if p, ok := a.resets[email]; ok && p.code == code {
			delete(a.resets, email)
		}
		a.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// ResetPassword sets a new password when code matches the pending reset of
// email and has not expired.
func (a *Accounts) ResetPassword(ctx context.Context, email, code, newSecret string) error {
	if !ValidCode(code) {
		return ErrInvalidCode
	}
	if len(newSecret) < minPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newSecret), a.cost)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.resets[email]
	if !ok {
		return ErrNoPendingRequest
	}
	if a.nowFunc().After(p.expiry) {
		delete(a.resets, email)
		return ErrCodeExpired
	}
	if p.code != code {
		return ErrInvalidCode
	}
	for i := range a.users {
		if a.users[i].ID != p.userID {
			continue
		}
		old := a.users[i].PasswordHash
		a.users[i].PasswordHash = hash
		if err := a.persistLocked(ctx); err != nil {
			a.users[i].PasswordHash = old
			return err
		}
		delete(a.resets, email)
		return nil
	}
	delete(a.resets, email)
	return ErrNoAccount
}

func (a *Accounts) findLocked(fn func(User) bool) (User, bool) {
	for _, u := range a.users {
		if fn(u) {
			return u, true
		}
	}
	return User{}, false
}

func (a *Accounts) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(a.users)
	if err != nil {
		return err
	}
	if err := a.blob.Put(ctx, usersKey, data); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}
