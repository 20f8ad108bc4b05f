package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
	"github.com/khaledrefaat/TaskSimple/internal/remote"
	"github.com/khaledrefaat/TaskSimple/internal/schema"
)

// Password and email limits.
const (
	MinPasswordLength = 6
	// MaxPasswordLength is the bcrypt input limit in bytes.
	MaxPasswordLength = 72
	MaxEmailLength    = 255
)

// UserStore is the part of the server store the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*schema.User, error)
	GetUserByEmail(ctx context.Context, email string) (*remote.Account, error)
}

// Result is a successful sign-up or sign-in.
type Result struct {
	User      *schema.User
	Token     string
	ExpiresAt time.Time
}

// Service implements sign-up and sign-in.
type Service struct {
	users  UserStore
	tokens *Tokens
	cost   int

	// dummyHash is compared against when the email is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash []byte
}

// NewService creates a Service.
func NewService(users UserStore, tokens *Tokens) *Service {
	return newService(users, tokens, bcrypt.DefaultCost)
}

func newService(users UserStore, tokens *Tokens, cost int) *Service {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("tasksimple-dummy-password"), cost)
	return &Service{users: users, tokens: tokens, cost: cost, dummyHash: dummy}
}

// Tokens returns the token issuer used by the service.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// SignUp creates an account and returns a session for it.
func (s *Service) SignUp(ctx context.Context, email, password string) (*Result, error) {
	email = NormalizeEmail(email)
	if err := validateSignUp(email, password); err != nil {
		return nil, err
	}

	_, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, errs.FieldError("email", "User with this email already exists")
	case !errors.Is(err, errs.ErrNotFound):
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, err
	}

	user, err := s.users.CreateUser(ctx, email, hash)
	if err != nil {
		return nil, err
	}
	return s.session(user)
}

// SignIn checks credentials. An unknown email and a wrong password both
// return errs.ErrAuth.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Result, error) {
	email = NormalizeEmail(email)
	if err := validateSignIn(email, password); err != nil {
		return nil, err
	}

	acct, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, errs.ErrAuth
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !CheckPassword(acct.PasswordHash, password) {
		return nil, errs.ErrAuth
	}
	return s.session(&acct.User)
}

func (s *Service) session(user *schema.User) (*Result, error) {
	token, claims, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Result{User: user, Token: token, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// HashPassword hashes password with bcrypt at cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(v *errs.ValidationError, email string) {
	switch {
	case email == "":
		v.Add("email", "Email is required")
	case len(email) > MaxEmailLength:
		v.Add("email", "Email must be 255 characters or less")
	default:
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			v.Add("email", "Invalid email address")
		}
	}
}

func validateSignUp(email, password string) error {
	v := errs.NewValidationError()
	validateEmail(v, email)
	switch {
	case password == "":
		v.Add("password", "Password is required")
	case len(password) < MinPasswordLength:
		v.Add("password", fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	case len(password) > MaxPasswordLength:
		v.Add("password", fmt.Sprintf("Password must be %d bytes or less", MaxPasswordLength))
	}
	return v.OrNil()
}

func validateSignIn(email, password string) error {
	v := errs.NewValidationError()
	validateEmail(v, email)
	if password == "" {
		v.Add("password", "Password is required")
	}
	return v.OrNil()
}
