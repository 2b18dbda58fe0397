// Package authpw provides username/password registration and login.
package authpw

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/scrypt"

	"halalchat/api/internal/metrics"
	"halalchat/api/internal/store"
	"halalchat/api/internal/util"
)

var (
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidInput       = errors.New("username and password are required")
)

const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltBytes    = 16
)

// UserStore defines the storage interface for auth
type UserStore interface {
	CreateUser(ctx context.Context, input store.NewUser) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (store.User, error)
	UpdateUserPassword(ctx context.Context, userID, password string) error
}

// Config holds the credit grants applied at signup.
type Config struct {
	StartingCredits int
	ReferralBonus   int
	Metrics         *metrics.Metrics
}

// Service provides username/password authentication
type Service struct {
	store UserStore
	cfg   Config
}

// NewService creates a new auth service
func NewService(store UserStore, cfg Config) *Service {
	return &Service{store: store, cfg: cfg}
}

// RegisterRequest contains sign-up parameters
type RegisterRequest struct {
	Username     string
	Password     string
	ReferralCode string
}

// Register creates a user with the starting grant. A referral code that does
// not resolve to a user is ignored.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return store.User{}, ErrInvalidInput
	}

	var referrerID *string
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		referrer, err := s.store.GetUserByReferralCode(ctx, code)
		switch {
		case err == nil:
			referrerID = &referrer.ID
		case errors.Is(err, sql.ErrNoRows):
		default:
			return store.User{}, fmt.Errorf("resolve referral code: %w", err)
		}
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}

	input := store.NewUser{
		User: store.User{
			ID:           util.NewID(),
			Username:     username,
			Password:     hash,
			Credits:      s.cfg.StartingCredits,
			ReferralCode: util.ReferralCode(),
			ReferredBy:   referrerID,
		},
		WelcomeMessage: WelcomeMessage(s.cfg.StartingCredits),
	}
	if referrerID != nil {
		input.ReferrerBonus = s.cfg.ReferralBonus
		input.ReferrerMessage = ReferralSignupMessage(username, s.cfg.ReferralBonus)
	}

	user, err := s.store.CreateUser(ctx, input)
	if errors.Is(err, store.ErrUsernameTaken) {
		return store.User{}, ErrDuplicateUsername
	}
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login authenticates a user. Rows still holding a plain-text password are
// rewritten in hashed form after a successful comparison.
func (s *Service) Login(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if !isHashed(user.Password) {
		if subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) != 1 {
			return store.User{}, ErrInvalidCredentials
		}
		hash, err := HashPassword(password)
		if err != nil {
			return store.User{}, err
		}
		if err := s.store.UpdateUserPassword(ctx, user.ID, hash); err != nil {
			// The row stays plain-text and is upgraded on a later login.
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.BookkeepingFailures.WithLabelValues("password_upgrade").Inc()
			}
			log.Warn().Err(err).Str("user_id", user.ID).Msg("upgrade legacy password")
			return user, nil
		}
		user.Password = hash
		return user, nil
	}

	ok, err := VerifyPassword(user.Password, password)
	if err != nil {
		return store.User{}, err
	}
	if !ok {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// HashPassword returns hex(scrypt(password, salt)) + "." + salt.
func HashPassword(password string) (string, error) {
	salt := util.RandomHex(saltBytes)
	key, err := derive(password, salt)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key) + "." + salt, nil
}

// VerifyPassword compares password against a stored hash.salt value.
func VerifyPassword(stored, password string) (bool, error) {
	hashHex, salt, ok := strings.Cut(stored, ".")
	if !ok || salt == "" {
		return false, nil
	}
	expected, err := hex.DecodeString(hashHex)
	if err != nil || len(expected) != scryptKeyLen {
		return false, nil
	}
	key, err := derive(password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(expected, key) == 1, nil
}

func derive(password, salt string) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return key, nil
}

func isHashed(stored string) bool {
	return strings.Contains(stored, ".")
}

func WelcomeMessage(credits int) string {
	return fmt.Sprintf("Welcome to Halal AI Chat! You've received %d free credits to start.", credits)
}

func ReferralSignupMessage(username string, bonus int) string {
	return fmt.Sprintf("%s signed up with your referral code. You received %d %s!", username, bonus, creditWord(bonus))
}

func creditWord(n int) string {
	if n == 1 {
		return "credit"
	}
	return "credits"
}
