package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/model"
	"gorm.io/gorm"
)

// bcrypt ignores input past 72 bytes, so longer passwords are refused.
const maxPasswordBytes = 72

// dummyHash is compared against when the username does not match so both
// paths cost one bcrypt comparison.
var dummyHash = sync.OnceValue(func() string {
	h, _ := HashPassword("stackdeck-unused-password")
	return h
})

// Store owns the single administrator credential.
type Store struct {
	db     *gorm.DB
	tokens *TokenIssuer
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a credential store on db.
func NewStore(db *gorm.DB, tokens *TokenIssuer, logger *slog.Logger) *Store {
	return &Store{db: db, tokens: tokens, logger: logger}
}

// IsSetupRequired reports whether no administrator has been registered yet.
func (s *Store) IsSetupRequired() (bool, error) {
	var count int64
	if err := s.db.Model(&model.Credential{}).Count(&count).Error; err != nil {
		return false, apperr.Wrap(apperr.IOFailure, err, "count credentials")
	}
	return count == 0, nil
}

// Register creates the administrator and returns a token. It succeeds at most
// once; every later call fails with AlreadyInitialized whatever its payload.
func (s *Store) Register(username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	required, err := s.IsSetupRequired()
	if err != nil {
		return "", err
	}
	if !required {
		return "", apperr.New(apperr.AlreadyInitialized, "administrator already configured")
	}

	username = strings.TrimSpace(username)
	if err := validateCredential(username, password); err != nil {
		return "", err
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, err, "hash password")
	}

	cred := model.Credential{ID: model.CredentialID, Username: username, PasswordHash: hashed}
	if err := s.db.Create(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", apperr.New(apperr.AlreadyInitialized, "administrator already configured")
		}
		return "", apperr.Wrap(apperr.IOFailure, err, "store credential")
	}

	s.logger.Info("administrator registered", "username", username)
	return s.issue(username)
}

// Login verifies the credential and returns a fresh token.
func (s *Store) Login(username, password string) (string, error) {
	var cred model.Credential
	err := s.db.First(&cred, model.CredentialID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.New(apperr.SetupRequired, "setup required before login")
	}
	if err != nil {
		return "", apperr.Wrap(apperr.IOFailure, err, "load credential")
	}

	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(cred.Username)) == 1
	hash := cred.PasswordHash
	if !userOK {
		hash = dummyHash()
	}
	passOK := CheckPassword(hash, password)
	if !userOK || !passOK {
		return "", apperr.New(apperr.InvalidCredentials, "invalid username or password")
	}

	return s.issue(cred.Username)
}

// Validate maps a token to its username.
func (s *Store) Validate(token string) (string, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return "", apperr.Wrap(apperr.Unauthorized, err, "invalid or expired token")
	}
	return claims.Username, nil
}

func (s *Store) issue(username string) (string, error) {
	token, err := s.tokens.Generate(username)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, err, "sign token")
	}
	return token, nil
}

func validateCredential(username, password string) error {
	if n := utf8.RuneCountInString(username); n < 3 || n > 64 {
		return apperr.New(apperr.Validation, "username must be 3 to 64 characters")
	}
	if utf8.RuneCountInString(password) < 8 {
		return apperr.New(apperr.Validation, "password must be at least 8 characters")
	}
	if len(password) > maxPasswordBytes {
		return apperr.New(apperr.Validation, "password must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}
