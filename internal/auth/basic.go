package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/gkumurzhi/ExperimentalServer/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the PBKDF2-SHA256 work factor for stored passwords.
	DefaultIterations = 600_000

	// DefaultRealm is announced in the WWW-Authenticate challenge.
	DefaultRealm = "Restricted Area"

	keyLength = 32
)

type credential struct {
	hash []byte
	salt string
}

// BasicAuthenticator verifies HTTP Basic credentials against PBKDF2 hashes.
// Plaintext passwords are never kept.
type BasicAuthenticator struct {
	Realm      string
	Iterations int

	mu    sync.RWMutex
	users map[string]credential
}

// NewBasicAuthenticator creates an authenticator holding users.
func NewBasicAuthenticator(users map[string]string) (*BasicAuthenticator, error) {
	a := &BasicAuthenticator{
		Realm:      DefaultRealm,
		Iterations: DefaultIterations,
		users:      make(map[string]credential),
	}
	for name, password := range users {
		if err := a.AddUser(name, password); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// AddUser stores a freshly salted hash for name, replacing any previous one.
func (a *BasicAuthenticator) AddUser(name, password string) error {
	salt, err := randomHex(16)
	if err != nil {
		return err
	}
	hash := HashPassword(password, salt, a.iterations())

	a.mu.Lock()
	a.users[name] = credential{hash: hash, salt: salt}
	a.mu.Unlock()
	return nil
}

// RemoveUser deletes name.
func (a *BasicAuthenticator) RemoveUser(name string) {
	a.mu.Lock()
	delete(a.users, name)
	a.mu.Unlock()
}

// Authenticate checks an Authorization header value.
func (a *BasicAuthenticator) Authenticate(header string) bool {
	user, password, ok := ParseBasicAuth(header)
	if !ok {
		return false
	}

	a.mu.RLock()
	cred, known := a.users[user]
	a.mu.RUnlock()
	if !known {
		logging.Warn("Auth failed", zap.String("user", user), zap.String("reason", "unknown user"))
		return false
	}

	computed := HashPassword(password, cred.salt, a.iterations())
	if subtle.ConstantTimeCompare(computed, cred.hash) != 1 {
		logging.Warn("Auth failed", zap.String("user", user), zap.String("reason", "bad password"))
		return false
	}
	logging.Debug("Auth OK", zap.String("user", user))
	return true
}

// Challenge returns the WWW-Authenticate header value.
func (a *BasicAuthenticator) Challenge() string {
	realm := a.Realm
	if realm == "" {
		realm = DefaultRealm
	}
	return fmt.Sprintf("Basic realm=%q", realm)
}

func (a *BasicAuthenticator) iterations() int {
	if a.Iterations <= 0 {
		return DefaultIterations
	}
	return a.Iterations
}

// HashPassword derives the PBKDF2-SHA256 key for password with a hex salt.
func HashPassword(password, salt string, iterations int) []byte {
	return pbkdf2.Key([]byte(password), []byte(salt), iterations, keyLength, sha256.New)
}

// ParseBasicAuth extracts user and password from "Basic base64(user:pass)".
// The scheme is matched case-insensitively.
func ParseBasicAuth(header string) (user, password string, ok bool) {
	scheme, encoded, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "basic") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	user, password, ok = strings.Cut(string(decoded), ":")
	return user, password, ok
}

// GenerateCredentials returns a random "user_xxxxxxxx" name and password.
func GenerateCredentials() (user, password string, err error) {
	suffix, err := randomHex(4)
	if err != nil {
		return "", "", err
	}
	password, err = GeneratePassword()
	if err != nil {
		return "", "", err
	}
	return "user_" + suffix, password, nil
}

// GeneratePassword returns a random URL-safe password.
func GeneratePassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}
