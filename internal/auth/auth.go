package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer = "stackdeck"
	tokenTTL    = 12 * time.Hour
)

// Claims defines JWT token claims
type Claims struct {
	Username string `json:"username"`
	BootID   string `json:"boot"`
	jwt.RegisteredClaims
}

// HashPassword hashes a plaintext password with bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a bcrypt hashed password with a plaintext password
func CheckPassword(hashedPassword, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil
}

// TokenIssuer signs and parses session tokens. Each process gets a fresh
// boot id, so tokens from a previous run are rejected after a restart.
type TokenIssuer struct {
	secret []byte
	bootID string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer with a random boot id.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		bootID: uuid.NewString(),
		ttl:    tokenTTL,
		now:    time.Now,
	}
}

// Generate creates a signed token for username.
func (ti *TokenIssuer) Generate(username string) (string, error) {
	now := ti.now()
	claims := Claims{
		Username: username,
		BootID:   ti.bootID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// Parse validates a token's signature, expiry, issuer and boot id.
func (ti *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.BootID != ti.bootID {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// TokenValidator resolves a bearer token to a username.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Middleware returns a Gin middleware that validates bearer tokens.
// It checks the Authorization header first, then falls back to the "token"
// query parameter ONLY for WebSocket upgrade requests (browsers cannot set
// custom headers on WebSocket connections).
func Middleware(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := BearerToken(c.Request)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization required", "error_key": "error.unauthorized"})
			return
		}

		username, err := v.Validate(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "error_key": "error.unauthorized"})
			return
		}

		c.Set("username", username)
		c.Next()
	}
}

// BearerToken extracts the request's token, honouring the query parameter
// only on WebSocket upgrades.
func BearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if IsWebSocketUpgrade(r) {
		return r.URL.Query().Get("token")
	}
	return ""
}

// Username returns the authenticated user set by Middleware.
func Username(c *gin.Context) string {
	return c.GetString("username")
}

// IsWebSocketUpgrade checks if the request is a WebSocket upgrade handshake.
func IsWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
