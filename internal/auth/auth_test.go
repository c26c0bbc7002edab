package auth

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/web-casa/stackdeck/internal/apperr"
	"github.com/web-casa/stackdeck/internal/database"
)

func setupTestStore(t *testing.T) (*Store, *TokenIssuer) {
	t.Helper()
	db, err := database.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	tokens := NewTokenIssuer("test-secret")
	return NewStore(db, tokens, slog.New(slog.NewTextHandler(io.Discard, nil))), tokens
}

func TestRegisterExactlyOnce(t *testing.T) {
	store, _ := setupTestStore(t)

	required, err := store.IsSetupRequired()
	if err != nil || !required {
		t.Fatalf("expected setup required, got %v %v", required, err)
	}
	if _, err := store.Register("admin", "correct-horse"); err != nil {
		t.Fatalf("first register: %v", err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every later register is AlreadyInitialized", prop.ForAll(
		func(user, pass string) bool {
			_, err := store.Register(user, pass)
			return errors.Is(err, apperr.ErrAlreadyInitialized)
		},
		gen.AnyString(),
		gen.AnyString(),
	))
	properties.TestingRun(t)

	if _, err := store.Login("admin", "correct-horse"); err != nil {
		t.Fatalf("original credential must still work: %v", err)
	}
}

func TestRegisterConcurrentOnlyOneWins(t *testing.T) {
	store, _ := setupTestStore(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Register(fmt.Sprintf("admin%d", i), "password123"); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one successful register, got %d", wins.Load())
	}
}

func TestRegisterValidation(t *testing.T) {
	store, _ := setupTestStore(t)
	cases := map[string][2]string{
		"short username": {"ab", "password123"},
		"short password": {"admin", "short"},
		"long password":  {"admin", string(make([]byte, 80))},
	}
	for name, c := range cases {
		if _, err := store.Register(c[0], c[1]); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
	if required, _ := store.IsSetupRequired(); !required {
		t.Fatalf("invalid registrations must not create a credential")
	}
}

func TestLoginBeforeSetup(t *testing.T) {
	store, _ := setupTestStore(t)
	if _, err := store.Login("admin", "whatever1"); !errors.Is(err, apperr.ErrSetupRequired) {
		t.Fatalf("expected SetupRequired, got %v", err)
	}
}

func TestLoginWrongThenRight(t *testing.T) {
	store, _ := setupTestStore(t)
	if _, err := store.Register("admin", "correct-horse"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Login("admin", "battery-staple"); !errors.Is(err, apperr.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected InvalidCredentials, got %v", i, err)
		}
	}
	if _, err := store.Login("someone", "correct-horse"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("wrong username: expected InvalidCredentials, got %v", err)
	}

	token, err := store.Login("admin", "correct-horse")
	if err != nil {
		t.Fatalf("correct login failed: %v", err)
	}
	user, err := store.Validate(token)
	if err != nil || user != "admin" {
		t.Fatalf("Validate = %q, %v", user, err)
	}
}

func TestTokenRejectedAfterRestart(t *testing.T) {
	first := NewTokenIssuer("same-secret")
	token, err := first.Generate("admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Parse(token); err != nil {
		t.Fatalf("token should parse in the issuing process: %v", err)
	}

	second := NewTokenIssuer("same-secret")
	if _, err := second.Parse(token); err == nil {
		t.Fatalf("token from a previous boot must be rejected")
	}
}

func TestTokenExpires(t *testing.T) {
	ti := NewTokenIssuer("secret")
	token, _ := ti.Generate("admin")

	ti.now = func() time.Time { return time.Now().Add(13 * time.Hour) }
	if _, err := ti.Parse(token); err == nil {
		t.Fatalf("expired token must be rejected")
	}
}

func TestTokenWrongSecret(t *testing.T) {
	a := NewTokenIssuer("secret-a")
	b := NewTokenIssuer("secret-b")
	b.bootID = a.bootID
	token, _ := a.Generate("admin")
	if _, err := b.Parse(token); err == nil {
		t.Fatalf("token signed with another secret must be rejected")
	}
}

type staticValidator map[string]string

func (v staticValidator) Validate(token string) (string, error) {
	if u, ok := v[token]; ok {
		return u, nil
	}
	return "", apperr.New(apperr.Unauthorized, "bad token")
}

func TestMiddlewareTokenSources(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", Middleware(staticValidator{"good": "admin"}), func(c *gin.Context) {
		c.String(http.StatusOK, Username(c))
	})

	cases := []struct {
		name    string
		header  string
		query   string
		upgrade bool
		want    int
	}{
		{"bearer header", "Bearer good", "", false, http.StatusOK},
		{"no token", "", "", false, http.StatusUnauthorized},
		{"bad token", "Bearer nope", "", false, http.StatusUnauthorized},
		{"query ignored on plain request", "", "good", false, http.StatusUnauthorized},
		{"query honoured on upgrade", "", "good", true, http.StatusOK},
	}
	for _, tc := range cases {
		target := "/x"
		if tc.query != "" {
			target += "?token=" + tc.query
		}
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if tc.upgrade {
			req.Header.Set("Upgrade", "websocket")
			req.Header.Set("Connection", "Upgrade")
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, w.Code, tc.want)
		}
	}
}
