package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredentials(t *testing.T) {
	creds, err := NewCredentials("admin:s3cret")
	require.NoError(t, err)
	assert.Equal(t, "admin", creds.Username)
	assert.Equal(t, "s3cret", creds.Password)

	// Passwords may contain colons.
	creds, err = NewCredentials("admin:pa:ss")
	require.NoError(t, err)
	assert.Equal(t, "pa:ss", creds.Password)

	_, err = NewCredentials("no-separator")
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator(Credentials{Username: "admin", Password: "s3cret"}, "test-secret")

	cookie, err := a.Authenticate(Credentials{Username: "admin", Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	_, err = a.Authenticate(Credentials{Username: "admin", Password: "wrong"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func callProtected(t *testing.T, a *Authenticator, mutate func(req *http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, NewAuthMiddleware(a))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	mutate(req)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware_RejectsAnonymous(t *testing.T) {
	a := NewAuthenticator(Credentials{Username: "admin", Password: "s3cret"}, "test-secret")

	rec := callProtected(t, a, func(req *http.Request) {})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_AcceptsBasicAuth(t *testing.T) {
	a := NewAuthenticator(Credentials{Username: "admin", Password: "s3cret"}, "test-secret")

	rec := callProtected(t, a, func(req *http.Request) {
		req.SetBasicAuth("admin", "s3cret")
	})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_AcceptsValidCookie(t *testing.T) {
	a := NewAuthenticator(Credentials{Username: "admin", Password: "s3cret"}, "test-secret")
	cookie, err := a.Authenticate(Credentials{Username: "admin", Password: "s3cret"})
	require.NoError(t, err)

	rec := callProtected(t, a, func(req *http.Request) {
		req.AddCookie(cookie)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_RejectsForgedCookie(t *testing.T) {
	a := NewAuthenticator(Credentials{Username: "admin", Password: "s3cret"}, "test-secret")
	other := NewAuthenticator(Credentials{Username: "admin", Password: "s3cret"}, "different-secret")
	cookie, err := other.Authenticate(Credentials{Username: "admin", Password: "s3cret"})
	require.NoError(t, err)

	rec := callProtected(t, a, func(req *http.Request) {
		req.AddCookie(cookie)
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
