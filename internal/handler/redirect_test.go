package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/altays/shortly/internal"
	"github.com/altays/shortly/internal/clock"
	"github.com/altays/shortly/internal/geo"
	"github.com/altays/shortly/internal/guard"
	"github.com/altays/shortly/internal/redirect"
	"github.com/altays/shortly/internal/repo"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLinkStore struct {
	links map[string]*repo.Link
	err   error
}

func (s *stubLinkStore) GetBySlug(ctx context.Context, slug string) (*repo.Link, error) {
	if s.err != nil {
		return nil, s.err
	}
	link, ok := s.links[slug]
	if !ok {
		return nil, internal.ErrLinkNotFound
	}
	return link, nil
}

type stubRecorder struct{}

func (stubRecorder) RecordClick(ctx context.Context, click repo.Click) error { return nil }

type stubGeo struct{}

func (stubGeo) Resolve(ctx context.Context, ip string) geo.Location {
	return geo.Location{City: "Berlin", Country: "Germany"}
}

type redirectFixture struct {
	handler *RedirectHandler
	clock   *clock.Mock
	echo    *echo.Echo
}

func newRedirectFixture(t *testing.T, links map[string]*repo.Link) *redirectFixture {
	t.Helper()

	clk := clock.NewMock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	service := redirect.NewService(
		redirect.Config{DefaultURL: "https://shortly.dev"},
		&stubLinkStore{links: links},
		stubRecorder{},
		stubGeo{},
		guard.New(clk),
		clk,
	)
	t.Cleanup(service.Drain)

	return &redirectFixture{
		handler: NewRedirectHandler(service, "https://sho.rt"),
		clock:   clk,
		echo:    echo.New(),
	}
}

func (f *redirectFixture) resolve(t *testing.T, slug, query string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	target := "/redirect/" + slug
	if query != "" {
		target += "?" + query
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()

	c := f.echo.NewContext(req, rec)
	c.SetPath("/redirect/:slug")
	c.SetParamNames("slug")
	c.SetParamValues(slug)

	require.NoError(t, f.handler.Resolve(c))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func protectedTestLink() *repo.Link {
	return &repo.Link{ID: 7, Slug: "secret", URL: "https://example.com/hidden", Title: "Hidden", Passcode: "123456"}
}

func TestResolve_AccessibleLink(t *testing.T) {
	f := newRedirectFixture(t, map[string]*repo.Link{
		"launch": {ID: 1, Slug: "launch", URL: "https://example.com/product", Title: "Product"},
	})

	rec, body := f.resolve(t, "launch", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["redirect"])
	assert.Equal(t, "https://example.com/product", body["originalUrl"])
	assert.Equal(t, "Product", body["title"])
}

func TestResolve_EveryResponseForbidsCaching(t *testing.T) {
	f := newRedirectFixture(t, map[string]*repo.Link{
		"launch": {ID: 1, Slug: "launch", URL: "https://example.com", Title: ""},
	})

	for _, slug := range []string{"launch", "missing-slug", "go"} {
		rec, _ := f.resolve(t, slug, "")
		assert.Equal(t, "no-store, no-cache, must-revalidate", rec.Header().Get("Cache-Control"), "slug %q", slug)
		assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
		assert.Equal(t, "0", rec.Header().Get("Expires"))
	}
}

func TestResolve_ReservedSlug(t *testing.T) {
	f := newRedirectFixture(t, nil)

	rec, body := f.resolve(t, "abc", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://shortly.dev", body["originalUrl"])
}

func TestResolve_NotFound(t *testing.T) {
	f := newRedirectFixture(t, nil)

	rec, body := f.resolve(t, "missing-slug", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Link not found", body["error"])
	assert.Equal(t, false, body["redirect"])
}

func TestResolve_Expired(t *testing.T) {
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newRedirectFixture(t, map[string]*repo.Link{
		"old-link": {ID: 2, Slug: "old-link", URL: "https://example.com", Passcode: "123456", ExpiresAt: &expiry},
	})

	rec, body := f.resolve(t, "old-link", "code=123456")

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "Link has expired", body["error"])
	assert.Equal(t, false, body["redirect"])
}

func TestResolve_PasscodeRequired(t *testing.T) {
	f := newRedirectFixture(t, map[string]*repo.Link{"secret": protectedTestLink()})

	rec, body := f.resolve(t, "secret", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, true, body["requiresCode"])
	assert.Equal(t, float64(0), body["attempts"])
	assert.Equal(t, "Hidden", body["title"])
	assert.Equal(t, "https://sho.rt/secret", body["shortenLink"])
}

func TestResolve_WrongCodeThenLockout(t *testing.T) {
	f := newRedirectFixture(t, map[string]*repo.Link{"secret": protectedTestLink()})

	for i := 1; i <= 4; i++ {
		rec, body := f.resolve(t, "secret", "code=999999")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Incorrect passcode", body["error"])
		assert.Equal(t, float64(i), body["attempts"])
		assert.Equal(t, float64(guard.MaxAttempts-i), body["attemptsLeft"])
	}

	rec, body := f.resolve(t, "secret", "code=999999")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, true, body["blocked"])
	assert.Equal(t, true, body["requiresCode"])
	assert.Equal(t, float64(5), body["attempts"])

	wantUntil := f.clock.Now().Add(guard.BlockWindow).UnixMilli()
	assert.Equal(t, float64(wantUntil), body["blockedUntil"])

	// A further attempt stays blocked without counting up, even with the
	// right code.
	rec, body = f.resolve(t, "secret", "code=123456")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, float64(5), body["attempts"])
}

func TestResolve_CorrectCodeResets(t *testing.T) {
	f := newRedirectFixture(t, map[string]*repo.Link{"secret": protectedTestLink()})

	f.resolve(t, "secret", "code=999999")
	f.resolve(t, "secret", "code=999999")

	rec, body := f.resolve(t, "secret", "code=123456")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.com/hidden", body["originalUrl"])

	rec, body = f.resolve(t, "secret", "code=999999")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, float64(1), body["attempts"])
}

func TestResolve_StoreFailure(t *testing.T) {
	clk := clock.NewMock(time.Now())
	service := redirect.NewService(
		redirect.Config{},
		&stubLinkStore{err: errors.New("db gone")},
		stubRecorder{},
		stubGeo{},
		guard.New(clk),
		clk,
	)
	h := NewRedirectHandler(service, "https://sho.rt")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/redirect/launch", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/redirect/:slug")
	c.SetParamNames("slug")
	c.SetParamValues("launch")

	require.NoError(t, h.Resolve(c))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Server error")
}

func TestFollow_RedirectsBrowser(t *testing.T) {
	f := newRedirectFixture(t, map[string]*repo.Link{
		"launch": {ID: 1, Slug: "launch", URL: "https://example.com/product"},
	})

	req := httptest.NewRequest(http.MethodGet, "/launch", nil)
	rec := httptest.NewRecorder()
	c := f.echo.NewContext(req, rec)
	c.SetPath("/:slug")
	c.SetParamNames("slug")
	c.SetParamValues("launch")

	require.NoError(t, f.handler.Follow(c))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/product", rec.Header().Get("Location"))
}

func TestFollow_ProtectedLinkStaysJSON(t *testing.T) {
	f := newRedirectFixture(t, map[string]*repo.Link{"secret": protectedTestLink()})

	req := httptest.NewRequest(http.MethodGet, "/secret", nil)
	rec := httptest.NewRecorder()
	c := f.echo.NewContext(req, rec)
	c.SetPath("/:slug")
	c.SetParamNames("slug")
	c.SetParamValues("secret")

	require.NoError(t, f.handler.Follow(c))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "requiresCode")
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		wantIP string
	}{
		{
			"x-forwarded-for",
			func(r *http.Request) { r.Header.Set("X-Forwarded-For", "1.2.3.4") },
			"1.2.3.4",
		},
		{
			"x-real-ip",
			func(r *http.Request) { r.Header.Set("X-Real-IP", "9.8.7.6") },
			"9.8.7.6",
		},
		{
			"remote addr",
			func(r *http.Request) { r.RemoteAddr = "10.0.0.1:12345" },
			"10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			tt.setup(req)
			assert.Equal(t, tt.wantIP, getClientIP(req))
		})
	}
}
