package handler

import (
	"net"
	"net/http"

	"github.com/altays/shortly/internal/redirect"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type RedirectHandler struct {
	service *redirect.Service
	baseURL string
}

func NewRedirectHandler(service *redirect.Service, baseURL string) *RedirectHandler {
	return &RedirectHandler{
		service: service,
		baseURL: baseURL,
	}
}

// Resolve handles GET /redirect/:slug - the JSON resolution API the
// frontend calls before navigating.
func (h *RedirectHandler) Resolve(c echo.Context) error {
	result := h.service.Resolve(c.Request().Context(), h.buildRequest(c))
	return h.writeResult(c, result, false)
}

// Follow handles GET /:slug - direct browser hits. Accessible links get a
// real HTTP redirect; everything else shares the JSON contract.
func (h *RedirectHandler) Follow(c echo.Context) error {
	result := h.service.Resolve(c.Request().Context(), h.buildRequest(c))
	return h.writeResult(c, result, true)
}

func (h *RedirectHandler) buildRequest(c echo.Context) redirect.Request {
	r := c.Request()
	return redirect.Request{
		Slug:        c.Param("slug"),
		Code:        c.QueryParam("code"),
		ClientIP:    getClientIP(r),
		UserAgent:   r.UserAgent(),
		Referer:     r.Referer(),
		UTMSource:   c.QueryParam("utm_source"),
		UTMMedium:   c.QueryParam("utm_medium"),
		UTMCampaign: c.QueryParam("utm_campaign"),
	}
}

func (h *RedirectHandler) writeResult(c echo.Context, result redirect.Result, follow bool) error {
	// Block and attempt state is time-varying, so no intermediary may cache
	// the resolution.
	header := c.Response().Header()
	header.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")

	shortenLink := h.baseURL + "/" + result.Slug

	switch result.Outcome {
	case redirect.OutcomeRedirect, redirect.OutcomeDefault:
		if follow {
			return c.Redirect(http.StatusFound, result.URL)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"redirect":    true,
			"originalUrl": result.URL,
			"title":       result.Title,
		})

	case redirect.OutcomeNotFound:
		return c.JSON(http.StatusNotFound, echo.Map{
			"error":    "Link not found",
			"redirect": false,
		})

	case redirect.OutcomeExpired:
		return c.JSON(http.StatusGone, echo.Map{
			"error":    "Link has expired",
			"redirect": false,
		})

	case redirect.OutcomeCodeRequired:
		return c.JSON(http.StatusUnauthorized, echo.Map{
			"error":        "Passcode required",
			"requiresCode": true,
			"attempts":     result.Attempts,
			"title":        result.Title,
			"shortenLink":  shortenLink,
		})

	case redirect.OutcomeCodeIncorrect:
		return c.JSON(http.StatusUnauthorized, echo.Map{
			"error":        "Incorrect passcode",
			"requiresCode": true,
			"attempts":     result.Attempts,
			"attemptsLeft": result.AttemptsLeft,
			"title":        result.Title,
			"shortenLink":  shortenLink,
		})

	case redirect.OutcomeBlocked:
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error":        "Too many incorrect attempts, try again later",
			"blocked":      true,
			"blockedUntil": result.BlockedUntil.UnixMilli(),
			"attempts":     result.Attempts,
			"requiresCode": true,
			"title":        result.Title,
			"shortenLink":  shortenLink,
		})

	default:
		log.Error().Str("slug", result.Slug).Msg("redirect resolution failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error":    "Server error",
			"redirect": false,
		})
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Try X-Forwarded-For header first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return xff
		}
	}

	// Try X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return xri
		}
	}

	// Fall back to RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}

	return r.RemoteAddr
}
