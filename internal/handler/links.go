package handler

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/altays/shortly/internal"
	"github.com/altays/shortly/internal/repo"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type LinkHandler struct {
	linksRepo     *repo.LinksRepo
	analyticsRepo *repo.AnalyticsRepo
}

func NewLinkHandler(linksRepo *repo.LinksRepo, analyticsRepo *repo.AnalyticsRepo) *LinkHandler {
	return &LinkHandler{
		linksRepo:     linksRepo,
		analyticsRepo: analyticsRepo,
	}
}

var passcodePattern = regexp.MustCompile(`^\d{6}$`)

type CreateLinkRequest struct {
	URL       string     `json:"url"`
	Slug      string     `json:"slug"`
	Title     string     `json:"title"`
	Passcode  string     `json:"passcode"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (r *CreateLinkRequest) Validate() error {
	if r.URL == "" {
		return errors.New("url is required")
	}
	if r.Slug != "" && len(r.Slug) <= 3 {
		return errors.New("slugs of 3 characters or fewer are reserved")
	}
	if r.Passcode != "" && !passcodePattern.MatchString(r.Passcode) {
		return errors.New("passcode must be exactly 6 digits")
	}
	return nil
}

type LinkResponse struct {
	ID        int64      `json:"id"`
	Slug      string     `json:"slug"`
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Protected bool       `json:"protected"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt repo.Date  `json:"created_at"`
}

// API Response wrappers
type CreateLinkResponse struct {
	Link LinkResponse `json:"link"`
}

type ListLinksResponse struct {
	Links []LinkResponse `json:"links"`
}

func toLinkResponse(link *repo.Link) LinkResponse {
	return LinkResponse{
		ID:        link.ID,
		Slug:      link.Slug,
		URL:       link.URL,
		Title:     link.Title,
		Protected: link.Protected(),
		ExpiresAt: link.ExpiresAt,
		CreatedAt: link.CreatedAt,
	}
}

func (h *LinkHandler) CreateLink(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateLinkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	if err := req.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if req.Slug == "" {
		req.Slug = repo.GenerateSlug()
	}

	link, err := h.linksRepo.Create(ctx, repo.Link{
		Slug:      req.Slug,
		URL:       req.URL,
		Title:     req.Title,
		Passcode:  req.Passcode,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		if errors.Is(err, internal.ErrSlugExists) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		log.Error().Err(err).Str("slug", req.Slug).Msg("failed to create link")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, CreateLinkResponse{Link: toLinkResponse(link)})
}

func (h *LinkHandler) ListLinks(c echo.Context) error {
	ctx := c.Request().Context()
	links, err := h.linksRepo.ListAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list links")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	linksResponses := lo.Map(links, func(link *repo.Link, _ int) LinkResponse {
		return toLinkResponse(link)
	})

	return c.JSON(http.StatusOK, ListLinksResponse{Links: linksResponses})
}

func (h *LinkHandler) DeleteLink(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid link id")
	}

	// The analytics rollup cascades away with the link.
	if err := h.linksRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, internal.ErrLinkNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "link not found")
		}
		log.Error().Err(err).Int64("id", id).Msg("failed to delete link")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *LinkHandler) GetLinkStats(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid link id")
	}

	stats, err := h.analyticsRepo.GetStats(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("failed to load link stats")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, stats)
}
