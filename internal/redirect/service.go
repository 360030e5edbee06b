package redirect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/altays/shortly/internal"
	"github.com/altays/shortly/internal/clock"
	"github.com/altays/shortly/internal/geo"
	"github.com/altays/shortly/internal/guard"
	"github.com/altays/shortly/internal/referrer"
	"github.com/altays/shortly/internal/repo"
	"github.com/rs/zerolog/log"
)

// Reserved slugs are 1-3 characters long and always resolve to the
// configured default destination, bypassing the datastore. This is a
// deliberate routing rule, not a fallback for missing data.
const (
	reservedSlugMaxLen = 3

	analyticsTimeout = 10 * time.Second
)

type Outcome int

const (
	// OutcomeRedirect is a resolved, accessible link.
	OutcomeRedirect Outcome = iota
	// OutcomeDefault is the reserved-slug default destination.
	OutcomeDefault
	OutcomeNotFound
	OutcomeExpired
	// OutcomeCodeRequired means the link is protected and no code was given.
	OutcomeCodeRequired
	// OutcomeCodeIncorrect means the supplied code did not match.
	OutcomeCodeIncorrect
	// OutcomeBlocked means the client is locked out after repeated failures.
	OutcomeBlocked
	OutcomeError
)

// Result is the orchestrator's decision for one inbound request.
type Result struct {
	Outcome      Outcome
	URL          string
	Title        string
	Slug         string
	Attempts     int
	AttemptsLeft int
	BlockedUntil time.Time
}

// Request carries everything the pipeline needs from the HTTP layer.
type Request struct {
	Slug        string
	Code        string
	ClientIP    string
	UserAgent   string
	Referer     string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
}

type LinkStore interface {
	GetBySlug(ctx context.Context, slug string) (*repo.Link, error)
}

type ClickRecorder interface {
	RecordClick(ctx context.Context, click repo.Click) error
}

type GeoResolver interface {
	Resolve(ctx context.Context, ip string) geo.Location
}

type Config struct {
	// DefaultURL is where reserved slugs land.
	DefaultURL string
}

// Service runs the request-time pipeline: slug resolution, passcode
// enforcement with lockout, and best-effort click analytics that never
// block or fail the redirect itself.
type Service struct {
	cfg       Config
	links     LinkStore
	analytics ClickRecorder
	geo       GeoResolver
	guard     *guard.Guard
	clock     clock.Clock

	pending sync.WaitGroup
}

func NewService(cfg Config, links LinkStore, analytics ClickRecorder, geoResolver GeoResolver, g *guard.Guard, clk clock.Clock) *Service {
	return &Service{
		cfg:       cfg,
		links:     links,
		analytics: analytics,
		geo:       geoResolver,
		guard:     g,
		clock:     clk,
	}
}

// Resolve decides the response for one visit. Analytics recording is
// dispatched in the background once access is granted; its failure is
// logged but never surfaces here.
func (s *Service) Resolve(ctx context.Context, req Request) Result {
	if len(req.Slug) >= 1 && len(req.Slug) <= reservedSlugMaxLen {
		log.Debug().Str("slug", req.Slug).Msg("reserved slug, serving default redirect")
		return Result{Outcome: OutcomeDefault, URL: s.cfg.DefaultURL, Slug: req.Slug}
	}

	link, err := s.links.GetBySlug(ctx, req.Slug)
	if err != nil {
		if errors.Is(err, internal.ErrLinkNotFound) {
			return Result{Outcome: OutcomeNotFound, Slug: req.Slug}
		}
		log.Error().Err(err).Str("slug", req.Slug).Msg("link lookup failed")
		return Result{Outcome: OutcomeError, Slug: req.Slug}
	}

	// Expiration wins over everything else, including passcode handling.
	if link.Expired(s.clock.Now()) {
		return Result{Outcome: OutcomeExpired, Slug: req.Slug, Title: link.Title}
	}

	if link.Protected() {
		if result, ok := s.checkPasscode(link, req); !ok {
			return result
		}
	}

	s.dispatchAnalytics(link, req)

	return Result{
		Outcome: OutcomeRedirect,
		URL:     link.URL,
		Title:   link.Title,
		Slug:    req.Slug,
	}
}

// checkPasscode walks the guard state machine for a protected link. The
// bool is true when access is granted.
func (s *Service) checkPasscode(link *repo.Link, req Request) (Result, bool) {
	status := s.guard.CheckBlocked(req.Slug, req.ClientIP)
	if status.Blocked {
		return s.blockedResult(link, req, status), false
	}

	if req.Code == "" {
		return Result{
			Outcome:      OutcomeCodeRequired,
			Slug:         req.Slug,
			Title:        link.Title,
			Attempts:     status.Attempts,
			AttemptsLeft: status.AttemptsLeft(),
		}, false
	}

	if req.Code != link.Passcode {
		status = s.guard.RecordFailure(req.Slug, req.ClientIP)
		if status.Blocked {
			return s.blockedResult(link, req, status), false
		}
		return Result{
			Outcome:      OutcomeCodeIncorrect,
			Slug:         req.Slug,
			Title:        link.Title,
			Attempts:     status.Attempts,
			AttemptsLeft: status.AttemptsLeft(),
		}, false
	}

	s.guard.Reset(req.Slug, req.ClientIP)
	return Result{}, true
}

func (s *Service) blockedResult(link *repo.Link, req Request, status guard.Status) Result {
	return Result{
		Outcome:      OutcomeBlocked,
		Slug:         req.Slug,
		Title:        link.Title,
		Attempts:     status.Attempts,
		BlockedUntil: status.BlockedUntil,
	}
}

// dispatchAnalytics records the click without making the caller wait. The
// work runs on a detached context: the visitor's request finishing early
// must not cancel telemetry, and telemetry failing must not touch the
// response. Failures are logged so dropped clicks stay visible.
func (s *Service) dispatchAnalytics(link *repo.Link, req Request) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), analyticsTimeout)
		defer cancel()

		location := s.geo.Resolve(ctx, req.ClientIP)
		traffic := referrer.Classify(req.UTMSource, req.UTMMedium, req.UTMCampaign, req.Referer)

		click := repo.Click{
			LinkID:      link.ID,
			VisitorHash: VisitorHash(req.ClientIP, req.UserAgent),
			DateKey:     s.clock.Now().UTC().Format(time.DateOnly),
			Country:     location.Country,
			City:        location.City,
			Referrer:    traffic.Label(),
		}

		if err := s.analytics.RecordClick(ctx, click); err != nil {
			log.Error().Err(err).Int64("link_id", link.ID).Str("slug", link.Slug).Msg("failed to record click analytics")
		}
	}()
}

// Drain waits for in-flight analytics goroutines, used on shutdown and in
// tests.
func (s *Service) Drain() {
	s.pending.Wait()
}

// VisitorHash derives the anonymous unique-visitor identifier from the
// client IP and user agent.
func VisitorHash(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent))
	return hex.EncodeToString(sum[:16])
}
