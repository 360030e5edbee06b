package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/altays/shortly/internal/clock"
	"github.com/rs/zerolog/log"
)

const (
	cacheTTL        = 24 * time.Hour
	providerTimeout = 3 * time.Second
)

// Unknown is the fallback when the provider cannot be reached or returns
// an error payload. It is never written to the cache.
const Unknown = "Unknown"

// Location is the advisory geography of a client IP.
type Location struct {
	City    string
	Country string
}

func unknownLocation() Location {
	return Location{City: Unknown, Country: Unknown}
}

type cacheEntry struct {
	loc       Location
	fetchedAt time.Time
}

type Config struct {
	// ProviderURL is the base URL of the ipapi-style lookup service,
	// queried as GET {ProviderURL}/{ip}/json.
	ProviderURL string
	// DevFallbackIP substitutes loopback/private client addresses so local
	// development still produces plausible lookups. Leave empty in
	// production.
	DevFallbackIP string
}

// Resolver caches IP geolocations for 24h in front of an external provider.
// The cache is process-local: each instance warms its own copy, which is an
// accepted best-effort trade-off, not something to coordinate across
// replicas.
type Resolver struct {
	cfg    Config
	client *http.Client
	clock  clock.Clock

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewResolver(cfg Config, clk clock.Clock) *Resolver {
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: providerTimeout},
		clock:  clk,
		cache:  map[string]cacheEntry{},
	}
}

// Resolve returns the cached location for ip, or asks the provider once and
// caches a successful answer for 24h. Provider failures yield
// {Unknown, Unknown} without touching the cache, so the next lookup for the
// same IP retries instead of being stuck with a stale failure.
func (r *Resolver) Resolve(ctx context.Context, ip string) Location {
	ip = r.effectiveIP(ip)

	if loc, ok := r.cached(ip); ok {
		return loc
	}

	loc, err := r.lookup(ctx, ip)
	if err != nil {
		log.Warn().Err(err).Str("ip", ip).Msg("geo lookup failed")
		return unknownLocation()
	}

	r.store(ip, loc)
	return loc
}

func (r *Resolver) cached(ip string) (Location, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[ip]
	if !ok {
		return Location{}, false
	}

	if r.clock.Now().Sub(entry.fetchedAt) > cacheTTL {
		delete(r.cache, ip)
		return Location{}, false
	}

	return entry.loc, true
}

func (r *Resolver) store(ip string, loc Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[ip] = cacheEntry{loc: loc, fetchedAt: r.clock.Now()}
}

type providerResponse struct {
	City    string `json:"city"`
	Country string `json:"country_name"`
	Error   bool   `json:"error"`
	Reason  string `json:"reason"`
}

func (r *Resolver) lookup(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s/json", r.cfg.ProviderURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Location{}, fmt.Errorf("failed to build provider request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var body providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("failed to decode provider response: %w", err)
	}

	if body.Error {
		return Location{}, fmt.Errorf("provider error: %s", body.Reason)
	}

	loc := Location{City: body.City, Country: body.Country}
	if loc.City == "" {
		loc.City = Unknown
	}
	if loc.Country == "" {
		loc.Country = Unknown
	}

	return loc, nil
}

// effectiveIP swaps loopback/private addresses for the configured dev
// fallback, if any. Production runs with DevFallbackIP unset.
func (r *Resolver) effectiveIP(ip string) string {
	if r.cfg.DevFallbackIP == "" {
		return ip
	}

	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() {
		log.Debug().Str("ip", ip).Str("fallback", r.cfg.DevFallbackIP).Msg("substituting private ip for geo lookup")
		return r.cfg.DevFallbackIP
	}

	return ip
}
