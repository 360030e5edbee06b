package repo

import (
	"context"
	"database/sql"
	"math/rand"
	"strings"
	"time"

	"github.com/altays/shortly/internal"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rs/zerolog/log"
)

type Link struct {
	ID        int64      `json:"id"`
	Slug      string     `json:"slug"`
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Passcode  string     `json:"-"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt Date       `json:"created_at"`
}

// Protected reports whether visitors must supply a passcode.
func (l *Link) Protected() bool {
	return l.Passcode != ""
}

// Expired reports whether the link's expiration instant is behind now.
func (l *Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

type linkRow struct {
	ID        int64          `db:"id" goqu:"skipinsert,skipupdate"`
	Slug      string         `db:"slug"`
	URL       string         `db:"url"`
	Title     string         `db:"title"`
	Passcode  sql.NullString `db:"passcode"`
	ExpiresAt sql.NullString `db:"expires_at"`
	CreatedAt Date           `db:"created_at" goqu:"skipupdate"`
}

type LinksRepo struct {
	db *sql.DB
}

func NewLinksRepo(db *sql.DB) *LinksRepo {
	return &LinksRepo{db: db}
}

func (r *LinksRepo) Create(ctx context.Context, link Link) (*Link, error) {
	executor := goqu.New("sqlite", r.db)

	log.Debug().Str("slug", link.Slug).Str("url", link.URL).Msg("creating link")

	record := goqu.Record{
		"slug":       link.Slug,
		"url":        link.URL,
		"title":      link.Title,
		"passcode":   nullable(link.Passcode),
		"expires_at": nullableTime(link.ExpiresAt),
		"created_at": Date(time.Now().UTC()),
	}

	query := executor.Insert("links").
		Rows(record).
		Returning("id", "slug", "url", "title", "passcode", "expires_at", "created_at")

	var row linkRow
	found, err := query.Executor().ScanStructContext(ctx, &row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, internal.ErrSlugExists
		}
		log.Error().Err(err).Str("slug", link.Slug).Msg("failed to create link")
		return nil, err
	}

	if !found {
		log.Warn().Str("slug", link.Slug).Msg("link creation returned no rows")
		return nil, internal.ErrSlugExists
	}

	created := row.toDomain()
	log.Info().Int64("id", created.ID).Str("slug", created.Slug).Msg("link created successfully")

	return created, nil
}

func (r *LinksRepo) GetBySlug(ctx context.Context, slug string) (*Link, error) {
	executor := goqu.New("sqlite", r.db)

	log.Debug().Str("slug", slug).Msg("fetching link by slug")

	query := executor.From("links").Where(goqu.Ex{"slug": slug}).Select(
		"id", "slug", "url", "title", "passcode", "expires_at", "created_at",
	)

	var row linkRow
	found, err := query.Executor().ScanStructContext(ctx, &row)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("failed to fetch link")
		return nil, err
	}

	if !found {
		log.Debug().Str("slug", slug).Msg("link not found")
		return nil, internal.ErrLinkNotFound
	}

	return row.toDomain(), nil
}

func (r *LinksRepo) ListAll(ctx context.Context) ([]*Link, error) {
	executor := goqu.New("sqlite", r.db)

	query := executor.From("links").Select(
		"id", "slug", "url", "title", "passcode", "expires_at", "created_at",
	).Order(goqu.C("created_at").Desc())

	var rows []linkRow
	err := query.Executor().ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, err
	}

	links := make([]*Link, len(rows))
	for i, row := range rows {
		links[i] = row.toDomain()
	}

	return links, nil
}

// Delete removes a link. Analytics rows cascade away with it.
func (r *LinksRepo) Delete(ctx context.Context, id int64) error {
	executor := goqu.New("sqlite", r.db)

	res, err := executor.Delete("links").Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("failed to delete link")
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return internal.ErrLinkNotFound
	}

	log.Info().Int64("id", id).Msg("link deleted")
	return nil
}

func (r *linkRow) toDomain() *Link {
	link := &Link{
		ID:        r.ID,
		Slug:      r.Slug,
		URL:       r.URL,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
	}

	if r.Passcode.Valid {
		link.Passcode = r.Passcode.String
	}

	if r.ExpiresAt.Valid && r.ExpiresAt.String != "" {
		if t, err := time.Parse(time.RFC3339, r.ExpiresAt.String); err == nil {
			link.ExpiresAt = &t
		} else {
			log.Warn().Str("slug", r.Slug).Str("expires_at", r.ExpiresAt.String).Msg("unparseable expiration, treating link as non-expiring")
		}
	}

	return link
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// GenerateSlug produces a random 6-character slug. Generated slugs are
// always longer than the 1-3 character range reserved for the default
// redirect.
func GenerateSlug() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	slug := make([]byte, 6)
	for i := range slug {
		slug[i] = charset[rand.Intn(len(charset))]
	}
	return string(slug)
}
