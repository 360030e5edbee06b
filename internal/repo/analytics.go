package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rs/zerolog/log"
)

// Click is one recorded visit, already classified and geolocated.
type Click struct {
	LinkID      int64
	VisitorHash string
	DateKey     string
	Country     string
	City        string
	Referrer    string
}

// Bucket is a {clicks, uniqueUsers} pair used by every breakdown.
type Bucket struct {
	Clicks      int64 `json:"clicks"`
	UniqueUsers int64 `json:"uniqueUsers"`
}

// RegionStats nests the per-city breakdown under its country bucket.
type RegionStats struct {
	Bucket
	ByCity map[string]Bucket `json:"byCity"`
}

// Stats is the full per-link rollup.
type Stats struct {
	TotalClicks int64                  `json:"totalClicks"`
	UniqueUsers int64                  `json:"uniqueUsers"`
	ByDate      map[string]Bucket      `json:"byDate"`
	ByRegion    map[string]RegionStats `json:"byRegion"`
	ByReferrer  map[string]Bucket      `json:"byReferrer"`
}

// AnalyticsRepo persists per-link click rollups. All counters for one click
// move inside a single transaction, and every counter mutation is an
// in-database increment, so concurrent clicks on the same link cannot lose
// updates the way a load-mutate-save document would.
type AnalyticsRepo struct {
	db *sql.DB
}

func NewAnalyticsRepo(db *sql.DB) *AnalyticsRepo {
	return &AnalyticsRepo{db: db}
}

// RecordClick folds one click into the link's rollup. The visitor set
// decides uniqueness once per link: the INSERT OR IGNORE on the visitors
// table either claims the hash (first visit) or leaves it alone, and that
// single outcome drives the uniqueUsers delta of every breakdown.
func (r *AnalyticsRepo) RecordClick(ctx context.Context, click Click) error {
	executor := goqu.New("sqlite", r.db)

	log.Debug().Int64("link_id", click.LinkID).Str("date", click.DateKey).Str("referrer", click.Referrer).Msg("recording click")

	tx, err := executor.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	err = tx.Wrap(func() error {
		res, err := tx.Insert("analytics_visitors").
			Rows(goqu.Record{
				"link_id":       click.LinkID,
				"visitor_hash":  click.VisitorHash,
				"first_seen_at": Date(time.Now().UTC()),
			}).
			OnConflict(goqu.DoNothing()).
			Executor().ExecContext(ctx)
		if err != nil {
			return err
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}

		var newUser int64
		if inserted > 0 {
			newUser = 1
		}

		if err := r.bump(ctx, tx, "analytics_totals",
			goqu.Ex{"link_id": click.LinkID},
			goqu.Record{"link_id": click.LinkID},
			newUser,
		); err != nil {
			return err
		}

		if err := r.bump(ctx, tx, "analytics_by_date",
			goqu.Ex{"link_id": click.LinkID, "date_key": click.DateKey},
			goqu.Record{"link_id": click.LinkID, "date_key": click.DateKey},
			newUser,
		); err != nil {
			return err
		}

		if err := r.bump(ctx, tx, "analytics_by_region",
			goqu.Ex{"link_id": click.LinkID, "country": click.Country},
			goqu.Record{"link_id": click.LinkID, "country": click.Country},
			newUser,
		); err != nil {
			return err
		}

		if err := r.bump(ctx, tx, "analytics_by_city",
			goqu.Ex{"link_id": click.LinkID, "country": click.Country, "city": click.City},
			goqu.Record{"link_id": click.LinkID, "country": click.Country, "city": click.City},
			newUser,
		); err != nil {
			return err
		}

		return r.bump(ctx, tx, "analytics_by_referrer",
			goqu.Ex{"link_id": click.LinkID, "referrer": click.Referrer},
			goqu.Record{"link_id": click.LinkID, "referrer": click.Referrer},
			newUser,
		)
	})
	if err != nil {
		log.Error().Err(err).Int64("link_id", click.LinkID).Msg("failed to record click")
		return err
	}

	return nil
}

// bump increments the clicks (and, for new visitors, uniqueUsers) counters
// of one breakdown row, creating the zero-valued row on first touch. The
// INSERT OR IGNORE before the UPDATE keeps concurrent first touches from
// racing into a constraint violation.
func (r *AnalyticsRepo) bump(ctx context.Context, tx *goqu.TxDatabase, table string, match goqu.Ex, keyCols goqu.Record, newUser int64) error {
	seed := goqu.Record{"clicks": 0, "unique_users": 0}
	for col, val := range keyCols {
		seed[col] = val
	}

	_, err := tx.Insert(table).
		Rows(seed).
		OnConflict(goqu.DoNothing()).
		Executor().ExecContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Update(table).
		Set(goqu.Record{
			"clicks":       goqu.L("clicks + 1"),
			"unique_users": goqu.L("unique_users + ?", newUser),
		}).
		Where(match).
		Executor().ExecContext(ctx)
	return err
}

type totalsRow struct {
	Clicks      int64 `db:"clicks"`
	UniqueUsers int64 `db:"unique_users"`
}

type dateRow struct {
	DateKey     string `db:"date_key"`
	Clicks      int64  `db:"clicks"`
	UniqueUsers int64  `db:"unique_users"`
}

type regionRow struct {
	Country     string `db:"country"`
	Clicks      int64  `db:"clicks"`
	UniqueUsers int64  `db:"unique_users"`
}

type cityRow struct {
	Country     string `db:"country"`
	City        string `db:"city"`
	Clicks      int64  `db:"clicks"`
	UniqueUsers int64  `db:"unique_users"`
}

type referrerRow struct {
	Referrer    string `db:"referrer"`
	Clicks      int64  `db:"clicks"`
	UniqueUsers int64  `db:"unique_users"`
}

// GetStats reads the rollup back. A link that has never been clicked gets
// an empty (but non-nil) aggregate.
func (r *AnalyticsRepo) GetStats(ctx context.Context, linkID int64) (*Stats, error) {
	executor := goqu.New("sqlite", r.db)

	stats := &Stats{
		ByDate:     map[string]Bucket{},
		ByRegion:   map[string]RegionStats{},
		ByReferrer: map[string]Bucket{},
	}

	var totals totalsRow
	found, err := executor.From("analytics_totals").
		Where(goqu.Ex{"link_id": linkID}).
		Select("clicks", "unique_users").
		Executor().ScanStructContext(ctx, &totals)
	if err != nil {
		return nil, err
	}
	if found {
		stats.TotalClicks = totals.Clicks
		stats.UniqueUsers = totals.UniqueUsers
	}

	var dates []dateRow
	err = executor.From("analytics_by_date").
		Where(goqu.Ex{"link_id": linkID}).
		Select("date_key", "clicks", "unique_users").
		Executor().ScanStructsContext(ctx, &dates)
	if err != nil {
		return nil, err
	}
	for _, row := range dates {
		stats.ByDate[row.DateKey] = Bucket{Clicks: row.Clicks, UniqueUsers: row.UniqueUsers}
	}

	var regions []regionRow
	err = executor.From("analytics_by_region").
		Where(goqu.Ex{"link_id": linkID}).
		Select("country", "clicks", "unique_users").
		Executor().ScanStructsContext(ctx, &regions)
	if err != nil {
		return nil, err
	}
	for _, row := range regions {
		stats.ByRegion[row.Country] = RegionStats{
			Bucket: Bucket{Clicks: row.Clicks, UniqueUsers: row.UniqueUsers},
			ByCity: map[string]Bucket{},
		}
	}

	var cities []cityRow
	err = executor.From("analytics_by_city").
		Where(goqu.Ex{"link_id": linkID}).
		Select("country", "city", "clicks", "unique_users").
		Executor().ScanStructsContext(ctx, &cities)
	if err != nil {
		return nil, err
	}
	for _, row := range cities {
		region, ok := stats.ByRegion[row.Country]
		if !ok {
			region = RegionStats{ByCity: map[string]Bucket{}}
		}
		region.ByCity[row.City] = Bucket{Clicks: row.Clicks, UniqueUsers: row.UniqueUsers}
		stats.ByRegion[row.Country] = region
	}

	var referrers []referrerRow
	err = executor.From("analytics_by_referrer").
		Where(goqu.Ex{"link_id": linkID}).
		Select("referrer", "clicks", "unique_users").
		Executor().ScanStructsContext(ctx, &referrers)
	if err != nil {
		return nil, err
	}
	for _, row := range referrers {
		stats.ByReferrer[row.Referrer] = Bucket{Clicks: row.Clicks, UniqueUsers: row.UniqueUsers}
	}

	return stats, nil
}
