package repository

import (
	"context"      // context for controlling query lifetime
	"database/sql" // sql provides Rows and Null* scanners
	"fmt"

	"github.com/iliyamo/leisure-shows/internal/model"
)

const (
	// SQLListNames returns (tvid, name) pairs, last names first.
	SQLListNames = `SELECT tvid, name FROM tv_shows ORDER BY name DESC LIMIT ?`
	// SQLGetByID returns the display fields of a single show.
	SQLGetByID = `SELECT name, rating, image, summary, official_site FROM tv_shows WHERE tvid = ?`
)

// Querier runs a statement on a pooled connection, calling scan once per
// row.  *database.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error
}

// ShowRepo runs the two tv_shows statements.
type ShowRepo struct {
	q Querier
}

// NewShowRepo constructs a ShowRepo on top of q.
func NewShowRepo(q Querier) *ShowRepo {
	return &ShowRepo{q: q}
}

// ListNames returns up to limit shows ordered by name descending.
func (r *ShowRepo) ListNames(ctx context.Context, limit int) ([]model.TVShowName, error) {
	out := make([]model.TVShowName, 0, limit)
	err := r.q.Query(ctx, SQLListNames, []any{limit}, func(rows *sql.Rows) error {
		var n model.TVShowName
		if err := rows.Scan(&n.ID, &n.Name); err != nil {
			return err
		}
		out = append(out, n)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list shows: %w", err)
	}
	return out, nil
}

// GetByID returns the show with the given tvid, or ErrShowNotFound when no
// row matches.
func (r *ShowRepo) GetByID(ctx context.Context, id int64) (*model.TVShow, error) {
	var recs []model.TVShow
	err := r.q.Query(ctx, SQLGetByID, []any{id}, func(rows *sql.Rows) error {
		var (
			s       model.TVShow
			rating  sql.NullFloat64
			image   sql.NullString
			summary sql.NullString
			site    sql.NullString
		)
		if err := rows.Scan(&s.Name, &rating, &image, &summary, &site); err != nil {
			return err
		}
		s.ID = id
		s.Rating = rating.Float64
		s.Image = image.String
		s.Summary = summary.String
		s.OfficialSite = site.String
		recs = append(recs, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get show %d: %w", id, err)
	}
	if len(recs) == 0 {
		return nil, ErrShowNotFound
	}
	return &recs[0], nil
}
