// people_group_repository.go implements PeopleGroupRepository: filtered, sorted and paged
// people group queries over sqlx.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/missionsdata/missions-api/internal/db/models"
	"github.com/missionsdata/missions-api/internal/query"
)

const peopleGroupColumns = `id, name, country_code, country_name, population, primary_religion, primary_language, least_reached, month, day, updated_at`

// peopleGroupSortColumns maps public sort field names onto columns. Only names listed here
// ever reach the ORDER BY clause.
var peopleGroupSortColumns = map[string]string{
	"id":           "id",
	"name":         "name",
	"country":      "country_name",
	"country_code": "country_code",
	"population":   "population",
	"month":        "month",
	"day":          "day",
}

// PeopleGroupSortFields returns the accepted sort field names in alphabetical order.
func PeopleGroupSortFields() []string {
	fields := make([]string, 0, len(peopleGroupSortColumns))
	for f := range peopleGroupSortColumns {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// PeopleGroupFilter narrows a people group listing. Zero values mean "no filter".
type PeopleGroupFilter struct {
	CountryCode  string
	Month        query.MonthFilter
	Day          query.DayFilter
	LeastReached bool
}

// Key renders the filter canonically, for use in cache keys.
func (f PeopleGroupFilter) Key() string {
	m, _ := f.Month.Value()
	d, _ := f.Day.Value()
	return fmt.Sprintf("country=%s;month=%d;day=%d;least_reached=%t", strings.ToUpper(f.CountryCode), m, d, f.LeastReached)
}

// PeopleGroupReader is the read side used by the people group handlers.
type PeopleGroupReader interface {
	List(ctx context.Context, filter PeopleGroupFilter, sortSpec query.SortSpec, page query.Page) ([]models.PeopleGroup, error)
	Get(ctx context.Context, id int64) (*models.PeopleGroup, error)
}

// PeopleGroupRepository handles people group database operations
type PeopleGroupRepository struct {
	db *sqlx.DB
}

// NewPeopleGroupRepository creates a new PeopleGroupRepository
func NewPeopleGroupRepository(db *sqlx.DB) *PeopleGroupRepository {
	return &PeopleGroupRepository{db: db}
}

// List returns one page of people groups matching filter, ordered by sortSpec. A sort field
// outside the allowlist is a *query.ValidationError.
func (r *PeopleGroupRepository) List(ctx context.Context, filter PeopleGroupFilter, sortSpec query.SortSpec, page query.Page) ([]models.PeopleGroup, error) {
	column, ok := peopleGroupSortColumns[strings.ToLower(sortSpec.Field())]
	if !ok {
		return nil, &query.ValidationError{
			Field:   "sort_field",
			Message: fmt.Sprintf("unknown field %q (allowed: %s)", sortSpec.Field(), strings.Join(PeopleGroupSortFields(), ", ")),
		}
	}

	var (
		conds []string
		args  []interface{}
	)
	bind := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.CountryCode != "" {
		bind("country_code = $%d", strings.ToUpper(filter.CountryCode))
	}
	if m, ok := filter.Month.Value(); ok {
		bind("month = $%d", m)
	}
	if d, ok := filter.Day.Value(); ok {
		bind("day = $%d", d)
	}
	if filter.LeastReached {
		conds = append(conds, "least_reached = TRUE")
	}

	q := `SELECT ` + peopleGroupColumns + ` FROM people_groups`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	// Direction comes from a validated SortSpec, so it is always ASC or DESC.
	q += fmt.Sprintf(` ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d`, column, sortSpec.Direction(), len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset())

	groups := make([]models.PeopleGroup, 0)
	if err := r.db.SelectContext(ctx, &groups, q, args...); err != nil {
		return nil, fmt.Errorf("list people groups: %w", err)
	}
	return groups, nil
}

// Get returns one people group, or (nil, nil) when the ID is unknown.
func (r *PeopleGroupRepository) Get(ctx context.Context, id int64) (*models.PeopleGroup, error) {
	var group models.PeopleGroup
	err := r.db.GetContext(ctx, &group, `SELECT `+peopleGroupColumns+` FROM people_groups WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get people group %d: %w", id, err)
	}
	return &group, nil
}
