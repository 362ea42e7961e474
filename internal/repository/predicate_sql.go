package repository

import (
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/noah-isme/estate-erp-api/internal/filter"
)

var (
	psql       = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

	// likeEscaper neutralises LIKE metacharacters; backslash is the default ESCAPE.
	likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
)

// columnSet guards identifiers that end up interpolated into SQL text.
type columnSet map[string]struct{}

func newColumnSet(columns []string) columnSet {
	set := make(columnSet, len(columns))
	for _, col := range columns {
		set[col] = struct{}{}
	}
	return set
}

func (s columnSet) check(col string) error {
	if !identifier.MatchString(col) {
		return fmt.Errorf("invalid column identifier %q", col)
	}
	if _, ok := s[col]; !ok {
		return fmt.Errorf("unknown column %q", col)
	}
	return nil
}

// predicateSQL translates a resolved predicate into a squirrel condition.
// It returns nil for the empty predicate.
func predicateSQL(p filter.Predicate, cols columnSet) (sq.Sqlizer, error) {
	if p.IsEmpty() {
		return nil, nil
	}
	and := make(sq.And, 0, len(p.Where)+len(p.AnyOf))
	for _, c := range p.Where {
		cond, err := clauseSQL(c, cols)
		if err != nil {
			return nil, err
		}
		and = append(and, cond)
	}
	for _, g := range p.AnyOf {
		or := make(sq.Or, 0, len(g.Any))
		for _, c := range g.Any {
			cond, err := clauseSQL(c, cols)
			if err != nil {
				return nil, err
			}
			or = append(or, cond)
		}
		// An empty group renders as (1=0).
		and = append(and, or)
	}
	return and, nil
}

func clauseSQL(c filter.Clause, cols columnSet) (sq.Sqlizer, error) {
	if err := cols.check(c.Field); err != nil {
		return nil, err
	}
	switch c.Op {
	case filter.OpEq, filter.OpIn:
		return sq.Eq{c.Field: c.Value}, nil
	case filter.OpILike:
		return sq.ILike{c.Field: containsPattern(c.Value)}, nil
	case filter.OpGte:
		return sq.GtOrEq{c.Field: c.Value}, nil
	case filter.OpLte:
		return sq.LtOrEq{c.Field: c.Value}, nil
	case filter.OpIsNull:
		return sq.Eq{c.Field: nil}, nil
	default:
		return nil, fmt.Errorf("unsupported operator %q on %s", c.Op, c.Field)
	}
}

// containsPattern wraps a term for a substring match. The term's own % _ and
// backslash match literally.
func containsPattern(v interface{}) string {
	return "%" + likeEscaper.Replace(fmt.Sprint(v)) + "%"
}
