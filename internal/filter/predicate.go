package filter

import (
	"fmt"
	"strings"
	"time"
)

// Operator is a comparison understood by every storage accessor.
type Operator string

const (
	OpEq     Operator = "eq"
	OpIn     Operator = "in"
	OpILike  Operator = "ilike"
	OpGte    Operator = "gte"
	OpLte    Operator = "lte"
	OpIsNull Operator = "is_null"
)

// Clause is a single condition on one physical field. OpILike values are the
// raw substring; accessors add the wildcards.
type Clause struct {
	Field string      `json:"field"`
	Op    Operator    `json:"op"`
	Value interface{} `json:"value,omitempty"`
}

// Group is satisfied when any of its clauses holds.
type Group struct {
	Name string   `json:"name"`
	Any  []Clause `json:"any"`
}

// Predicate is the storage-neutral row filter. Every Where clause and every
// group must hold.
type Predicate struct {
	Where []Clause `json:"where,omitempty"`
	AnyOf []Group  `json:"any_of,omitempty"`
}

// IsEmpty reports whether the predicate matches everything.
func (p Predicate) IsEmpty() bool {
	return len(p.Where) == 0 && len(p.AnyOf) == 0
}

// Fields lists the fields constrained directly by Where clauses.
func (p Predicate) Fields() []string {
	seen := make(map[string]struct{}, len(p.Where))
	out := make([]string, 0, len(p.Where))
	for _, c := range p.Where {
		if _, ok := seen[c.Field]; ok {
			continue
		}
		seen[c.Field] = struct{}{}
		out = append(out, c.Field)
	}
	return out
}

// Clone deep-copies the clause and group slices.
func (p Predicate) Clone() Predicate {
	out := Predicate{}
	if len(p.Where) > 0 {
		out.Where = append([]Clause(nil), p.Where...)
	}
	if len(p.AnyOf) > 0 {
		out.AnyOf = make([]Group, len(p.AnyOf))
		for i, g := range p.AnyOf {
			out.AnyOf[i] = Group{Name: g.Name, Any: append([]Clause(nil), g.Any...)}
		}
	}
	return out
}

// Summary renders every condition as text, in order.
func (p Predicate) Summary() []string {
	out := make([]string, 0, len(p.Where)+len(p.AnyOf))
	for _, c := range p.Where {
		out = append(out, c.String())
	}
	for _, g := range p.AnyOf {
		out = append(out, g.String())
	}
	return out
}

func (c Clause) String() string {
	switch c.Op {
	case OpEq:
		return fmt.Sprintf("%s = %s", c.Field, formatOperand(c.Value))
	case OpIn:
		return fmt.Sprintf("%s in %s", c.Field, formatOperand(c.Value))
	case OpILike:
		return fmt.Sprintf("%s ilike %%%v%%", c.Field, c.Value)
	case OpGte:
		return fmt.Sprintf("%s >= %s", c.Field, formatOperand(c.Value))
	case OpLte:
		return fmt.Sprintf("%s <= %s", c.Field, formatOperand(c.Value))
	case OpIsNull:
		return fmt.Sprintf("%s is null", c.Field)
	default:
		return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
	}
}

func (g Group) String() string {
	parts := make([]string, len(g.Any))
	for i, c := range g.Any {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func formatOperand(v interface{}) string {
	switch value := v.(type) {
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	case []string:
		return "[" + strings.Join(value, ", ") + "]"
	case string:
		return value
	default:
		return fmt.Sprintf("%v", value)
	}
}

// builder collects one layer's clauses, dropping any on a locked field.
type builder struct {
	locked  map[string]struct{}
	pred    Predicate
	dropped []string
}

func newBuilder(locked map[string]struct{}) *builder {
	return &builder{locked: locked}
}

func (b *builder) add(c Clause) {
	if _, ok := b.locked[c.Field]; ok {
		b.dropped = append(b.dropped, c.String())
		return
	}
	b.pred.Where = append(b.pred.Where, c)
}

func (b *builder) group(g Group) {
	if len(g.Any) == 0 {
		return
	}
	b.pred.AnyOf = append(b.pred.AnyOf, g)
}
