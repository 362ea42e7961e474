package filter

import (
	"strings"
	"time"
)

// Layer names, in resolution order.
type Layer string

const (
	LayerPermission Layer = "permission"
	LayerSystem     Layer = "system"
	LayerUser       Layer = "user"
	LayerSearch     Layer = "search"
)

// Group names produced by the engine.
const (
	GroupIdentity = "identity"
	GroupSearch   = "search"
)

// LayerTrace records what one layer contributed. Only layers that produced
// or dropped something appear in a trace.
type LayerTrace struct {
	Layer      Layer    `json:"layer"`
	Source     string   `json:"source,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
	Dropped    []string `json:"dropped,omitempty"`
}

// Result is the engine output. It is built fresh per call and treated as immutable.
type Result struct {
	Predicate  Predicate    `json:"predicate"`
	Sort       Sort         `json:"sort"`
	Trace      []LayerTrace `json:"trace"`
	ScopeLabel string       `json:"scope"`
}

// Layers lists the layers that fired, in order.
func (r Result) Layers() []string {
	out := make([]string, 0, len(r.Trace))
	for _, t := range r.Trace {
		out = append(out, string(t.Layer))
	}
	return out
}

// Resolver turns payloads into predicates. It performs no I/O; the clock is
// the only input besides its arguments.
type Resolver struct {
	now func() time.Time
}

// NewResolver builds a resolver. A nil clock uses time.Now.
func NewResolver(now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// Resolve runs the permission, system, user and search layers in that order.
// The payload must already have passed Validate.
func (r *Resolver) Resolve(cfg *ModuleConfig, payload Payload, perm PermissionContext, sys SystemConstraints) Result {
	var (
		pred  Predicate
		trace []LayerTrace
	)
	locked := make(map[string]struct{})

	scope := cfg.scopeStrategy()
	label, scopeFrag := scope.Scope(perm)
	scopeFrag = scopeFrag.Clone()
	if !scopeFrag.IsEmpty() {
		trace = append(trace, LayerTrace{Layer: LayerPermission, Source: scope.Name(), Conditions: scopeFrag.Summary()})
	}
	merge(&pred, scopeFrag, locked)

	constraints := cfg.constraintStrategy()
	sysFrag := constraints.Constraints(cfg.Capabilities, sys).Clone()
	if !sysFrag.IsEmpty() {
		trace = append(trace, LayerTrace{Layer: LayerSystem, Source: constraints.Name(), Conditions: sysFrag.Summary()})
	}
	merge(&pred, sysFrag, locked)

	user := r.userLayer(cfg, payload, locked)
	if !user.pred.IsEmpty() || len(user.dropped) > 0 {
		trace = append(trace, LayerTrace{Layer: LayerUser, Conditions: user.pred.Summary(), Dropped: user.dropped})
	}
	merge(&pred, user.pred, nil)

	if search := searchGroup(cfg, payload.Search); search != nil {
		pred.AnyOf = append(pred.AnyOf, *search)
		trace = append(trace, LayerTrace{Layer: LayerSearch, Conditions: []string{search.String()}})
	}

	return Result{
		Predicate:  pred,
		Sort:       resolveSort(cfg, payload.Sort),
		Trace:      trace,
		ScopeLabel: label,
	}
}

// merge appends frag to dst. When locked is non-nil the frag's direct fields
// become locked against later layers.
func merge(dst *Predicate, frag Predicate, locked map[string]struct{}) {
	dst.Where = append(dst.Where, frag.Where...)
	dst.AnyOf = append(dst.AnyOf, frag.AnyOf...)
	if locked == nil {
		return
	}
	for _, field := range frag.Fields() {
		locked[field] = struct{}{}
	}
}

func (r *Resolver) userLayer(cfg *ModuleConfig, p Payload, locked map[string]struct{}) *builder {
	b := newBuilder(locked)

	if terms := p.identityTerms(); len(terms) > 0 && len(cfg.IdentityFields) > 0 {
		b.group(containsGroup(GroupIdentity, cfg.IdentityFields, terms))
	}

	for _, concept := range statusConcepts {
		values := cleanValues(p.statusSet(concept))
		column, ok := cfg.StatusFields[concept]
		if len(values) == 0 || !ok {
			continue
		}
		b.add(Clause{Field: column, Op: OpIn, Value: values})
	}

	if p.Date != nil {
		r.addDateWindow(b, cfg, p.Date)
	}

	for _, key := range ownershipKeys {
		values := cleanValues(p.ownershipSet(key))
		column, ok := cfg.OwnershipFields[key]
		if len(values) == 0 || !ok {
			continue
		}
		b.add(Clause{Field: column, Op: OpIn, Value: values})
	}

	for _, key := range numericKeys {
		rng := p.numericRange(key)
		column, ok := cfg.NumericFields[key]
		if rng == nil || !ok {
			continue
		}
		if rng.Min != nil {
			b.add(Clause{Field: column, Op: OpGte, Value: *rng.Min})
		}
		if rng.Max != nil {
			b.add(Clause{Field: column, Op: OpLte, Value: *rng.Max})
		}
	}

	addRelational(b, cfg, p.RelationalTerms)
	return b
}

func (r *Resolver) addDateWindow(b *builder, cfg *ModuleConfig, d *DateWindow) {
	column, ok := cfg.DateFields[d.Field]
	if !ok {
		b.dropped = append(b.dropped, "date field "+d.Field+" is not filterable")
		return
	}
	var window Window
	if d.Preset != "" && d.Preset != PresetCustom {
		expanded, err := ExpandPreset(d.Preset, r.now())
		if err != nil {
			b.dropped = append(b.dropped, err.Error())
			return
		}
		window = expanded
	} else {
		window = literalWindow(d.From, d.To)
	}
	if !window.From.IsZero() {
		b.add(Clause{Field: column, Op: OpGte, Value: window.From})
	}
	if !window.To.IsZero() {
		b.add(Clause{Field: column, Op: OpLte, Value: window.To})
	}
}

func addRelational(b *builder, cfg *ModuleConfig, terms RelationalTerms) {
	order := make([]string, 0, len(terms.HasRelated))
	ids := make(map[string][]string)
	for _, ref := range terms.HasRelated {
		if _, seen := ids[ref.Type]; !seen {
			order = append(order, ref.Type)
		}
		ids[ref.Type] = append(ids[ref.Type], ref.ID)
	}
	for _, relType := range order {
		column, ok := cfg.RelationFields[relType]
		values := cleanValues(ids[relType])
		if !ok || len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			b.add(Clause{Field: column, Op: OpEq, Value: values[0]})
			continue
		}
		b.add(Clause{Field: column, Op: OpIn, Value: values})
	}
	for _, relType := range cleanValues(terms.MissingRelated) {
		column, ok := cfg.RelationFields[relType]
		if !ok {
			continue
		}
		b.add(Clause{Field: column, Op: OpIsNull})
	}
}

// searchGroup is ANDed with everything else, including the identity group,
// so adding a search term can only narrow the result.
func searchGroup(cfg *ModuleConfig, search string) *Group {
	term := strings.TrimSpace(search)
	if term == "" || len(cfg.IdentityFields) == 0 {
		return nil
	}
	g := containsGroup(GroupSearch, cfg.IdentityFields, []string{term})
	return &g
}

func containsGroup(name string, fields, terms []string) Group {
	g := Group{Name: name}
	for _, term := range terms {
		for _, field := range fields {
			g.Any = append(g.Any, Clause{Field: field, Op: OpILike, Value: term})
		}
	}
	return g
}

func resolveSort(cfg *ModuleConfig, requested *Sort) Sort {
	if requested == nil || strings.TrimSpace(requested.Field) == "" {
		out := cfg.DefaultSort
		if out.Direction == "" && out.Field != "" {
			out.Direction = SortDesc
		}
		return out
	}
	direction := SortAsc
	if requested.Desc() {
		direction = SortDesc
	}
	return Sort{Field: cfg.ResolveSortField(requested.Field), Direction: direction}
}
