package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
)

// Pagination defaults.
const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
	// MaxPage matches the max tag on Payload.Page.
	MaxPage = 100000
)

var structValidator = validator.New()

// Validate checks a decoded payload against the entity's configuration. All
// problems are collected into a single validation error.
func Validate(cfg *ModuleConfig, p Payload, maxPageSize int) error {
	var issues []string

	if err := structValidator.Struct(p); err != nil {
		issues = append(issues, describeFieldErrors(err)...)
	}

	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	if p.PageSize > maxPageSize {
		issues = append(issues, fmt.Sprintf("page_size must not exceed %d", maxPageSize))
	}

	if p.Date != nil {
		issues = append(issues, validateDate(cfg, p.Date)...)
	}

	for _, key := range numericKeys {
		rng := p.numericRange(key)
		if rng != nil && rng.Min != nil && rng.Max != nil && *rng.Min > *rng.Max {
			issues = append(issues, fmt.Sprintf("%s.min must not exceed %s.max", key, key))
		}
	}

	for _, ref := range p.HasRelated {
		if _, ok := cfg.RelationFields[ref.Type]; !ok && ref.Type != "" {
			issues = append(issues, fmt.Sprintf("has_related type %q is not supported", ref.Type))
		}
	}
	for _, relType := range p.MissingRelated {
		if _, ok := cfg.RelationFields[relType]; !ok {
			issues = append(issues, fmt.Sprintf("missing_related type %q is not supported", relType))
		}
	}

	if p.Sort != nil && strings.TrimSpace(p.Sort.Field) != "" {
		column := cfg.ResolveSortField(p.Sort.Field)
		if _, ok := cfg.SortableColumns()[column]; !ok {
			issues = append(issues, fmt.Sprintf("sort field %q is not sortable", p.Sort.Field))
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return appErrors.WithDetails(appErrors.ErrValidation, strings.Join(issues, "; "), issues...)
}

func validateDate(cfg *ModuleConfig, d *DateWindow) []string {
	var issues []string
	if _, ok := cfg.DateFields[d.Field]; !ok && d.Field != "" {
		issues = append(issues, fmt.Sprintf("date field %q is not filterable", d.Field))
	}
	hasBounds := d.From != nil || d.To != nil
	switch {
	case d.Preset != "" && d.Preset != PresetCustom && hasBounds:
		issues = append(issues, "date preset cannot be combined with from/to")
	case (d.Preset == "" || d.Preset == PresetCustom) && !hasBounds:
		issues = append(issues, "date filter needs a preset or a from/to bound")
	}
	if d.From != nil && d.To != nil && d.From.After(literalWindow(d.From, d.To).To) {
		issues = append(issues, "date.from must not be after date.to")
	}
	return issues
}

func describeFieldErrors(err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Payload.")
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		out = append(out, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return out
}
