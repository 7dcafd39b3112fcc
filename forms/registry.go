// Package forms holds the form templates each workflow step collects and
// validates submitted data against them.
package forms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"leaseexit/models"
)

var ErrUnknownFormType = errors.New("unknown form type")

// Source supplies form templates. Later sources override earlier ones by form type.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]models.FormTemplate, error)
}

// Registry serves a read-only snapshot of templates. Refresh swaps the snapshot
// without blocking readers for longer than a pointer swap.
type Registry struct {
	sources []Source
	logger  zerolog.Logger

	mu        sync.RWMutex
	templates map[string]models.FormTemplate

	group singleflight.Group
}

func NewRegistry(logger zerolog.Logger, sources ...Source) *Registry {
	return &Registry{
		sources:   sources,
		logger:    logger.With().Str("component", "forms").Logger(),
		templates: map[string]models.FormTemplate{},
	}
}

// Refresh reloads every source. Concurrent calls share one load. A source that
// fails to load is skipped and the others still apply; if nothing loads the
// previous snapshot stays in place.
func (r *Registry) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		return nil, r.refresh(ctx)
	})
	return err
}

func (r *Registry) refresh(ctx context.Context) error {
	next := make(map[string]models.FormTemplate)
	var errs []error
	for _, src := range r.sources {
		list, err := src.Load(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Str("source", src.Name()).Msg("form template source failed to load")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		for _, t := range list {
			if err := CheckTemplate(t); err != nil {
				r.logger.Warn().Err(err).Str("source", src.Name()).Str("form_type", t.FormType).Msg("skipping invalid form template")
				continue
			}
			next[t.FormType] = t
		}
	}
	if len(next) == 0 {
		if len(errs) > 0 {
			return fmt.Errorf("no form templates loaded: %w", errors.Join(errs...))
		}
		return fmt.Errorf("no form templates loaded")
	}

	r.mu.Lock()
	r.templates = next
	r.mu.Unlock()

	r.logger.Debug().Int("templates", len(next)).Msg("form templates refreshed")
	return nil
}

// Template returns the template for formType.
func (r *Registry) Template(formType string) (models.FormTemplate, error) {
	r.mu.RLock()
	t, ok := r.templates[formType]
	r.mu.RUnlock()
	if !ok {
		return models.FormTemplate{}, fmt.Errorf("%w: %s", ErrUnknownFormType, formType)
	}
	return t, nil
}

// GetSchema returns the field list of formType.
func (r *Registry) GetSchema(formType string) ([]models.FieldSpec, error) {
	t, err := r.Template(formType)
	if err != nil {
		return nil, err
	}
	return append([]models.FieldSpec(nil), t.Fields...), nil
}

// Templates lists all templates ordered by form type.
func (r *Registry) Templates() []models.FormTemplate {
	r.mu.RLock()
	out := make([]models.FormTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FormType < out[j].FormType })
	return out
}

// Validate checks data against formType. The error is only set for an unknown form type.
func (r *Registry) Validate(formType string, data map[string]interface{}) (Result, error) {
	t, err := r.Template(formType)
	if err != nil {
		return Result{}, err
	}
	return ValidateTemplate(t, data), nil
}

// CheckTemplate rejects templates the validator could not apply.
func CheckTemplate(t models.FormTemplate) error {
	if t.FormType == "" {
		return fmt.Errorf("form_type is required")
	}
	if !t.Role.IsKnown() {
		return fmt.Errorf("form %s: unknown role %q", t.FormType, t.Role)
	}
	if len(t.Fields) == 0 {
		return fmt.Errorf("form %s: no fields", t.FormType)
	}
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("form %s: field without a name", t.FormType)
		}
		if seen[f.Name] {
			return fmt.Errorf("form %s: duplicate field %s", t.FormType, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case models.FieldText, models.FieldTextarea, models.FieldEmail, models.FieldNumber,
			models.FieldDate, models.FieldBoolean, models.FieldFile:
		case models.FieldSelect:
			if len(f.Options) == 0 {
				return fmt.Errorf("form %s: select field %s has no options", t.FormType, f.Name)
			}
		default:
			return fmt.Errorf("form %s: field %s has unknown type %q", t.FormType, f.Name, f.Type)
		}
		if err := checkRuleSpec(f); err != nil {
			return fmt.Errorf("form %s: %w", t.FormType, err)
		}
	}
	return nil
}
