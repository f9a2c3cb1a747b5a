package schedule

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/go-playground/validator/v10"
)

func newValidator(allowed map[int]bool, maxHorizon int) *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("slot_minutes", func(fl validator.FieldLevel) bool {
		return allowed[int(fl.Field().Int())]
	})
	_ = v.RegisterValidation("horizon", func(fl validator.FieldLevel) bool {
		return int(fl.Field().Int()) <= maxHorizon
	})
	return v
}

func (g *Generator) validateStruct(s any) error {
	if err := g.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return g.translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

// translateValidationErrors reports the first failing field with guidance the chat layer can relay.
func (g *Generator) translateValidationErrors(errs validator.ValidationErrors) error {
	err := errs[0]
	field := err.Field()
	if i := strings.IndexByte(field, '['); i > 0 {
		field = field[:i]
	}

	switch err.Tag() {
	case "required":
		return domain.InvalidSpec(field, "at least one day of the week is required")
	case "slot_minutes":
		return domain.InvalidSpec(field, "%d is not supported, use one of %s", err.Value(), g.allowedList())
	case "horizon":
		return domain.InvalidSpec(field, "schedules can reach at most %d weeks ahead", g.maxHorizonWeeks)
	case "min":
		if field == "days_of_week" && err.Kind() == reflect.Slice {
			return domain.InvalidSpec(field, "at least one day of the week is required")
		}
		return domain.InvalidSpec(field, "must be at least %s", err.Param())
	case "max":
		return domain.InvalidSpec(field, "must be at most %s", err.Param())
	default:
		return domain.InvalidSpec(field, "failed %q check", err.Tag())
	}
}

func (g *Generator) allowedList() string {
	minutes := make([]int, 0, len(g.allowedMinutes))
	for m := range g.allowedMinutes {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)
	parts := make([]string, 0, len(minutes))
	for _, m := range minutes {
		parts = append(parts, fmt.Sprint(m))
	}
	return strings.Join(parts, ", ") + " minutes"
}

func (g *Generator) location(name string) (*time.Location, error) {
	if name == "" {
		name = g.defaultTimezone
	}
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, domain.InvalidSpec("time_zone", "unknown IANA timezone %q", name)
	}
	return loc, nil
}

// ValidateRecurrence runs tag and cross-field checks without generating.
func (g *Generator) ValidateRecurrence(spec domain.RecurrenceSpec) error {
	if err := g.validateStruct(spec); err != nil {
		return err
	}
	ws, we := spec.WindowStart.Minutes(), spec.WindowEnd.Minutes()
	if ws >= we {
		return domain.InvalidSpec("window_end", "must be after window_start (%s >= %s)", spec.WindowStart, spec.WindowEnd)
	}
	if we-ws < spec.SlotMinutes {
		return domain.InvalidSpec("slot_minutes",
			"a %d minute slot does not fit between %s and %s, widen the window or shorten the slot",
			spec.SlotMinutes, spec.WindowStart, spec.WindowEnd)
	}
	_, err := g.location(spec.Timezone)
	return err
}

func (g *Generator) ValidateRemoval(spec domain.RemovalSpec) error {
	if err := g.validateStruct(spec); err != nil {
		return err
	}
	if (spec.WindowStart == nil) != (spec.WindowEnd == nil) {
		return domain.InvalidSpec("window_end", "window_start and window_end must be given together")
	}
	if spec.WindowStart != nil && spec.WindowStart.Minutes() >= spec.WindowEnd.Minutes() {
		return domain.InvalidSpec("window_end", "must be after window_start (%s >= %s)", spec.WindowStart, spec.WindowEnd)
	}
	_, err := g.location(spec.Timezone)
	return err
}
