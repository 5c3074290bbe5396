package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
)

// ValidationFunc returns a non-nil error describing why item is invalid.
type ValidationFunc[T any] func(item T) error

// Validating runs rules in order and reports the first violation as an
// invalid outcome. Whether invalid items are skipped or fail the step is up to
// the skip policy.
func Validating[T any](rules ...ValidationFunc[T]) port.ItemProcessor[T, T] {
	return port.ItemProcessorFunc[T, T](func(_ context.Context, item T) (port.Result[T], error) {
		for _, rule := range rules {
			if err := rule(item); err != nil {
				return port.Invalid[T](err.Error()), nil
			}
		}
		return port.Processed(item), nil
	})
}

// Mode selects what StructValidator does with an item that violates its tags.
type Mode int

const (
	// ModeInvalid reports violations as an invalid outcome.
	ModeInvalid Mode = iota
	// ModeFilter drops violating items silently.
	ModeFilter
)

// StructValidator validates items with `validate` struct tags.
type StructValidator[T any] struct {
	validate *validator.Validate
	mode     Mode
}

var _ port.ItemProcessor[any, any] = (*StructValidator[any])(nil)

// NewStructValidator creates a StructValidator. A nil v uses a validator with
// required struct checks enabled.
func NewStructValidator[T any](v *validator.Validate, mode Mode) *StructValidator[T] {
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return &StructValidator[T]{validate: v, mode: mode}
}

func (p *StructValidator[T]) Process(ctx context.Context, item T) (port.Result[T], error) {
	err := p.validate.StructCtx(ctx, item)
	if err == nil {
		return port.Processed(item), nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return port.Result[T]{}, fmt.Errorf("struct validation of %T: %w", item, err)
	}
	if p.mode == ModeFilter {
		return port.Filtered[T](), nil
	}
	return port.Invalid[T](describe(verrs)), nil
}

func describe(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, e.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", e.Field(), e.Param()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed '%s'", e.Field(), e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
