package predict

import (
	"errors"

	"github.com/verte-zerg/hccdfs/internal/cohort"
	"github.com/verte-zerg/hccdfs/internal/variant"
)

// ErrBadInput marks failures caused by the caller's variant or record.
var ErrBadInput = errors.New("bad input")

// Kind classifies a prediction failure.
type Kind int

const (
	KindNone Kind = iota
	KindBadInput
	KindUnavailable
	KindModel
)

func (k Kind) String() string {
	switch k {
	case KindBadInput:
		return "bad input"
	case KindUnavailable:
		return "data unavailable"
	case KindModel:
		return "model error"
	default:
		return "ok"
	}
}

// KindOf maps err to its kind. Unrecognized errors are model errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrBadInput),
		errors.Is(err, variant.ErrUnknownVariant),
		errors.Is(err, variant.ErrUnknownCovariate),
		errors.Is(err, variant.ErrInvalidValue):
		return KindBadInput
	case errors.Is(err, cohort.ErrCohortUnavailable), errors.Is(err, cohort.ErrCohortSchema):
		return KindUnavailable
	default:
		return KindModel
	}
}
