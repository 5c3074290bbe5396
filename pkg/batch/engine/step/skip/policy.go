// Package skip decides whether a failed item may be dropped from a chunk.
package skip

import (
	"errors"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// SkipPolicy classifies item failures and enforces the skip limit.
//
// The running total compared against the limit covers processor-invalid items
// and writer-rejected items. Filtered items are not errors and never count
// against the limit.
type SkipPolicy interface {
	// IsSkippable reports whether err, raised for a single item, may be skipped.
	IsSkippable(err error) bool
	// Skip returns nil when one more skip is allowed after skipCount skips.
	// Otherwise it returns a SkipLimitExceeded error wrapping cause.
	Skip(cause error, skipCount int) error
	// SkipLimit returns the maximum number of tolerated skips.
	SkipLimit() int
}

// Config holds the settings of the default policy.
type Config struct {
	// SkipLimit is the maximum number of skips; 0 disables skipping.
	SkipLimit int
	// SkippableExceptions are error names (see exception.IsErrorOfType) treated as skippable.
	SkippableExceptions []string
	// FatalExceptions are error names that are never skipped, even when flagged skippable.
	FatalExceptions []string
	// InvalidIsFatal classifies ProcessorInvalid outcomes as fatal instead of skippable.
	InvalidIsFatal bool
}

// NewDefaultSkipPolicy creates a SkipPolicy from cfg.
func NewDefaultSkipPolicy(cfg Config) SkipPolicy {
	return &defaultSkipPolicy{cfg: cfg}
}

type defaultSkipPolicy struct {
	cfg Config
}

func (p *defaultSkipPolicy) IsSkippable(err error) bool {
	if err == nil {
		return false
	}
	for _, name := range p.cfg.FatalExceptions {
		if exception.IsErrorOfType(err, name) {
			return false
		}
	}
	switch exception.KindOf(err) {
	case exception.SkipLimitExceeded, exception.ReaderFatal, exception.WriterFatal:
		return false
	case exception.ProcessorInvalid:
		return !p.cfg.InvalidIsFatal
	}
	var be *exception.BatchError
	if errors.As(err, &be) && be.IsSkippable() {
		return true
	}
	for _, name := range p.cfg.SkippableExceptions {
		if exception.IsErrorOfType(err, name) {
			return true
		}
	}
	return false
}

func (p *defaultSkipPolicy) Skip(cause error, skipCount int) error {
	if skipCount >= p.cfg.SkipLimit {
		return exception.SkipLimitExceededError(p.cfg.SkipLimit, cause)
	}
	return nil
}

func (p *defaultSkipPolicy) SkipLimit() int {
	return p.cfg.SkipLimit
}

// NeverSkipPolicy treats every failure as fatal.
type NeverSkipPolicy struct{}

// IsSkippable always returns false.
func (NeverSkipPolicy) IsSkippable(err error) bool { return false }

// Skip always refuses.
func (NeverSkipPolicy) Skip(cause error, skipCount int) error {
	return exception.SkipLimitExceededError(0, cause)
}

// SkipLimit returns 0.
func (NeverSkipPolicy) SkipLimit() int { return 0 }

var (
	_ SkipPolicy = (*defaultSkipPolicy)(nil)
	_ SkipPolicy = NeverSkipPolicy{}
)
