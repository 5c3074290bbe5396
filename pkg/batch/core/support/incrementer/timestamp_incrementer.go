// Package incrementer derives the parameters of the next job instance.
package incrementer

import (
	"fmt"
	"strconv"
	"time"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// StartAt is the parameter that tells launches of the same job apart.
const StartAt = "startAt"

// Incrementer returns the parameters of the next launch derived from params.
type Incrementer interface {
	Next(params model.JobParameters) model.JobParameters
}

// TimestampIncrementer sets a parameter to the launch time in Unix milliseconds.
// A value supplied by the caller is kept, so a caller can resume a failed run
// by passing its timestamp; a numeric string is normalized to an integer.
type TimestampIncrementer struct {
	name string
	now  func() time.Time
}

var _ Incrementer = (*TimestampIncrementer)(nil)

// NewTimestampIncrementer creates an incrementer for parameter name. A nil now uses time.Now.
func NewTimestampIncrementer(name string, now func() time.Time) *TimestampIncrementer {
	if now == nil {
		now = time.Now
	}
	return &TimestampIncrementer{name: name, now: now}
}

// Next returns a copy of params with the timestamp parameter set.
func (i *TimestampIncrementer) Next(params model.JobParameters) model.JobParameters {
	next := model.NewJobParameters()
	for k, v := range params.Params {
		next.Put(k, v)
	}

	switch v := next.Get(i.name).(type) {
	case nil:
		ts := i.now().UnixMilli()
		next.Put(i.name, ts)
		logger.Debugf("TimestampIncrementer: setting '%s' to %d.", i.name, ts)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			next.Put(i.name, n)
		}
	}
	return next
}

func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}
