package incrementer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
)

func TestTimestampIncrementer(t *testing.T) {
	now := func() time.Time { return time.UnixMilli(1700000000000) }
	inc := NewTimestampIncrementer(StartAt, now)

	params := model.NewJobParameters()
	params.Put("region", "eu")
	next := inc.Next(params)
	ts, ok := next.GetInt64(StartAt)
	assert.True(t, ok)
	assert.EqualValues(t, 1700000000000, ts)
	assert.Equal(t, "eu", next.Get("region"))
	assert.Nil(t, params.Get(StartAt), "input parameters are not modified")

	params.Put(StartAt, "1600000000000")
	ts, _ = inc.Next(params).GetInt64(StartAt)
	assert.EqualValues(t, 1600000000000, ts)

	params.Put(StartAt, "yesterday")
	assert.Equal(t, "yesterday", inc.Next(params).Get(StartAt))

	assert.Equal(t, "TimestampIncrementer[name=startAt]", inc.String())
}
