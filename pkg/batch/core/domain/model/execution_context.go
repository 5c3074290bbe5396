package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/serialization"
)

// ExecutionContext is the opaque key/value state persisted with an execution.
// For a step it holds the reader checkpoint of the last committed chunk.
// Values should be primitives (string, bool, integers, floats) so that they
// round-trip through JSON without loss.
type ExecutionContext map[string]interface{}

// NewExecutionContext creates an empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Value implements driver.Valuer.
func (ec ExecutionContext) Value() (driver.Value, error) {
	data, err := serialization.MarshalExecutionContext(ec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (ec *ExecutionContext) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*ec = NewExecutionContext()
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ExecutionContext: %T", value)
	}
	m, err := serialization.UnmarshalExecutionContext(b)
	if err != nil {
		return err
	}
	*ec = m
	return nil
}

// Put stores value under key.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get returns the raw value stored under key.
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := ec[key]
	return v, ok
}

// GetString returns the string stored under key.
func (ec ExecutionContext) GetString(key string) (string, bool) {
	v, ok := ec[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt64 returns the integer stored under key, accepting any numeric
// representation produced by JSON decoding.
func (ec ExecutionContext) GetInt64(key string) (int64, bool) {
	v, ok := ec[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// GetInt returns the integer stored under key.
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	i, ok := ec.GetInt64(key)
	return int(i), ok
}

// GetBool returns the bool stored under key.
func (ec ExecutionContext) GetBool(key string) (bool, bool) {
	v, ok := ec[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetFloat64 returns the float stored under key.
func (ec ExecutionContext) GetFloat64(key string) (float64, bool) {
	v, ok := ec[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Remove deletes key.
func (ec ExecutionContext) Remove(key string) {
	delete(ec, key)
}

// Merge copies every entry of other into ec, overwriting existing keys.
func (ec ExecutionContext) Merge(other ExecutionContext) {
	for k, v := range other {
		ec[k] = v
	}
}

// Copy returns a shallow copy. A nil context copies to an empty one.
func (ec ExecutionContext) Copy() ExecutionContext {
	out := make(ExecutionContext, len(ec))
	for k, v := range ec {
		out[k] = v
	}
	return out
}
