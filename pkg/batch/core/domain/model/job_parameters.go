package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/serialization"
)

// JobParameters are the run-scoped parameters of a launch. Two launches with
// equal parameters belong to the same JobInstance.
type JobParameters struct {
	Params map[string]interface{}
}

// NewJobParameters creates empty parameters.
func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]interface{})}
}

// Put stores a parameter.
func (jp JobParameters) Put(key string, value interface{}) {
	jp.Params[key] = value
}

// Get returns a parameter, or nil.
func (jp JobParameters) Get(key string) interface{} {
	if jp.Params == nil {
		return nil
	}
	return jp.Params[key]
}

// GetString returns a string parameter.
func (jp JobParameters) GetString(key string) (string, bool) {
	s, ok := jp.Get(key).(string)
	return s, ok
}

// GetInt64 returns an integer parameter.
func (jp JobParameters) GetInt64(key string) (int64, bool) {
	return ExecutionContext(jp.Params).GetInt64(key)
}

// Equal compares parameter sets by their canonical hash.
func (jp JobParameters) Equal(other JobParameters) bool {
	a, errA := jp.Hash()
	b, errB := other.Hash()
	if errA != nil || errB != nil {
		return reflect.DeepEqual(jp.Params, other.Params)
	}
	return a == b
}

// Hash returns the sha256 of the canonical JSON form. encoding/json sorts map
// keys, so the result does not depend on insertion order. Integers and their
// float64 JSON-decoded equivalents hash identically.
func (jp JobParameters) Hash() (string, error) {
	canonical := make(map[string]interface{}, len(jp.Params))
	for k, v := range jp.Params {
		canonical[k] = canonicalValue(v)
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", exception.NewBatchError("job_parameters", "failed to marshal JobParameters for hashing", err, false, false)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalValue(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return v
}

// String renders the parameters with sensitive keys masked.
func (jp JobParameters) String() string {
	data, err := json.Marshal(serialization.GetMaskedJobParametersMap(jp.Params))
	if err != nil {
		return fmt.Sprintf("{[unprintable parameters: %v]}", err)
	}
	return string(data)
}

// Value implements driver.Valuer. Sensitive values are masked before persistence.
func (jp JobParameters) Value() (driver.Value, error) {
	data, err := serialization.MarshalJobParameters(jp.Params)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (jp *JobParameters) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		jp.Params = make(map[string]interface{})
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for JobParameters: %T", value)
	}
	params, err := serialization.UnmarshalJobParameters(b)
	if err != nil {
		return err
	}
	jp.Params = params
	return nil
}
