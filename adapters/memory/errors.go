package memory

import (
	"fmt"

	"github.com/AshkanYarmoradi/go-eventide/adapters"
)

// arguments holds the positional arguments of one emulated call. Missing
// trailing arguments behave like the SQL defaults of the server functions.
type arguments struct {
	procedure string
	values    []any
}

func (a arguments) storeError(code, message string) *adapters.StoreError {
	return adapters.NewStoreError(a.procedure, code, message)
}

func (a arguments) value(i int) any {
	if i >= len(a.values) {
		return nil
	}
	return a.values[i]
}

func (a arguments) requiredString(i int, name string) (string, error) {
	s, err := a.optionalString(i)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", a.storeError(codeInvalidParameter, fmt.Sprintf("%s must not be null", name))
	}
	return *s, nil
}

func (a arguments) optionalString(i int) (*string, error) {
	switch v := a.value(i).(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	case *string:
		return v, nil
	default:
		return nil, a.storeError(codeInvalidParameter, fmt.Sprintf("argument %d: expected text, got %T", i+1, v))
	}
}

func (a arguments) optionalInt64(i int) (*int64, error) {
	switch v := a.value(i).(type) {
	case nil:
		return nil, nil
	case int64:
		return &v, nil
	case *int64:
		return v, nil
	case int:
		n := int64(v)
		return &n, nil
	case int32:
		n := int64(v)
		return &n, nil
	default:
		return nil, a.storeError(codeInvalidParameter, fmt.Sprintf("argument %d: expected bigint, got %T", i+1, v))
	}
}

func (a arguments) int64OrDefault(i int, defaultValue int64) (int64, error) {
	n, err := a.optionalInt64(i)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return defaultValue, nil
	}
	return *n, nil
}

// rejectCondition fails like a store without message_store.sql_condition
// enabled: SQL conditions cannot be evaluated in memory.
func (a arguments) rejectCondition(i int) error {
	condition, err := a.optionalString(i)
	if err != nil {
		return err
	}
	if condition != nil {
		return a.storeError(codeRaiseException,
			"Retrieval with SQL condition is not activated")
	}
	return nil
}

func (a arguments) validateGroup(member, size *int64) error {
	switch {
	case member == nil && size == nil:
		return nil
	case member == nil:
		return a.storeError(codeRaiseException, "Consumer group member must be specified")
	case size == nil:
		return a.storeError(codeRaiseException, "Consumer group size must be specified")
	case *size < 1:
		return a.storeError(codeRaiseException, "Consumer group size must not be less than 1")
	case *member < 0:
		return a.storeError(codeRaiseException, "Consumer group member must not be less than 0")
	case *member >= *size:
		return a.storeError(codeRaiseException, "Consumer group member must be less than the group size")
	}
	return nil
}
