// Package step runs individual reset steps with uniform failure containment
// and records their outcomes in an insertion-ordered log.
package step

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// FailedMessage is the message attached to a step that returned a falsy value.
const FailedMessage = "Step failed."

// Result is the normalized outcome of a single step.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// OK returns a successful Result with the given message.
func OK(format string, args ...any) Result {
	return Result{Success: true, Message: sprintf(format, args...)}
}

// Fail returns a failed Result with the given message.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Message: sprintf(format, args...)}
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// With returns a copy of r carrying key=value in Extra.
func (r Result) With(key string, value any) Result {
	extra := make(map[string]any, len(r.Extra)+1)
	for k, v := range r.Extra {
		extra[k] = v
	}
	extra[key] = value
	r.Extra = extra
	return r
}

// Int returns the integer stored under key in Extra. Values that went through
// a JSON round trip arrive as float64 or json.Number and are converted.
func (r Result) Int(key string) (int64, bool) {
	v, ok := r.Extra[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// Func is a step body. It may return a Result to report detail, any other
// value to be coerced to success or failure, or an error.
type Func func() (any, error)

// Of adapts a function that already returns a Result.
func Of(fn func() Result) Func {
	return func() (any, error) { return fn(), nil }
}

// Run invokes fn and normalizes its outcome. Errors and panics are converted
// into failed results; Run itself never panics.
func Run(fn Func) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				res = Result{Success: false, Message: "Error: " + err.Error()}
				return
			}
			res = Result{Success: false, Message: fmt.Sprintf("Error: %v", r)}
		}
	}()

	v, err := fn()
	if err != nil {
		return Result{Success: false, Message: "Error: " + err.Error()}
	}

	switch r := v.(type) {
	case Result:
		return r
	case *Result:
		if r != nil {
			return *r
		}
	}

	if truthy(v) {
		return Result{Success: true}
	}
	return Result{Success: false, Message: FailedMessage}
}

func truthy(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.String:
		s := rv.String()
		return s != "" && s != "0"
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
