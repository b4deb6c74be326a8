package errors

import (
	goerrors "errors"
	"reflect"
	"strings"
)

// Classify derives a low-cardinality label from an error's concrete type,
// for use as a metric tag or log attribute.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	// The innermost error carries the most specific type.
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
