package config

import (
	"reflect"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// Validator is implemented by configuration structs that need checks beyond
// `required` tags (URL shape, positive durations, production-only rules).
// Validate runs only after every required field is present.
//
// Errors that are already [*sserr.Error] are returned unchanged; anything
// else is wrapped with [sserr.CodeValidation].
//
// Example:
//
//	func (c *TrustConfig) Validate() error {
//	    if c.Leeway < 0 {
//	        return sserr.New(sserr.CodeValidation, "config: leeway must not be negative")
//	    }
//	    return nil
//	}
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	var missing []string
	collectMissing(rv, "", &missing)
	if len(missing) > 0 {
		return sserr.Newf(sserr.CodeValidationRequired,
			"config: required field(s) empty: %s", strings.Join(missing, ", ")).
			WithDetail("fields", missing)
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isSSErr := sserr.AsError(err); isSSErr {
				return err
			}
			return sserr.Wrap(err, sserr.CodeValidation,
				"config: custom validation failed")
		}
	}

	return nil
}

// collectMissing appends the dotted path of every empty required field, so
// an operator sees all missing variables in one failed start.
func collectMissing(rv reflect.Value, path string, missing *[]string) {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if isNestedStruct(field) {
			collectMissing(field, fieldPath, missing)
			continue
		}

		if sf.Tag.Get("required") == "true" && field.IsZero() {
			*missing = append(*missing, fieldPath)
		}
	}
}
