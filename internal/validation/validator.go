package validation

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs against their `validate` tags.
//
// Supported rules: required, len=N, hex, oneof=a b c, min=N, max=N.
// Length rules apply to strings and slices, min/max to numbers.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// FieldError describes the first rule a field failed
type FieldError struct {
	Field string
	Rule  string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			err.Field = fieldName(fieldType)
			return err
		}
	}

	return nil
}

// fieldName prefers the json name so messages match request bodies
func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return f.Name
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) *FieldError {
	rules := strings.Split(tag, ",")

	for _, rule := range rules {
		ruleName, param, _ := strings.Cut(rule, "=")

		switch ruleName {
		case "required":
			if field.IsZero() {
				return &FieldError{Rule: ruleName, Msg: "field is required"}
			}

		case "len":
			n, err := strconv.Atoi(param)
			if err != nil {
				continue
			}
			if l, ok := length(field); ok && l != n {
				return &FieldError{Rule: ruleName, Msg: fmt.Sprintf("length must be %d, got %d", n, l)}
			}

		case "hex":
			if field.Kind() != reflect.String {
				continue
			}
			if _, err := hex.DecodeString(field.String()); err != nil {
				return &FieldError{Rule: ruleName, Msg: "must contain only hex characters"}
			}

		case "oneof":
			options := strings.Fields(param)
			got := fmt.Sprint(field.Interface())
			if !contains(options, got) {
				return &FieldError{Rule: ruleName, Msg: fmt.Sprintf("must be one of [%s]", strings.Join(options, " "))}
			}

		case "min", "max":
			limit, err := strconv.ParseFloat(param, 64)
			if err != nil {
				continue
			}
			n, ok := number(field)
			if !ok {
				continue
			}
			if ruleName == "min" && n < limit {
				return &FieldError{Rule: ruleName, Msg: fmt.Sprintf("must be at least %s", param)}
			}
			if ruleName == "max" && n > limit {
				return &FieldError{Rule: ruleName, Msg: fmt.Sprintf("must be at most %s", param)}
			}
		}
	}

	return nil
}

func length(field reflect.Value) (int, bool) {
	switch field.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return field.Len(), true
	default:
		return 0, false
	}
}

func number(field reflect.Value) (float64, bool) {
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(field.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(field.Uint()), true
	case reflect.Float32, reflect.Float64:
		return field.Float(), true
	default:
		return 0, false
	}
}

func contains(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}
