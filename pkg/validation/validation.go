// Package validation wraps go-playground/validator with the rules metered
// configuration and HTTP requests need: Prometheus metric names and channel
// kinds.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is the shared validator instance with custom rules registered.
var Validate *validator.Validate

var metricNamePattern = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// ChannelKinds lists the values accepted by the channel_kind rule.
var ChannelKinds = []string{"queue", "broadcast", "watch"}

func init() {
	Validate = validator.New()

	Validate.RegisterValidation("metric_name", validateMetricName)
	Validate.RegisterValidation("channel_kind", validateChannelKind)

	// Report json field names
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
}

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value"`
	Message string      `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Struct validates s against its validate tags. Field failures come back as
// ValidationErrors; anything else (e.g. a non-struct argument) is returned as is.
func Struct(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	out := make(ValidationErrors, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Value:   fe.Value(),
			Message: getErrorMessage(fe),
		})
	}
	return out
}

// MetricName checks a single metric name outside of a struct.
func MetricName(name string) error {
	if err := Validate.Var(name, "required,metric_name"); err != nil {
		return ValidationError{Field: "name", Value: name, Message: "must be a valid Prometheus metric name"}
	}
	return nil
}

// MarshalValidationErrors marshals validation errors to JSON
func MarshalValidationErrors(errs ValidationErrors) ([]byte, error) {
	type ErrorResponse struct {
		Errors []ValidationError `json:"errors"`
		Count  int               `json:"count"`
	}
	return json.Marshal(ErrorResponse{Errors: errs, Count: len(errs)})
}

func getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("minimum value/length is %s", fe.Param())
	case "max":
		return fmt.Sprintf("maximum value/length is %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "hostname_port":
		return "must be a host:port address"
	case "metric_name":
		return "must be a valid Prometheus metric name"
	case "channel_kind":
		return fmt.Sprintf("must be one of %s", strings.Join(ChannelKinds, ", "))
	default:
		return fmt.Sprintf("validation failed: %s", fe.Tag())
	}
}

// validateMetricName accepts names matching the Prometheus metric name grammar.
func validateMetricName(fl validator.FieldLevel) bool {
	return metricNamePattern.MatchString(fl.Field().String())
}

func validateChannelKind(fl validator.FieldLevel) bool {
	kind := fl.Field().String()
	for _, k := range ChannelKinds {
		if kind == k {
			return true
		}
	}
	return false
}
