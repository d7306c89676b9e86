// Package validator turns a raw users payload into a typed batch, or into the
// list of reasons it was rejected.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/telhawk-systems/telhawk-etl/etl/internal/metrics"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/models"
)

// Kind distinguishes payload shape problems from record content problems.
type Kind string

const (
	KindSchema Kind = "SchemaError"
	KindField  Kind = "FieldValidationError"
)

// Error is one validation failure.
type Error interface {
	error
	Kind() Kind
}

// SchemaError reports a payload whose top-level shape is wrong.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return fmt.Sprintf("%s: %s", KindSchema, e.Reason) }
func (e *SchemaError) Kind() Kind    { return KindSchema }

// FieldError reports a single record field that violates its constraint.
type FieldError struct {
	Index      int
	RecordID   string
	Field      string
	Constraint string
	Got        string
}

func (e *FieldError) Error() string {
	msg := fmt.Sprintf("%s: record[%d] (id=%s)", KindField, e.Index, e.RecordID)
	if e.Field != "" {
		msg += " " + e.Field
	}
	msg += ": " + e.Constraint
	if e.Got != "" {
		msg += fmt.Sprintf(" (got %s)", e.Got)
	}
	return msg
}

func (e *FieldError) Kind() Kind { return KindField }

// Result is either Valid or Invalid.
type Result interface {
	isResult()
}

// Valid carries a non-empty batch in payload order.
type Valid struct {
	Batch models.Batch
}

// Invalid carries every error found in the payload.
type Invalid struct {
	Errors []Error
}

func (Valid) isResult()   {}
func (Invalid) isResult() {}

// Messages renders the errors as strings.
func (i Invalid) Messages() []string {
	out := make([]string, len(i.Errors))
	for n, err := range i.Errors {
		out[n] = err.Error()
	}
	return out
}

// HasKind reports whether any error is of kind k.
func (i Invalid) HasKind(k Kind) bool {
	for _, err := range i.Errors {
		if err.Kind() == k {
			return true
		}
	}
	return false
}

// Validator checks payloads with a chain of field rules.
type Validator struct {
	chain *Chain
}

// New returns a Validator using rules, or the default user rules when none
// are given.
func New(rules ...FieldRule) *Validator {
	if len(rules) == 0 {
		rules = UserRules()
	}
	return &Validator{chain: NewChain(rules...)}
}

// Validate parses raw and checks every record independently. Any violation
// rejects the whole batch. Unknown keys are ignored.
func (v *Validator) Validate(raw []byte) Result {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return schemaFailure("payload must be a JSON object")
	}

	data, ok := top["data"]
	if !ok {
		return schemaFailure("data: field required")
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return schemaFailure("data: must be an array")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return schemaFailure("data: " + err.Error())
	}
	if len(items) == 0 {
		return schemaFailure("data: contains no records")
	}

	var errs []Error
	batch := make(models.Batch, 0, len(items))
	for i, item := range items {
		var record map[string]json.RawMessage
		if err := json.Unmarshal(item, &record); err != nil || record == nil {
			errs = append(errs, &FieldError{Index: i, RecordID: "?", Constraint: "record must be a JSON object", Got: truncate(item)})
			continue
		}

		if violations := v.chain.Check(i, record); len(violations) > 0 {
			errs = append(errs, violations...)
			continue
		}

		var user models.User
		if err := json.Unmarshal(item, &user); err != nil {
			errs = append(errs, &FieldError{Index: i, RecordID: recordID(record), Constraint: err.Error()})
			continue
		}
		batch = append(batch, user)
	}

	metrics.RecordsValidated.WithLabelValues("valid").Add(float64(len(batch)))
	metrics.RecordsValidated.WithLabelValues("invalid").Add(float64(len(items) - len(batch)))

	if len(errs) > 0 {
		metrics.ValidationErrors.WithLabelValues(string(KindField)).Add(float64(len(errs)))
		return Invalid{Errors: errs}
	}
	return Valid{Batch: batch}
}

func schemaFailure(reason string) Invalid {
	metrics.ValidationErrors.WithLabelValues(string(KindSchema)).Inc()
	return Invalid{Errors: []Error{&SchemaError{Reason: reason}}}
}
