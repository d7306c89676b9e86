package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/mail"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxGotLength = 64

// FieldRule checks a single field of a record. value is nil when the field
// is absent. The returned error message names the violated constraint.
type FieldRule interface {
	Field() string
	Check(value json.RawMessage) error
}

// Chain applies every rule to a record and collects all violations.
type Chain struct {
	rules []FieldRule
}

// NewChain constructs a rule chain.
func NewChain(rules ...FieldRule) *Chain {
	return &Chain{rules: rules}
}

// Check runs all rules against record, the index-th element of the batch.
func (c *Chain) Check(index int, record map[string]json.RawMessage) []Error {
	if c == nil {
		return nil
	}
	var errs []Error
	id := recordID(record)
	for _, rule := range c.rules {
		value, ok := record[rule.Field()]
		if !ok {
			value = nil
		}
		if err := rule.Check(value); err != nil {
			errs = append(errs, &FieldError{
				Index:      index,
				RecordID:   id,
				Field:      rule.Field(),
				Constraint: err.Error(),
				Got:        truncate(value),
			})
		}
	}
	return errs
}

// UserRules returns the constraints of a users record.
func UserRules() []FieldRule {
	return []FieldRule{
		Integer("id"),
		String("uuid", isUUID),
		String("firstname", nil),
		String("lastname", nil),
		String("username", nil),
		String("password", nil),
		String("email", isEmail),
		String("ip", isIP),
		String("macAddress", isMAC),
		String("website", isHTTPURL),
		String("image", isHTTPURL),
		Nullable("pipeline_id", nil),
		NullableTimestamp("pipeline_timestamp"),
	}
}

type ruleFunc struct {
	field string
	check func(json.RawMessage) error
}

func (r ruleFunc) Field() string                     { return r.field }
func (r ruleFunc) Check(value json.RawMessage) error { return r.check(value) }

var (
	errRequired = errors.New("field required")
	errNull     = errors.New("must not be null")
)

// Integer requires a JSON integer.
func Integer(field string) FieldRule {
	return ruleFunc{field: field, check: func(value json.RawMessage) error {
		if err := present(value); err != nil {
			return err
		}
		dec := json.NewDecoder(bytes.NewReader(value))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return errors.New("must be an integer")
		}
		n, ok := v.(json.Number)
		if !ok {
			return errors.New("must be an integer")
		}
		if _, err := n.Int64(); err != nil {
			return errors.New("must be an integer")
		}
		return nil
	}}
}

// String requires a JSON string satisfying check, when check is not nil.
func String(field string, check func(string) error) FieldRule {
	return ruleFunc{field: field, check: func(value json.RawMessage) error {
		if err := present(value); err != nil {
			return err
		}
		s, err := decodeString(value)
		if err != nil {
			return err
		}
		if check != nil {
			return check(s)
		}
		return nil
	}}
}

// Nullable accepts an absent or null field, or a string satisfying check.
func Nullable(field string, check func(string) error) FieldRule {
	return ruleFunc{field: field, check: func(value json.RawMessage) error {
		if isNull(value) {
			return nil
		}
		s, err := decodeString(value)
		if err != nil {
			return err
		}
		if check != nil {
			return check(s)
		}
		return nil
	}}
}

// NullableTimestamp accepts an absent or null field, or an RFC 3339 timestamp.
func NullableTimestamp(field string) FieldRule {
	return Nullable(field, func(s string) error {
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return errors.New("must be an RFC 3339 timestamp")
		}
		return nil
	})
}

func present(value json.RawMessage) error {
	if value == nil {
		return errRequired
	}
	if isNull(value) {
		return errNull
	}
	return nil
}

func isNull(value json.RawMessage) bool {
	trimmed := bytes.TrimSpace(value)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeString(value json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", errors.New("must be a string")
	}
	return s, nil
}

func isUUID(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return errors.New("must be a valid UUID")
	}
	return nil
}

func isEmail(s string) error {
	invalid := errors.New("must be a valid email address")

	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return invalid
	}
	at := strings.LastIndexByte(s, '@')
	domain := s[at+1:]
	if at < 1 || !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return invalid
	}
	return nil
}

func isIP(s string) error {
	if _, err := netip.ParseAddr(s); err != nil {
		return errors.New("must be a valid IPv4 or IPv6 address")
	}
	return nil
}

func isMAC(s string) error {
	if _, err := net.ParseMAC(s); err != nil {
		return errors.New("must be a valid MAC address")
	}
	return nil
}

func isHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

func recordID(record map[string]json.RawMessage) string {
	if v, ok := record["id"]; ok && !isNull(v) {
		return truncate(v)
	}
	return "?"
}

func truncate(value json.RawMessage) string {
	s := string(bytes.TrimSpace(value))
	if len(s) > maxGotLength {
		return s[:maxGotLength] + "..."
	}
	return s
}
