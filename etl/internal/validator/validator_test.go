package validator

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecord = `{
	"id": 1,
	"uuid": "8ddd6660-3543-3cfc-bc7c-4fa0bff3b448",
	"firstname": "Murphy",
	"lastname": "Walter",
	"username": "mckenzie97",
	"password": "jQb-);RX\"",
	"email": "jacobson.anderson@effertz.org",
	"ip": "156.168.202.126",
	"macAddress": "10:51:9d:a9:51:5e",
	"website": "http://schulist.org/",
	"image": "http://placeimg.com/640/480/people"
}`

func fakeRecord(f *gofakeit.Faker, id int) map[string]any {
	ip := f.IPv4Address()
	if id%2 == 0 {
		ip = f.IPv6Address()
	}
	return map[string]any{
		"id":         id,
		"uuid":       f.UUID(),
		"firstname":  f.FirstName(),
		"lastname":   f.LastName(),
		"username":   f.Username(),
		"password":   f.Password(true, true, true, true, false, 12),
		"email":      f.Email(),
		"ip":         ip,
		"macAddress": f.MacAddress(),
		"website":    f.URL(),
		"image":      f.URL(),
	}
}

func payload(t *testing.T, records ...map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"status": "OK",
		"code":   200,
		"total":  len(records),
		"data":   records,
	})
	require.NoError(t, err)
	return b
}

func fakeRecords(n int) []map[string]any {
	f := gofakeit.New(42)
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = fakeRecord(f, i+1)
	}
	return out
}

func TestValidate_SampleRecord(t *testing.T) {
	raw := []byte(`{"status":"OK","data":[` + sampleRecord + `]}`)

	result := New().Validate(raw)

	valid, ok := result.(Valid)
	require.True(t, ok, "expected Valid, got %#v", result)
	require.Len(t, valid.Batch, 1)

	user := valid.Batch[0]
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "Murphy", user.Firstname)
	assert.Equal(t, `jQb-);RX"`, user.Password)
	assert.Equal(t, "10:51:9d:a9:51:5e", user.MacAddress)
	assert.Nil(t, user.PipelineID)
	assert.Nil(t, user.PipelineTimestamp)
}

func TestValidate_AllValidKeepsLengthAndOrder(t *testing.T) {
	for _, n := range []int{1, 10, 100} {
		t.Run(fmt.Sprintf("%d records", n), func(t *testing.T) {
			records := fakeRecords(n)

			result := New().Validate(payload(t, records...))

			valid, ok := result.(Valid)
			require.True(t, ok, "expected Valid, got %#v", result)
			require.Len(t, valid.Batch, n)
			for i, user := range valid.Batch {
				assert.Equal(t, int64(i+1), user.ID)
				assert.Equal(t, records[i]["email"], user.Email)
			}
		})
	}
}

func TestValidate_UnknownKeysIgnored(t *testing.T) {
	records := fakeRecords(2)
	records[0]["favourite_colour"] = "teal"

	raw, err := json.Marshal(map[string]any{"data": records, "locale": "en_GB", "seed": nil})
	require.NoError(t, err)

	_, ok := New().Validate(raw).(Valid)
	assert.True(t, ok)
}

func TestValidate_SchemaErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{name: "missing data", raw: `{"status":"OK"}`, reason: "data: field required"},
		{name: "data is object", raw: `{"data":{"id":1}}`, reason: "data: must be an array"},
		{name: "data is null", raw: `{"data":null}`, reason: "data: must be an array"},
		{name: "data is string", raw: `{"data":"[]"}`, reason: "data: must be an array"},
		{name: "empty data", raw: `{"data":[]}`, reason: "data: contains no records"},
		{name: "top level array", raw: `[{"id":1}]`, reason: "payload must be a JSON object"},
		{name: "top level null", raw: `null`, reason: "payload must be a JSON object"},
		{name: "not json", raw: `<html>`, reason: "payload must be a JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := New().Validate([]byte(tt.raw))

			invalid, ok := result.(Invalid)
			require.True(t, ok, "expected Invalid, got %#v", result)
			require.Len(t, invalid.Errors, 1)
			assert.Equal(t, KindSchema, invalid.Errors[0].Kind())
			assert.True(t, invalid.HasKind(KindSchema))
			assert.False(t, invalid.HasKind(KindField))
			assert.Equal(t, "SchemaError: "+tt.reason, invalid.Messages()[0])
		})
	}
}

func TestValidate_OneBadRecordRejectsBatch(t *testing.T) {
	records := fakeRecords(10)
	records[6]["email"] = "not-an-email"

	result := New().Validate(payload(t, records...))

	invalid, ok := result.(Invalid)
	require.True(t, ok, "expected Invalid, got %#v", result)
	require.Len(t, invalid.Errors, 1)

	var fieldErr *FieldError
	require.ErrorAs(t, invalid.Errors[0], &fieldErr)
	assert.Equal(t, 6, fieldErr.Index)
	assert.Equal(t, "7", fieldErr.RecordID)
	assert.Equal(t, "email", fieldErr.Field)
	assert.Equal(t, KindField, fieldErr.Kind())
	assert.Equal(t,
		`FieldValidationError: record[6] (id=7) email: must be a valid email address (got "not-an-email")`,
		fieldErr.Error())
}

func TestValidate_FieldConstraints(t *testing.T) {
	tests := []struct {
		field      string
		value      any
		constraint string
	}{
		{"id", "1", "must be an integer"},
		{"id", 1.5, "must be an integer"},
		{"id", nil, "must not be null"},
		{"uuid", "not-a-uuid", "must be a valid UUID"},
		{"firstname", 42, "must be a string"},
		{"email", "Murphy <murphy@example.com>", "must be a valid email address"},
		{"email", "murphy@localhost", "must be a valid email address"},
		{"email", "@example.com", "must be a valid email address"},
		{"ip", "300.1.1.1", "must be a valid IPv4 or IPv6 address"},
		{"ip", "", "must be a valid IPv4 or IPv6 address"},
		{"macAddress", "10:51:9d:a9:51", "must be a valid MAC address"},
		{"website", "schulist.org", "must be an absolute http(s) URL"},
		{"image", "ftp://placeimg.com/1.png", "must be an absolute http(s) URL"},
		{"pipeline_id", 7, "must be a string"},
		{"pipeline_timestamp", "yesterday", "must be an RFC 3339 timestamp"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s=%v", tt.field, tt.value), func(t *testing.T) {
			records := fakeRecords(1)
			records[0][tt.field] = tt.value

			invalid, ok := New().Validate(payload(t, records...)).(Invalid)
			require.True(t, ok)
			require.Len(t, invalid.Errors, 1)

			var fieldErr *FieldError
			require.ErrorAs(t, invalid.Errors[0], &fieldErr)
			assert.Equal(t, tt.field, fieldErr.Field)
			assert.Equal(t, tt.constraint, fieldErr.Constraint)
		})
	}
}

func TestValidate_MissingField(t *testing.T) {
	records := fakeRecords(1)
	delete(records[0], "username")

	invalid, ok := New().Validate(payload(t, records...)).(Invalid)
	require.True(t, ok)
	require.Len(t, invalid.Errors, 1)
	assert.Contains(t, invalid.Errors[0].Error(), "username: field required")
}

func TestValidate_ProvenanceAlreadySet(t *testing.T) {
	records := fakeRecords(1)
	records[0]["pipeline_id"] = "2024_05_01__13_45_00_aZ3kQ9xP2m"
	records[0]["pipeline_timestamp"] = "2024-05-01T13:45:00Z"

	valid, ok := New().Validate(payload(t, records...)).(Valid)
	require.True(t, ok)
	require.True(t, valid.Batch[0].Stamped())
}

func TestValidate_CollectsErrorsAcrossRecords(t *testing.T) {
	records := fakeRecords(5)
	records[0]["ip"] = "localhost"
	records[0]["uuid"] = "nope"
	records[3]["website"] = "nope"

	invalid, ok := New().Validate(payload(t, records...)).(Invalid)
	require.True(t, ok)
	assert.Len(t, invalid.Errors, 3)
	for _, msg := range invalid.Messages() {
		assert.True(t, strings.HasPrefix(msg, "FieldValidationError: "))
	}
}

func TestValidate_NonObjectRecord(t *testing.T) {
	raw := []byte(`{"data":[` + sampleRecord + `, 42, null]}`)

	invalid, ok := New().Validate(raw).(Invalid)
	require.True(t, ok)
	require.Len(t, invalid.Errors, 2)
	assert.Equal(t, "FieldValidationError: record[1] (id=?): record must be a JSON object (got 42)", invalid.Errors[0].Error())
	assert.Equal(t, "FieldValidationError: record[2] (id=?): record must be a JSON object (got null)", invalid.Errors[1].Error())
}

func TestNew_CustomRules(t *testing.T) {
	v := New(Integer("id"))

	valid, ok := v.Validate([]byte(`{"data":[{"id":3,"email":"whatever"}]}`)).(Valid)
	require.True(t, ok)
	assert.Equal(t, int64(3), valid.Batch[0].ID)
}

func TestChain_NilIsNoop(t *testing.T) {
	var c *Chain
	assert.Nil(t, c.Check(0, map[string]json.RawMessage{}))
}

func TestTruncate(t *testing.T) {
	long := json.RawMessage(`"` + strings.Repeat("x", 100) + `"`)
	got := truncate(long)
	assert.Len(t, got, maxGotLength+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
