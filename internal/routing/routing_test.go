package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/cascade/internal/channel"
)

var (
	sms   = channel.KindSMS
	email = channel.KindEmail
	push  = channel.KindPush
	inbox = channel.KindInbox
)

func TestDefault_Resolve(t *testing.T) {
	table := Default()

	tests := []struct {
		eventType string
		want      []channel.Kind
	}{
		{"Beneficiary Added Alert", []channel.Kind{sms, push, email}},
		{"Fraud Alert", []channel.Kind{sms, push, email}},
		{"Login OTP", []channel.Kind{sms, push, email}},
		{"Transaction OTP", []channel.Kind{sms, push, email}},
		{"KYC Reminder", []channel.Kind{push, sms}},
		{"Monthly Statement", []channel.Kind{email, push}},
		{"Low Balance Alert", []channel.Kind{push, sms}},
		{"Reward Points Update", []channel.Kind{push, email}},
		{"Unknown Event XYZ", []channel.Kind{sms}},
		{"", []channel.Kind{sms}},
		{"fraud alert", []channel.Kind{sms}},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Resolve(tt.eventType))
		})
	}
}

func TestResolve_IsStableAndIsolated(t *testing.T) {
	table := Default()

	first := table.Resolve("Fraud Alert")
	first[0] = inbox

	assert.Equal(t, []channel.Kind{sms, push, email}, table.Resolve("Fraud Alert"))
	assert.Equal(t, table.Resolve("Monthly Statement"), table.Resolve("Monthly Statement"))

	fb := table.Resolve("nope")
	fb[0] = inbox
	assert.Equal(t, []channel.Kind{sms}, table.Fallback())
}

func TestNew_CopiesInput(t *testing.T) {
	rules := map[string][]channel.Kind{"A": {push, email}}
	table, err := New(rules, []channel.Kind{inbox})
	require.NoError(t, err)

	rules["A"][0] = sms
	rules["B"] = []channel.Kind{sms}

	assert.Equal(t, []channel.Kind{push, email}, table.Resolve("A"))
	assert.Equal(t, []channel.Kind{inbox}, table.Resolve("B"))
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		rules    map[string][]channel.Kind
		fallback []channel.Kind
	}{
		{"empty fallback", nil, nil},
		{"empty rule", map[string][]channel.Kind{"A": {}}, []channel.Kind{sms}},
		{"duplicate kind", map[string][]channel.Kind{"A": {sms, sms}}, []channel.Kind{sms}},
		{"unknown kind", map[string][]channel.Kind{"A": {"FAX"}}, []channel.Kind{sms}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.rules, tt.fallback)
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestEventTypes(t *testing.T) {
	types := Default().EventTypes()
	require.Len(t, types, 8)
	assert.Equal(t, "Beneficiary Added Alert", types[0])
	assert.Equal(t, "Transaction OTP", types[len(types)-1])
}

func TestParse(t *testing.T) {
	doc := []byte(`
fallback: [inbox]
rules:
  Fraud Alert: [SMS, push, EMAIL]
  Monthly Statement:
    - EMAIL
`)
	table, err := Parse(doc)
	require.NoError(t, err)

	assert.Equal(t, []channel.Kind{sms, push, email}, table.Resolve("Fraud Alert"))
	assert.Equal(t, []channel.Kind{email}, table.Resolve("Monthly Statement"))
	assert.Equal(t, []channel.Kind{inbox}, table.Resolve("Login OTP"))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("rules:\n  A: [SMS]\n"))
	assert.ErrorIs(t, err, ErrInvalidTable, "missing fallback")

	_, err = Parse([]byte("fallback: [FAX]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("fallback: [SMS\n"))
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallback: [SMS]\nrules:\n  KYC Reminder: [PUSH, SMS]\n"), 0o600))

	table, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []channel.Kind{push, sms}, table.Resolve("KYC Reminder"))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
