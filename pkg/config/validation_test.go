package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAPIURL(t *testing.T) {
	testCases := []struct {
		value string
		ok    bool
	}{
		{"", false},
		{"ftp://example.com", false},
		{"example.com/report", false},
		{"http://", false},
		{"http://exa mple.com", false},
		{"http://localhost:8080/report", true},
		{"https://report.example/api/build?x=1", true},
	}
	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			r := CheckAPIURL(tc.value)
			assert.Equal(t, tc.ok, r.IsOK(), r.Message)
			if !tc.ok {
				assert.NotEmpty(t, r.Message)
			}
		})
	}
}

func TestCheckMicroServiceID(t *testing.T) {
	assert.True(t, CheckMicroServiceID("17").IsOK())
	assert.True(t, CheckMicroServiceID("-3").IsOK())

	empty := CheckMicroServiceID("")
	assert.Equal(t, KindError, empty.Kind)
	assert.Equal(t, "microServiceId must not be empty", empty.Message)

	for _, v := range []string{"abc", "1.5", " 17", "99999999999"} {
		r := CheckMicroServiceID(v)
		assert.False(t, r.IsOK(), v)
		assert.Equal(t, "microServiceId must be an integer", r.Message)
	}
}

func TestCheckSignature(t *testing.T) {
	assert.True(t, CheckSignature("abc123").IsOK())
	assert.Equal(t, "error: signature must not be empty", CheckSignature("").String())
}

func TestCheckField(t *testing.T) {
	r, err := CheckField(FieldAPIURL, "https://x.example")
	require.NoError(t, err)
	assert.True(t, r.IsOK())

	r, err = CheckField(FieldMicroServiceID, "x")
	require.NoError(t, err)
	assert.False(t, r.IsOK())

	_, err = CheckField("color", "blue")
	assert.Error(t, err)
}

func TestNotifierConfigValidate(t *testing.T) {
	assert.NoError(t, NotifierConfig{MicroServiceID: "17", Signature: "s"}.Validate())
	assert.Error(t, NotifierConfig{MicroServiceID: "abc", Signature: "s"}.Validate())
	assert.Error(t, NotifierConfig{MicroServiceID: "17"}.Validate())
	assert.Error(t, validate.Struct(NotifierConfig{MicroServiceID: "abc", Signature: "s"}))
	assert.NoError(t, validate.Struct(NotifierConfig{MicroServiceID: "17", Signature: "s"}))
}

func TestParseMicroServiceID(t *testing.T) {
	n, err := ParseMicroServiceID("17")
	require.NoError(t, err)
	assert.Equal(t, 17, n)

	_, err = ParseMicroServiceID("2147483648")
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	f := &File{
		Global: Global{APIURL: "https://report.example"},
		Jobs: map[string]JobConfig{
			"b": {Publishers: Steps{WatchdogStep{NotifierConfig{MicroServiceID: "abc", Signature: ""}}}},
			"a": {Publishers: Steps{MailerStep{}, WatchdogStep{NotifierConfig{MicroServiceID: "1", Signature: "s"}}}},
		},
	}

	reports := Inspect(f)
	require.Len(t, reports, 5)
	assert.Equal(t, "global.api_url", reports[0].Field)
	assert.True(t, reports[0].Result.IsOK())
	assert.Equal(t, "jobs.a.publishers[1].micro_service_id", reports[1].Field)
	assert.True(t, reports[1].Result.IsOK())
	assert.Equal(t, "jobs.b.publishers[0].micro_service_id", reports[3].Field)
	assert.False(t, reports[3].Result.IsOK())
	assert.False(t, reports[4].Result.IsOK())
}

func TestValidateSettings(t *testing.T) {
	assert.NoError(t, ValidateSettings(Settings{Global: DefaultGlobalConfig()}))

	bad := DefaultGlobalConfig()
	bad.LogFormat = "xml"
	err := ValidateSettings(Settings{Global: bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "global.LogFormat")

	err = ValidateSettings(Settings{Global: DefaultGlobalConfig(), Proxy: &ProxyConfig{Port: 80}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy.Host")
}
