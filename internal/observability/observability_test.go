package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		endpoint string
		insecure bool
	}{
		{"collector:4318", "collector:4318", true},
		{"http://collector:4318", "collector:4318", true},
		{"https://otlp.example.com", "otlp.example.com", false},
	}
	for _, tc := range cases {
		endpoint, insecure := splitEndpoint(tc.raw)
		assert.Equal(t, tc.endpoint, endpoint, tc.raw)
		assert.Equal(t, tc.insecure, insecure, tc.raw)
	}
}

func TestParseHeaders(t *testing.T) {
	assert.Nil(t, parseHeaders(""))

	headers := parseHeaders("authorization=Bearer tok, x-tenant=acme,malformed")
	assert.Equal(t, map[string]string{
		"authorization": "Bearer tok",
		"x-tenant":      "acme",
	}, headers)
}
