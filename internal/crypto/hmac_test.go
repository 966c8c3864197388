package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testAuth() *HMACAuth {
	return &HMACAuth{
		Key:        "api-key",
		Secret:     base64.StdEncoding.EncodeToString([]byte("secret-bytes")),
		Passphrase: "passphrase",
	}
}

func TestHeadersAtDeterministic(t *testing.T) {
	a := testAuth()

	h1 := a.HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1700000000)
	h2 := a.HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1700000000)

	for k, v := range h1 {
		if h2[k] != v {
			t.Errorf("header %s differs: %q != %q", k, v, h2[k])
		}
	}
	if h1["POLY_API_KEY"] != "api-key" || h1["POLY_ADDRESS"] != "0xabc" {
		t.Error("identity headers wrong")
	}
	if h1["POLY_TIMESTAMP"] != "1700000000" {
		t.Errorf("timestamp = %q", h1["POLY_TIMESTAMP"])
	}
	if _, err := base64.StdEncoding.DecodeString(h1["POLY_SIGNATURE"]); err != nil {
		t.Errorf("signature not base64: %v", err)
	}
}

func TestHeadersVaryWithInput(t *testing.T) {
	a := testAuth()

	base := a.HeadersAt("0xabc", "POST", "/order", "body", 1700000000)
	cases := map[string]map[string]string{
		"method": a.HeadersAt("0xabc", "DELETE", "/order", "body", 1700000000),
		"path":   a.HeadersAt("0xabc", "POST", "/other", "body", 1700000000),
		"body":   a.HeadersAt("0xabc", "POST", "/order", "different", 1700000000),
		"time":   a.HeadersAt("0xabc", "POST", "/order", "body", 1700000001),
	}
	for name, h := range cases {
		if h["POLY_SIGNATURE"] == base["POLY_SIGNATURE"] {
			t.Errorf("signature did not change with %s", name)
		}
	}
}

func TestStringRedacts(t *testing.T) {
	a := testAuth()
	s := a.String()
	if strings.Contains(s, a.Secret) {
		t.Error("String leaks the secret")
	}
}
