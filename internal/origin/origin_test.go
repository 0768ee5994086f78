package origin

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name       string
		in         string
		normalized string
		host       string
		ok         bool
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM", "https://example.com", "example.com", true},
		{"strips default https port", "https://example.com:443", "https://example.com", "example.com", true},
		{"strips default http port", "http://example.com:80", "http://example.com", "example.com", true},
		{"keeps non-default port", "http://localhost:5173", "http://localhost:5173", "localhost:5173", true},
		{"allows trailing slash", "http://localhost:5173/", "http://localhost:5173", "localhost:5173", true},
		{"allows null origin", "null", "null", "", true},
		{"brackets ipv6", "https://[2001:db8::1]:8443", "https://[2001:db8::1]:8443", "[2001:db8::1]:8443", true},
		{"rejects empty", "", "", "", false},
		{"rejects ftp scheme", "ftp://example.com", "", "", false},
		{"rejects path", "https://example.com/path", "", "", false},
		{"rejects query", "https://example.com/?q=1", "", "", false},
		{"rejects credentials", "https://user@example.com", "", "", false},
		{"rejects fragment", "https://example.com/#frag", "", "", false},
		{"rejects zero port", "https://example.com:0", "", "", false},
		{"rejects unbracketed ipv6", "https://2001:db8::1", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, host, ok := Normalize(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok=%v, want %v", ok, tc.ok)
			}
			if normalized != tc.normalized || host != tc.host {
				t.Fatalf("got (%q, %q), want (%q, %q)", normalized, host, tc.normalized, tc.host)
			}
		})
	}
}

func TestIsAllowed_SameHostDefault(t *testing.T) {
	normalized, host, ok := Normalize("https://app.example.com")
	if !ok {
		t.Fatalf("Normalize ok=false")
	}
	if !IsAllowed(normalized, host, "app.example.com", nil) {
		t.Fatalf("expected same-host to be allowed")
	}
	if !IsAllowed(normalized, host, "app.example.com:443", nil) {
		t.Fatalf("expected default https port on request host to be equivalent")
	}
	if IsAllowed(normalized, host, "other.example.com", nil) {
		t.Fatalf("expected different host to be rejected")
	}
	if IsAllowed(normalized, host, "app.example.com:8443", nil) {
		t.Fatalf("expected different port to be rejected")
	}
}

func TestIsAllowed_ExplicitList(t *testing.T) {
	normalized, host, ok := Normalize("https://app.example.com")
	if !ok {
		t.Fatalf("Normalize ok=false")
	}
	if !IsAllowed(normalized, host, "relay.example.com", []string{"https://app.example.com"}) {
		t.Fatalf("expected explicit origin to be allowed")
	}
	if IsAllowed(normalized, host, "relay.example.com", []string{"https://other.example.com"}) {
		t.Fatalf("expected non-matching origin to be rejected")
	}
	if !IsAllowed(normalized, host, "whatever:1234", []string{"*"}) {
		t.Fatalf("expected * to allow any origin")
	}
}

func TestIsAllowed_NullOrigin(t *testing.T) {
	normalized, host, ok := Normalize("null")
	if !ok {
		t.Fatalf("Normalize ok=false")
	}
	if IsAllowed(normalized, host, "relay.example.com", nil) {
		t.Fatalf("expected null origin to be rejected by default")
	}
	if !IsAllowed(normalized, host, "relay.example.com", []string{"null"}) {
		t.Fatalf("expected null origin to be allowed when configured")
	}
}
