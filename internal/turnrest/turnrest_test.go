package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestMint_DeterministicWithFixedTime(t *testing.T) {
	m, err := New(Config{
		SharedSecret:   "shared-secret",
		TTL:            time.Hour,
		UsernamePrefix: "roomrelay",
		Now:            func() time.Time { return time.Unix(1_700_000_000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	creds, err := m.Mint("session123")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	wantExpiry := int64(1_700_003_600)
	if creds.ExpiryUnix != wantExpiry {
		t.Fatalf("ExpiryUnix: got %d, want %d", creds.ExpiryUnix, wantExpiry)
	}
	wantUsername := "1700003600:roomrelay:session123"
	if creds.Username != wantUsername {
		t.Fatalf("Username: got %q, want %q", creds.Username, wantUsername)
	}

	mac := hmac.New(sha1.New, []byte("shared-secret"))
	_, _ = mac.Write([]byte(wantUsername))
	wantCred := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if creds.Credential != wantCred {
		t.Fatalf("Credential: got %q, want %q", creds.Credential, wantCred)
	}
}

func TestMint_CredentialIsBase64HMACSHA1(t *testing.T) {
	m, err := New(Config{
		SharedSecret:   "secret",
		TTL:            time.Second,
		UsernamePrefix: "pfx",
		Now:            func() time.Time { return time.Unix(0, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	creds, err := m.Mint("sid")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(creds.Credential)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if len(decoded) != sha1.Size {
		t.Fatalf("decoded length: got %d, want %d", len(decoded), sha1.Size)
	}

	mac := hmac.New(sha1.New, []byte("secret"))
	_, _ = mac.Write([]byte(creds.Username))
	if string(decoded) != string(mac.Sum(nil)) {
		t.Fatalf("decoded HMAC mismatch")
	}
}

func TestMintEphemeral_UsesSessionIDSource(t *testing.T) {
	m, err := New(Config{
		SharedSecret:   "secret",
		TTL:            time.Minute,
		UsernamePrefix: "roomrelay",
		Now:            func() time.Time { return time.Unix(100, 0).UTC() },
		SessionID:      func() string { return "fixed-session" },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	creds, err := m.MintEphemeral()
	if err != nil {
		t.Fatalf("MintEphemeral: %v", err)
	}
	if !strings.HasSuffix(creds.Username, ":fixed-session") {
		t.Fatalf("Username: got %q, want suffix :fixed-session", creds.Username)
	}
}

func TestMint_RejectsColons(t *testing.T) {
	m, err := New(Config{
		SharedSecret:   "secret",
		TTL:            time.Minute,
		UsernamePrefix: "roomrelay",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Mint("a:b"); err == nil {
		t.Fatalf("expected error for sessionID with colon")
	}
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing secret", Config{TTL: time.Minute, UsernamePrefix: "p"}},
		{"zero ttl", Config{SharedSecret: "s", UsernamePrefix: "p"}},
		{"missing prefix", Config{SharedSecret: "s", TTL: time.Minute}},
		{"colon in prefix", Config{SharedSecret: "s", TTL: time.Minute, UsernamePrefix: "a:b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
