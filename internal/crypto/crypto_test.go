package crypto

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := "tradovate-api-secret-0123456789"
	password := "correct horse battery staple"

	blob, err := EncryptSecret(secret, password)
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	got, err := DecryptSecret(blob, password)
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != secret {
		t.Fatalf("round trip = %q, want %q", got, secret)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("secret", "right")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Fatal("wrong password decrypted successfully")
	}
}

func TestEncryptRequiresInputs(t *testing.T) {
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Fatal("empty secret accepted")
	}
	if _, err := EncryptSecret("secret", ""); err == nil {
		t.Fatal("empty password accepted")
	}
}

func TestHMACHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "plain-secret"}

	h1 := auth.HeadersAt("POST", "/orders", `{"qty":1}`, 1700000000)
	h2 := auth.HeadersAt("POST", "/orders", `{"qty":1}`, 1700000000)
	if h1["X-API-SIGNATURE"] != h2["X-API-SIGNATURE"] {
		t.Fatal("same inputs produced different signatures")
	}
	if h1["X-API-KEY"] != "key-1" || h1["X-API-TIMESTAMP"] != "1700000000" {
		t.Fatalf("headers = %v", h1)
	}

	// Any input change changes the signature.
	h3 := auth.HeadersAt("POST", "/orders", `{"qty":2}`, 1700000000)
	if h1["X-API-SIGNATURE"] == h3["X-API-SIGNATURE"] {
		t.Fatal("different body produced same signature")
	}
}

func TestHMACStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "super-secret-value"}
	s := auth.String()
	if strings.Contains(s, "super-secret-value") || strings.Contains(s, "key-123456") {
		t.Fatalf("String leaked credentials: %s", s)
	}
}
