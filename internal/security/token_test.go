package security

import "testing"

func TestVerifyGatewayTokenRoundTrip(t *testing.T) {
	hash := HashGatewayToken("plaintext-token", "salt-123")
	if err := VerifyGatewayToken("plaintext-token", "salt-123", hash); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyGatewayTokenRejectsWrongToken(t *testing.T) {
	hash := HashGatewayToken("plaintext-token", "salt-123")
	if err := VerifyGatewayToken("wrong-token", "salt-123", hash); err != ErrInvalidGatewayToken {
		t.Fatalf("err = %v, want %v", err, ErrInvalidGatewayToken)
	}
}

func TestVerifyGatewayTokenRejectsWrongSalt(t *testing.T) {
	hash := HashGatewayToken("plaintext-token", "salt-123")
	if err := VerifyGatewayToken("plaintext-token", "other-salt", hash); err != ErrInvalidGatewayToken {
		t.Fatalf("err = %v, want %v", err, ErrInvalidGatewayToken)
	}
}

func TestCookieSignerVerifierRoundTrip(t *testing.T) {
	secret := []byte("test-secret-at-least-32-bytes!!")
	signer := NewCookieSigner(secret, 0)
	verifier := NewCookieVerifier(secret)

	tok, err := signer.Sign("user-42")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	uid, err := verifier.UserID(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if uid != "user-42" {
		t.Errorf("uid = %q, want %q", uid, "user-42")
	}
}

func TestCookieVerifierRejectsWrongSecret(t *testing.T) {
	signer := NewCookieSigner([]byte("secret-a-that-is-32-bytes-long!"), 0)
	verifier := NewCookieVerifier([]byte("secret-b-that-is-32-bytes-long!"))

	tok, err := signer.Sign("user-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.UserID(tok); err == nil {
		t.Fatal("expected verification to fail with mismatched secret")
	}
}
