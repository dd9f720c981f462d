package security

import (
	"bytes"
	"testing"
)

func testKEK() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestHostCredentialCipherRoundTrip(t *testing.T) {
	c, err := NewHostCredentialCipher(testKEK())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	plaintext := []byte(`{"access_token":"secret","refresh_token":"also-secret"}`)

	ciphertext, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypt = %q, want %q", got, plaintext)
	}
}

func TestHostCredentialCipherNonceUniqueness(t *testing.T) {
	c, err := NewHostCredentialCipher(testKEK())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	plaintext := []byte("same-plaintext")

	a, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt a: %v", err)
	}
	b, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt b: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext; nonce reuse")
	}
}

func TestHostCredentialCipherWrongKeyFails(t *testing.T) {
	c1, err := NewHostCredentialCipher(testKEK())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	otherKey := bytes.Repeat([]byte{0x24}, 32)
	c2, err := NewHostCredentialCipher(otherKey)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	ciphertext, err := c1.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := c2.Decrypt(ciphertext); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	}
}

func TestHostCredentialCipherRejectsTruncatedCiphertext(t *testing.T) {
	c, err := NewHostCredentialCipher(testKEK())
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	if _, err := c.Decrypt([]byte{0x01, 0x02}); err != ErrCiphertextTooShort {
		t.Fatalf("err = %v, want %v", err, ErrCiphertextTooShort)
	}
}
