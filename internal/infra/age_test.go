package infra

import (
	"bytes"
	"context"
	"testing"
)

func TestAgeSealer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	identity, err := GenerateAgeIdentity()
	if err != nil {
		t.Fatalf("GenerateAgeIdentity failed: %v", err)
	}
	sealer, err := NewAgeSealer(identity + "\n")
	if err != nil {
		t.Fatalf("NewAgeSealer failed: %v", err)
	}

	plaintext := bytes.Repeat([]byte{0x42}, 14*20)
	sealed, err := sealer.Encrypt(ctx, plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("sealed blob contains plaintext")
	}

	opened, err := sealer.Decrypt(ctx, sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("decrypted plaintext does not match")
	}
}

func TestAgeSealer_WrongIdentity(t *testing.T) {
	ctx := context.Background()
	a, _ := GenerateAgeIdentity()
	b, _ := GenerateAgeIdentity()
	sealerA, _ := NewAgeSealer(a)
	sealerB, _ := NewAgeSealer(b)

	sealed, err := sealerA.Encrypt(ctx, []byte("tek snapshot"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := sealerB.Decrypt(ctx, sealed); err == nil {
		t.Error("expected decrypt with another identity to fail")
	}
}

func TestNewAgeSealer_Invalid(t *testing.T) {
	if _, err := NewAgeSealer("not-a-key"); err == nil {
		t.Error("expected error for invalid identity")
	}
}
