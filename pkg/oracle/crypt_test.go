package oracle_test

import (
	"bytes"
	"testing"

	"cipherfeed/pkg/oracle"
)

func TestKeysetSealOpenRoundTrip(t *testing.T) {
	ks, err := oracle.NewKeyset("", "")
	if err != nil {
		t.Fatalf("new keyset: %v", err)
	}
	defer ks.Zero()

	plain := []byte("comedy")
	handle, err := ks.Seal(plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(handle, plain) {
		t.Fatal("handle leaks plaintext")
	}
	got, err := ks.Open(handle)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestKeysetOpenRejectsForeignHandle(t *testing.T) {
	a, err := oracle.NewKeyset("", "")
	if err != nil {
		t.Fatalf("keyset a: %v", err)
	}
	b, err := oracle.NewKeyset("", "")
	if err != nil {
		t.Fatalf("keyset b: %v", err)
	}
	handle, err := a.Seal([]byte("x"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.Open(handle); err == nil {
		t.Fatal("open should fail under a different master key")
	}
}

func TestKeysetRejectsBadMasterKey(t *testing.T) {
	if _, err := oracle.NewKeyset("zz", ""); err == nil {
		t.Fatal("expected error for non-hex master key")
	}
	if _, err := oracle.NewKeyset("abcd", ""); err == nil {
		t.Fatal("expected error for short master key")
	}
}

func TestProofVerify(t *testing.T) {
	hexKey, err := oracle.GenerateKeyHex()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	ks, err := oracle.NewKeyset("", hexKey)
	if err != nil {
		t.Fatalf("keyset: %v", err)
	}
	plain := []byte(`{"category":"news"}`)
	proof := ks.Proof("req-1", plain)

	if !ks.VerifyProof("req-1", plain, proof) {
		t.Fatal("valid proof rejected")
	}
	if ks.VerifyProof("req-2", plain, proof) {
		t.Fatal("proof accepted for a different request id")
	}
	if ks.VerifyProof("req-1", []byte(`{"category":"tech"}`), proof) {
		t.Fatal("proof accepted for different plaintext")
	}
	if ks.VerifyProof("req-1", plain, "not-hex") {
		t.Fatal("malformed proof accepted")
	}

	// A verification-only keyset under the same proof key agrees.
	vk, err := oracle.NewProofKeyset(hexKey)
	if err != nil {
		t.Fatalf("proof keyset: %v", err)
	}
	if !vk.VerifyProof("req-1", plain, proof) {
		t.Fatal("verifier keyset rejected valid proof")
	}
	if _, err := vk.Seal([]byte("x")); err != oracle.ErrNoMasterKey {
		t.Fatalf("expected ErrNoMasterKey, got %v", err)
	}
}
