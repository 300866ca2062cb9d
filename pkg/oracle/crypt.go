package oracle

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Keyset holds the oracle key material: a 32-byte AES-256-GCM master key for
// sealing/opening handles and an HMAC-SHA256 proof key for callback
// attestation. The remote client runs with only the proof key loaded.
type Keyset struct {
	master []byte
	proof  []byte
	aead   cipher.AEAD
}

// GenerateKeyHex returns a fresh random 32-byte key, hex encoded.
func GenerateKeyHex() (string, error) {
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		return "", err
	}
	return hex.EncodeToString(k), nil
}

// NewKeyset builds a keyset from hex-encoded keys. An empty masterHex or
// proofHex generates an ephemeral random key (dev mode); a non-empty
// masterHex must decode to exactly 32 bytes.
func NewKeyset(masterHex, proofHex string) (*Keyset, error) {
	ks := &Keyset{}

	if masterHex == "" {
		var err error
		if masterHex, err = GenerateKeyHex(); err != nil {
			return nil, err
		}
	}
	master, err := hex.DecodeString(masterHex)
	if err != nil {
		return nil, fmt.Errorf("invalid master key hex: %w", err)
	}
	if len(master) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (64 hex chars), got %d", len(master))
	}
	block, err := aes.NewCipher(master)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ks.master = master
	ks.aead = aead
	// Best effort: keep the master key off swap.
	_ = lockMemory(ks.master)

	if proofHex == "" {
		if proofHex, err = GenerateKeyHex(); err != nil {
			return nil, err
		}
	}
	proof, err := hex.DecodeString(proofHex)
	if err != nil {
		return nil, fmt.Errorf("invalid proof key hex: %w", err)
	}
	if len(proof) == 0 {
		return nil, fmt.Errorf("proof key must not be empty")
	}
	ks.proof = proof
	return ks, nil
}

// NewProofKeyset builds a verification-only keyset. Seal and Open fail with
// ErrNoMasterKey on it.
func NewProofKeyset(proofHex string) (*Keyset, error) {
	if proofHex == "" {
		return nil, fmt.Errorf("proof key hex required")
	}
	proof, err := hex.DecodeString(proofHex)
	if err != nil {
		return nil, fmt.Errorf("invalid proof key hex: %w", err)
	}
	return &Keyset{proof: proof}, nil
}

// Seal encrypts plaintext into an opaque handle: nonce || ciphertext.
func (k *Keyset) Seal(plaintext []byte) ([]byte, error) {
	if k == nil || k.aead == nil {
		return nil, ErrNoMasterKey
	}
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return k.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a handle produced by Seal.
func (k *Keyset) Open(handle []byte) ([]byte, error) {
	if k == nil || k.aead == nil {
		return nil, ErrNoMasterKey
	}
	ns := k.aead.NonceSize()
	if len(handle) < ns {
		return nil, fmt.Errorf("handle too short")
	}
	return k.aead.Open(nil, handle[:ns], handle[ns:], nil)
}

// Proof computes the hex HMAC-SHA256 attestation over requestID||plaintext.
func (k *Keyset) Proof(requestID string, plaintext []byte) string {
	mac := hmac.New(sha256.New, k.proof)
	mac.Write([]byte(requestID))
	mac.Write(plaintext)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyProof checks a callback proof in constant time.
func (k *Keyset) VerifyProof(requestID string, plaintext []byte, proof string) bool {
	if k == nil || len(k.proof) == 0 {
		return false
	}
	want, err := hex.DecodeString(proof)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, k.proof)
	mac.Write([]byte(requestID))
	mac.Write(plaintext)
	return hmac.Equal(mac.Sum(nil), want)
}

// Fingerprint returns a short stable identifier of the proof key for logs
// and banners, never the key itself.
func (k *Keyset) Fingerprint() string {
	if k == nil || len(k.proof) == 0 {
		return "none"
	}
	sum := sha256.Sum256(k.proof)
	return hex.EncodeToString(sum[:4])
}

// Zero wipes key material. The keyset is unusable afterwards.
func (k *Keyset) Zero() {
	if k == nil {
		return
	}
	if k.master != nil {
		for i := range k.master {
			k.master[i] = 0
		}
		_ = unlockMemory(k.master)
		k.master = nil
	}
	for i := range k.proof {
		k.proof[i] = 0
	}
	k.proof = nil
	k.aead = nil
}
