// Package validation holds the submission checks applied at the HTTP edge.
// Limits come from configuration; SetRules installs them once at startup.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"cipherfeed/pkg/models"
)

type Rules struct {
	// MaxHandleBytes caps the size of each decoded ciphertext handle.
	MaxHandleBytes int64
	// MaxCandidates caps candidate lists on recommendation/feed queries.
	MaxCandidates int
}

var rules = Rules{MaxHandleBytes: 8 * 1024, MaxCandidates: 512}

func SetRules(r Rules) {
	if r.MaxHandleBytes > 0 {
		rules.MaxHandleBytes = r.MaxHandleBytes
	}
	if r.MaxCandidates > 0 {
		rules.MaxCandidates = r.MaxCandidates
	}
}

// ValidateBundle checks a submitted ciphertext bundle: all three handles
// present and within the size cap. Handle contents are never inspected.
func ValidateBundle(b models.CipherBundle) error {
	var errs []string
	for _, h := range []struct {
		name string
		data []byte
	}{
		{"category", b.Category},
		{"minutes", b.Minutes},
		{"listener", b.Listener},
	} {
		if len(h.data) == 0 {
			errs = append(errs, fmt.Sprintf("%s handle is required", h.name))
			continue
		}
		if int64(len(h.data)) > rules.MaxHandleBytes {
			errs = append(errs, fmt.Sprintf("%s handle exceeds %d bytes", h.name, rules.MaxHandleBytes))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ValidateCandidates checks a query candidate list: bounded length, no
// empty entries.
func ValidateCandidates(candidates []string) error {
	if len(candidates) > rules.MaxCandidates {
		return fmt.Errorf("candidate list exceeds %d entries", rules.MaxCandidates)
	}
	for i, c := range candidates {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("candidate %d is empty", i)
		}
	}
	return nil
}
