package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// versionContent is the digest surface of a version: exactly the fields
// frozen when the version leaves draft.
type versionContent struct {
	Clause   *ClauseBody   `json:"clause,omitempty"`
	Template *TemplateBody `json:"template,omitempty"`
	Rules    []Rule        `json:"rules,omitempty"`
}

// Digest returns the SHA-256 hex digest of the version's body and rules in
// RFC 8785 canonical JSON form. Identical content always yields an
// identical digest, independent of field ordering in storage.
func Digest(v *Version) (string, error) {
	raw, err := json.Marshal(versionContent{Clause: v.Clause, Template: v.Template, Rules: v.Rules})
	if err != nil {
		return "", fmt.Errorf("digest: marshal version %s: %w", v.ID, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("digest: canonicalize version %s: %w", v.ID, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyDigest re-computes the digest of a post-draft version and compares
// it against the stamped one. A mismatch means frozen content was altered
// underneath the store.
func VerifyDigest(v *Version) error {
	if v.Status == StatusDraft || v.ContentDigest == "" {
		return nil
	}
	got, err := Digest(v)
	if err != nil {
		return err
	}
	if got != v.ContentDigest {
		return &ImmutabilityViolation{
			Resource: "version",
			ID:       v.ID,
			Reason:   fmt.Sprintf("content digest mismatch: stored %s, computed %s", v.ContentDigest, got),
		}
	}
	return nil
}
