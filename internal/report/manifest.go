package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/isogate/internal/common"
	"example.com/isogate/internal/crypto"
)

// ManifestItem pins one report artifact by size and digest.
type ManifestItem struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

// Manifest lists the files that make up one batch report run: the raw
// input, the JSON and PDF reports and any NDJSON results.
type Manifest struct {
	CreatedAt time.Time      `json:"createdAt"`
	ShaAlgo   string         `json:"shaAlgo"`
	Items     []ManifestItem `json:"items"`
	Signature *Signature     `json:"signature,omitempty"`
}

type Signature struct {
	Type          string `json:"type"`
	KeyID         string `json:"keyId,omitempty"`
	SignatureFile string `json:"signatureFile,omitempty"`
}

var ErrManifestMismatch = errors.New("manifest item does not match file")

func BuildManifest(paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	for _, p := range paths {
		sum, size, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, ManifestItem{Path: p, Size: size, Sha256: sum, Type: artifactType(p)})
	}
	return m, nil
}

func artifactType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".iso", ".dat":
		return "input"
	case ".json":
		return "json"
	case ".ndjson", ".jsonl":
		return "ndjson"
	case ".pdf":
		return "pdf"
	}
	return "other"
}

func SaveManifest(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadManifest(path string) (Manifest, []byte, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, nil, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m, b, nil
}

// SignManifest records the signature block, writes the manifest to out and a
// detached JWS over the written bytes to sigPath.
func SignManifest(m Manifest, out, sigPath string, keyPEM []byte, keyID string) error {
	m.Signature = &Signature{Type: "jws-detached", KeyID: keyID, SignatureFile: sigPath}
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	sig, err := crypto.SignDetached(payload, keyPEM, keyID)
	if err != nil {
		return fmt.Errorf("sign manifest: %w", err)
	}
	sigBytes, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(sigPath, sigBytes, 0644); err != nil {
		return err
	}
	return os.WriteFile(out, payload, 0644)
}

// VerifyManifest re-hashes every item. When publicPEM is set the detached
// signature named in the manifest is checked as well.
func VerifyManifest(path string, publicPEM []byte) (Manifest, error) {
	m, raw, err := LoadManifest(path)
	if err != nil {
		return m, err
	}
	if m.ShaAlgo != "sha256" {
		return m, fmt.Errorf("unsupported manifest algorithm %q", m.ShaAlgo)
	}
	if len(publicPEM) > 0 {
		if m.Signature == nil || m.Signature.SignatureFile == "" {
			return m, errors.New("manifest is not signed")
		}
		sigBytes, err := os.ReadFile(m.Signature.SignatureFile)
		if err != nil {
			return m, fmt.Errorf("read signature: %w", err)
		}
		sig, err := crypto.ParseJWS(sigBytes)
		if err != nil {
			return m, fmt.Errorf("parse signature: %w", err)
		}
		if err := crypto.VerifyDetached(raw, sig, publicPEM); err != nil {
			return m, err
		}
	}
	for _, item := range m.Items {
		sum, size, err := common.Sha256OfFile(item.Path)
		if err != nil {
			return m, err
		}
		if sum != item.Sha256 || size != item.Size {
			return m, fmt.Errorf("%w: %s", ErrManifestMismatch, item.Path)
		}
	}
	return m, nil
}
