package credential

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Archive is the self-contained evidence bundle: the licensed content bytes,
// the signed credential, and a manifest tying them together. Its hash is
// computed over the raw archive bytes.
type Archive struct {
	Bytes []byte
	Hash  string
}

type manifest struct {
	OrderID        string `json:"order_id"`
	CredentialID   string `json:"credential_id"`
	CredentialHash string `json:"credential_hash"`
	ContentHash    string `json:"content_hash"`
	ContentSize    int    `json:"content_size"`
}

// BuildArchive packages the content and credential into one addressable zip
// bundle. File timestamps are pinned to the credential's issuance time so a
// rebuild from the same inputs yields the same bytes.
func BuildArchive(contentBytes []byte, cred Credential, credentialHash string) (Archive, error) {
	if len(contentBytes) == 0 {
		return Archive{}, fmt.Errorf("credential: archive content is empty")
	}
	if cred.Signature == "" {
		return Archive{}, fmt.Errorf("credential: archive requires a signed credential")
	}

	credJSON, err := canonicalize(cred)
	if err != nil {
		return Archive{}, err
	}

	manifestJSON, err := json.Marshal(manifest{
		OrderID:        cred.OrderID,
		CredentialID:   cred.ID,
		CredentialHash: credentialHash,
		ContentHash:    cred.ContentHash,
		ContentSize:    len(contentBytes),
	})
	if err != nil {
		return Archive{}, fmt.Errorf("credential: marshal manifest: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := []struct {
		name string
		data []byte
	}{
		{"content", contentBytes},
		{"credential.json", credJSON},
		{"manifest.json", manifestJSON},
	}
	for _, f := range files {
		hdr := &zip.FileHeader{
			Name:     f.name,
			Method:   zip.Deflate,
			Modified: cred.IssuedAt,
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return Archive{}, fmt.Errorf("credential: archive entry %s: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return Archive{}, fmt.Errorf("credential: write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return Archive{}, fmt.Errorf("credential: close archive: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return Archive{Bytes: buf.Bytes(), Hash: hex.EncodeToString(sum[:])}, nil
}
