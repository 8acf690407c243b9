// Package credential produces the signed license credential and the
// self-contained evidence archive minted settlements are proven by.
package credential

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Facts are the settlement inputs a credential binds together.
type Facts struct {
	OrderID          string
	Buyer            string
	AssetID          string
	RegistryTokenRef string
	SettlementTxRef  string
	ContentHash      string
}

// Credential is the structured claim plus its detached signature. The
// signature covers the RFC 8785 canonical form of the document with the
// Signature field empty; IssuedAt is inside the signed payload, so two
// credentials for the same facts issued at different times never collide.
type Credential struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	AssetID          string    `json:"asset_id"`
	OrderID          string    `json:"order_id"`
	RegistryTokenRef string    `json:"registry_token_ref"`
	SettlementTxRef  string    `json:"settlement_tx_ref"`
	ContentHash      string    `json:"content_hash"`
	IssuedAt         time.Time `json:"issued_at"`
	KeyID            string    `json:"key_id"`
	PublicKey        string    `json:"public_key"`
	Signature        string    `json:"signature,omitempty"`
}

// Issuer signs credentials with a fixed ed25519 key.
type Issuer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
	now   func() time.Time
}

// NewIssuer builds an issuer from a hex-encoded 32-byte ed25519 seed.
func NewIssuer(seedHex, keyID string) (*Issuer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("credential: decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("credential: signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Issuer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		keyID: keyID,
		now:   time.Now,
	}, nil
}

// Issue produces the signed credential and the sha256 hex digest of its
// canonical serialization. Deterministic given identical facts and timestamp.
func (i *Issuer) Issue(facts Facts) (Credential, string, error) {
	if facts.OrderID == "" || facts.Buyer == "" || facts.AssetID == "" {
		return Credential{}, "", fmt.Errorf("credential: order, buyer and asset are required")
	}
	if facts.RegistryTokenRef == "" || facts.ContentHash == "" {
		return Credential{}, "", fmt.Errorf("credential: registry token and content hash are required")
	}

	cred := Credential{
		ID:               uuid.NewSHA1(uuid.NameSpaceURL, []byte("mintflow:credential:"+facts.OrderID)).String(),
		Subject:          facts.Buyer,
		AssetID:          facts.AssetID,
		OrderID:          facts.OrderID,
		RegistryTokenRef: facts.RegistryTokenRef,
		SettlementTxRef:  facts.SettlementTxRef,
		ContentHash:      facts.ContentHash,
		IssuedAt:         i.now().UTC().Truncate(time.Second),
		KeyID:            i.keyID,
		PublicKey:        hex.EncodeToString(i.pub),
	}

	payload, err := canonicalize(cred)
	if err != nil {
		return Credential{}, "", err
	}
	cred.Signature = hex.EncodeToString(ed25519.Sign(i.priv, payload))

	signed, err := canonicalize(cred)
	if err != nil {
		return Credential{}, "", err
	}
	sum := sha256.Sum256(signed)

	return cred, hex.EncodeToString(sum[:]), nil
}

// Verify checks the credential's signature against its embedded public key.
func Verify(cred Credential) error {
	pub, err := hex.DecodeString(cred.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.New("credential: invalid public key")
	}
	sig, err := hex.DecodeString(cred.Signature)
	if err != nil {
		return errors.New("credential: invalid signature encoding")
	}

	unsigned := cred
	unsigned.Signature = ""
	payload, err := canonicalize(unsigned)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
		return errors.New("credential: signature verification failed")
	}
	return nil
}

// canonicalize returns the RFC 8785 canonical JSON bytes of the credential.
// External verifiers re-derive hashes from the persisted representation, so
// the canonical form is the only one ever hashed or signed.
func canonicalize(cred Credential) ([]byte, error) {
	raw, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("credential: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("credential: canonicalize: %w", err)
	}
	return canonical, nil
}
