package identity

import "time"

// Principal is the domain representation of an authenticated actor: a wallet
// address or decentralized-identity handle bound to a local account row. It
// mirrors the principals table and carries no JSON annotations so it can be
// reused by different presentation layers.
type Principal struct {
	ID             string
	Handle         string
	DisplayName    string
	PassphraseHash string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RegisterRequest contains principal registration data supplied by callers.
type RegisterRequest struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Passphrase  string `json:"passphrase"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Handle     string `json:"handle"`
	Passphrase string `json:"passphrase"`
}
