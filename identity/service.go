package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong handle or passphrase.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrWeakPassphrase signals the passphrase doesn't meet requirements.
	ErrWeakPassphrase = errors.New("identity: passphrase must be at least 8 characters")
)

// Service handles principal registration and session tokens.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// LoginResult bundles the token and principal returned after a successful login.
type LoginResult struct {
	Token     string
	Principal Principal
}

// NewService creates a new identity service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new principal bound to a wallet address or DID handle.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Principal, error) {
	if len(req.Passphrase) < 8 {
		return nil, ErrWeakPassphrase
	}

	handle := strings.TrimSpace(req.Handle)
	if handle == "" {
		return nil, fmt.Errorf("identity: handle is required")
	}

	passphraseHash, err := bcrypt.GenerateFromPassword([]byte(req.Passphrase), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash passphrase: %w", err)
	}

	p, err := s.repo.CreatePrincipal(ctx, CreatePrincipalParams{
		Handle:         handle,
		DisplayName:    strings.TrimSpace(req.DisplayName),
		PassphraseHash: string(passphraseHash),
	})
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// Login authenticates a principal and returns a session token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	p, err := s.repo.GetByHandle(ctx, req.Handle)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PassphraseHash), []byte(req.Passphrase)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(p.ID, p.Handle)
	if err != nil {
		return LoginResult{}, fmt.Errorf("identity: generate token: %w", err)
	}

	return LoginResult{Token: token, Principal: p}, nil
}

// VerifyToken validates a session token and returns the principal ID and handle.
// The handle is what the settlement pipeline records as the acting identity.
func (s *Service) VerifyToken(tokenString string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("identity: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		principalID, ok := claims["principal_id"].(string)
		if !ok {
			return "", "", fmt.Errorf("identity: invalid principal_id in token")
		}
		handle, ok := claims["handle"].(string)
		if !ok || handle == "" {
			return "", "", fmt.Errorf("identity: invalid handle in token")
		}
		return principalID, handle, nil
	}

	return "", "", fmt.Errorf("identity: invalid token")
}

func (s *Service) generateToken(principalID, handle string) (string, error) {
	claims := jwt.MapClaims{
		"principal_id": principalID,
		"handle":       handle,
		"exp":          time.Now().Add(24 * time.Hour).Unix(),
		"iat":          time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
