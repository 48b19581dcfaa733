package tokenize

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Kind names the class of sensitive value a token stands for.
type Kind string

const (
	KindPAN Kind = "pan"
	KindCVV Kind = "cvv"
	KindPIN Kind = "pin"
)

const tokenPrefix = "tok_"

// Environment variables consulted by FromEnv.
const (
	EnvPassphrase = "ISOGATE_TOKEN_PASSPHRASE"
	EnvSalt       = "ISOGATE_TOKEN_SALT"
	defaultSalt   = "isogate-dev-salt"
)

var (
	ErrInvalidShape = errors.New("value does not match token kind")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKind  = errors.New("unknown token kind")
)

var shapes = map[Kind]*regexp.Regexp{
	KindPAN: regexp.MustCompile(`^[0-9]{13,19}$`),
	KindCVV: regexp.MustCompile(`^[0-9]{3,4}$`),
	KindPIN: regexp.MustCompile(`^[0-9A-Fa-f]{16}$`),
}

// ParseKind maps a kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := shapes[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Matches reports whether value has the shape of kind k.
func (k Kind) Matches(value string) bool {
	re, ok := shapes[k]
	return ok && re.MatchString(value)
}

// Service turns sensitive values into reversible tokens.
type Service struct {
	hsm *HSM
}

// NewService builds a Service whose key is derived from passphrase and salt.
func NewService(passphrase, salt string) (*Service, error) {
	hsm, err := NewHSM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return &Service{hsm: hsm}, nil
}

// FromEnv builds a Service from ISOGATE_TOKEN_PASSPHRASE and
// ISOGATE_TOKEN_SALT. The salt falls back to a development value.
func FromEnv() (*Service, error) {
	pass := os.Getenv(EnvPassphrase)
	if pass == "" {
		return nil, fmt.Errorf("%s is not set", EnvPassphrase)
	}
	salt := os.Getenv(EnvSalt)
	if salt == "" {
		salt = defaultSalt
	}
	return NewService(pass, salt)
}

// Tokenize returns the token for value. Equal inputs always give the same
// token under the same key.
func (s *Service) Tokenize(kind Kind, value string) (string, error) {
	if _, ok := shapes[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !kind.Matches(value) {
		return "", fmt.Errorf("%w %s", ErrInvalidShape, kind)
	}
	sealed := s.hsm.Encrypt(string(kind), []byte(value))
	return tokenPrefix + string(kind) + "_" + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Detokenize recovers the original value and its kind.
func (s *Service) Detokenize(token string) (Kind, string, error) {
	rest, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return "", "", ErrInvalidToken
	}
	name, payload, ok := strings.Cut(rest, "_")
	if !ok {
		return "", "", ErrInvalidToken
	}
	kind := Kind(name)
	if _, known := shapes[kind]; !known {
		return "", "", fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, name)
	}
	sealed, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	plain, err := s.hsm.Decrypt(string(kind), sealed)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return kind, string(plain), nil
}

// IsToken reports whether s looks like a token produced by Tokenize.
func IsToken(s string) bool {
	return strings.HasPrefix(s, tokenPrefix)
}
