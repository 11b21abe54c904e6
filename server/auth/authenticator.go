/*
 * Copyright 2026 The Quince Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package auth mints and verifies the access tokens that gate documents.
//
// A server token carries full authority: it may mint document tokens and
// access any document. A document token is scoped to a single document and
// may expire. Tokens are HS256 JWTs signed with a key derived from the
// operator's private key, so replacing the private key invalidates every
// token at once. There is no revocation of individual tokens.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/hkdf"

	"github.com/quince-team/quince/pkg/errors"
)

const (
	// KeySize is the number of random bytes in a private key.
	KeySize = 32

	// signingInfo separates the token signing key from any other key that
	// might be derived from the same private key.
	signingInfo = "quince token signing v1"
)

var (
	// ErrUnauthorized is returned for every token that does not grant the
	// requested access. It deliberately carries no detail.
	ErrUnauthorized = errors.Unauthenticated("unauthorized").WithCode("ErrUnauthorized")

	// ErrInvalidKey is returned when the private key is malformed.
	ErrInvalidKey = errors.InvalidArgument("invalid private key").WithCode("ErrInvalidKey")
)

// Scope is the authority granted by a token.
type Scope string

const (
	// ScopeServer grants access to every document and to minting tokens.
	ScopeServer Scope = "server"

	// ScopeDocument grants access to a single document.
	ScopeDocument Scope = "doc"
)

// Claims is the payload of a token.
type Claims struct {
	jwt.StandardClaims
	Scope Scope  `json:"scope"`
	DocID string `json:"doc,omitempty"`
}

// Valid checks the time based claims and the shape of the scope.
func (c *Claims) Valid() error {
	if err := c.StandardClaims.Valid(); err != nil {
		return err
	}

	switch c.Scope {
	case ScopeServer:
		if c.DocID != "" {
			return errors.New("server token with document")
		}
	case ScopeDocument:
		if c.DocID == "" {
			return errors.New("document token without document")
		}
	default:
		return fmt.Errorf("unknown scope %q", c.Scope)
	}

	return nil
}

// ExpiresAt returns the expiry of the token, or the zero time.
func (c *Claims) ExpiresAt() time.Time {
	if c.StandardClaims.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(c.StandardClaims.ExpiresAt, 0)
}

// Authenticator mints and verifies tokens with a single private key.
type Authenticator struct {
	privateKey string
	signingKey []byte
	parser     *jwt.Parser
}

// GenerateKey returns a new random private key.
func GenerateKey() (string, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// New creates an Authenticator from a private key made by GenerateKey.
func New(privateKey string) (*Authenticator, error) {
	raw, err := base64.RawURLEncoding.DecodeString(privateKey)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", ErrInvalidKey)
	}
	if len(raw) < KeySize {
		return nil, fmt.Errorf("need %d bytes, given %d: %w", KeySize, len(raw), ErrInvalidKey)
	}

	signingKey := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(signingInfo)), signingKey); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	return &Authenticator{
		privateKey: privateKey,
		signingKey: signingKey,
		parser: &jwt.Parser{
			ValidMethods: []string{jwt.SigningMethodHS256.Alg()},
		},
	}, nil
}

// PrivateKey returns the private key this authenticator was created with.
func (a *Authenticator) PrivateKey() string {
	return a.privateKey
}

// ServerToken returns the server token. It never expires and is the same for
// every call with the same private key.
func (a *Authenticator) ServerToken() (string, error) {
	return a.sign(&Claims{Scope: ScopeServer})
}

// DocumentToken returns a token for the given document. A positive ttl sets
// the expiry.
func (a *Authenticator) DocumentToken(docID string, ttl time.Duration) (string, error) {
	if docID == "" {
		return "", errors.New("empty document ID")
	}

	claims := &Claims{Scope: ScopeDocument, DocID: docID}
	if ttl > 0 {
		now := jwt.TimeFunc()
		claims.StandardClaims.IssuedAt = now.Unix()
		claims.StandardClaims.ExpiresAt = now.Add(ttl).Unix()
	}

	return a.sign(claims)
}

func (a *Authenticator) sign(claims *Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return token, nil
}

// Verify checks the token and returns its claims when it grants access.
// With an empty docID only a server token is accepted; otherwise a server
// token or a document token for docID is accepted. Every failure is
// ErrUnauthorized.
func (a *Authenticator) Verify(token string, docID string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return a.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrUnauthorized
	}

	switch {
	case claims.Scope == ScopeServer:
		return claims, nil
	case docID != "" && claims.DocID == docID:
		return claims, nil
	default:
		return nil, ErrUnauthorized
	}
}
