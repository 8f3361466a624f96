package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var ErrWrongTokenType = errors.New("wrong token type")

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	Type     string `json:"typ"`
	// Since is the account's creation time in microseconds. A username that
	// is deleted and registered again gets a different value.
	Since int64 `json:"since"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates session tokens.
type JWTManager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewJWTManager(secret string, accessTTL, refreshTTL time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (m *JWTManager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *JWTManager) RefreshTTL() time.Duration { return m.refreshTTL }

// GenerateToken generates a short-lived access token for the account
// created at since
func (m *JWTManager) GenerateToken(username string, since time.Time) (string, error) {
	return m.sign(username, since, TokenTypeAccess, m.accessTTL)
}

// GenerateRefreshToken generates a long-lived token that can only be
// exchanged for a new access token
func (m *JWTManager) GenerateRefreshToken(username string, since time.Time) (string, error) {
	return m.sign(username, since, TokenTypeRefresh, m.refreshTTL)
}

func (m *JWTManager) sign(username string, since time.Time, typ string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		Type:     typ,
		Since:    since.UnixMicro(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// BelongsTo reports whether the token was issued to the account created at
// createdAt rather than an earlier holder of the same username.
func (c *Claims) BelongsTo(createdAt time.Time) bool {
	return c.Since == createdAt.UnixMicro()
}

// ValidateToken validates and parses a JWT token of the given type
func (m *JWTManager) ValidateToken(tokenString, typ string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims.Type != typ {
		return nil, ErrWrongTokenType
	}

	return claims, nil
}
