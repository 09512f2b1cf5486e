package jwt

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTMaker_GenerateAndParseToken(t *testing.T) {
	tokenTTL := 15 * time.Minute
	maker := NewJWTMaker("test_secret_key_1234567890", tokenTTL)
	signer := solana.NewWallet().PublicKey()

	token, err := maker.GenerateToken(signer)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := maker.ParseToken(token)
	require.NoError(t, err)

	got, err := claims.Signer()
	require.NoError(t, err)
	assert.Equal(t, signer, got)
	assert.WithinDuration(t, time.Now(), claims.IssuedAt.Time, time.Second)
	assert.WithinDuration(t, time.Now().Add(tokenTTL), claims.ExpiresAt.Time, time.Second)
}

func TestJWTMaker_ParseToken_InvalidTokens(t *testing.T) {
	secretKey := "test_secret_key_1234567890"
	maker := NewJWTMaker(secretKey, 15*time.Minute)

	validToken, err := maker.GenerateToken(solana.NewWallet().PublicKey())
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "malformed token", token: "invalid.token.here"},
		{name: "expired token", token: createExpiredToken(t, secretKey)},
		{name: "wrong secret key", token: createTokenWithWrongSecret(t)},
		{name: "tampered token", token: validToken + "tampered"},
		{name: "unexpected signing method", token: createHS512Token(t, secretKey)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := maker.ParseToken(tt.token)
			assert.Error(t, err)
			assert.Nil(t, claims)
		})
	}
}

func TestCustomClaims_SignerInvalidSubject(t *testing.T) {
	claims := CustomClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "testuser"}}
	_, err := claims.Signer()
	require.Error(t, err)
}

func createExpiredToken(t *testing.T, secretKey string) string {
	maker := NewJWTMaker(secretKey, -time.Hour)
	token, err := maker.GenerateToken(solana.NewWallet().PublicKey())
	require.NoError(t, err)
	return token
}

func createTokenWithWrongSecret(t *testing.T) string {
	wrongMaker := NewJWTMaker("wrong_secret_key", 15*time.Minute)
	token, err := wrongMaker.GenerateToken(solana.NewWallet().PublicKey())
	require.NoError(t, err)
	return token
}

func createHS512Token(t *testing.T, secretKey string) string {
	claims := CustomClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   solana.NewWallet().PublicKey().String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(secretKey))
	require.NoError(t, err)
	return token
}
