package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/internal/errs"
)

func TestJWTIdentify(t *testing.T) {
	p := NewJWT("secret")
	ctx := context.Background()

	tok, err := Sign("secret", "42", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)
	id, err := p.Identify(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	// 数字 sub
	numeric, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": 7}).SignedString([]byte("secret"))
	require.NoError(t, err)
	id, err = p.Identify(ctx, numeric)
	require.NoError(t, err)
	assert.Equal(t, "7", id)

	tests := []struct {
		name  string
		token func() string
	}{
		{"empty", func() string { return "" }},
		{"garbage", func() string { return "not.a.token" }},
		{"wrong secret", func() string {
			s, _ := Sign("other", "42", nil)
			return s
		}},
		{"expired", func() string {
			s, _ := Sign("secret", "42", jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()})
			return s
		}},
		{"no subject", func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{}).SignedString([]byte("secret"))
			return s
		}},
		{"wrong algorithm", func() string {
			s, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "42"}).SignedString([]byte("secret"))
			return s
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Identify(ctx, tt.token())
			require.Error(t, err)
			assert.True(t, errs.IsCode(err, errs.CodeUnauthorized))
		})
	}
}

func TestDevIdentify(t *testing.T) {
	id, err := Dev{}.Identify(context.Background(), " alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = Dev{}.Identify(context.Background(), "")
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestNew(t *testing.T) {
	_, err := New("jwt", "")
	assert.Error(t, err)
	_, err = New("saml", "x")
	assert.Error(t, err)

	p, err := New("dev", "")
	require.NoError(t, err)
	assert.IsType(t, Dev{}, p)
}

func TestCredential(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws/r1?token=q&player=bob", nil)
	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", Credential(r, false))

	r = httptest.NewRequest("GET", "/ws/r1?token=q&player=bob", nil)
	assert.Equal(t, "q", Credential(r, false))

	r = httptest.NewRequest("GET", "/ws/r1?player=bob", nil)
	assert.Equal(t, "", Credential(r, false))
	assert.Equal(t, "bob", Credential(r, true))
}
