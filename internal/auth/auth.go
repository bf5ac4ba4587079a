// Package auth 连接握手时的身份识别；只负责把凭证换成玩家 ID，不签发令牌
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cast"

	"roomsync/internal/errs"
)

// Provider 身份提供者，在加入房间前调用一次
type Provider interface {
	Identify(ctx context.Context, credential string) (string, error)
}

// JWT 校验 HS256 令牌，sub 即玩家 ID
type JWT struct {
	secret []byte
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

func (p *JWT) Identify(_ context.Context, credential string) (string, error) {
	if credential == "" {
		return "", errs.New(errs.CodeUnauthorized, "missing token")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errs.Wrap(err, errs.CodeUnauthorized, "invalid token")
	}
	// sub 可能是字符串或数字
	sub, err := cast.ToStringE(claims["sub"])
	if err != nil || sub == "" {
		return "", errs.New(errs.CodeUnauthorized, "token has no subject")
	}
	return sub, nil
}

// Dev 开发模式：凭证本身就是玩家 ID
type Dev struct{}

func (Dev) Identify(_ context.Context, credential string) (string, error) {
	id := strings.TrimSpace(credential)
	if id == "" {
		return "", errs.New(errs.CodeUnauthorized, "missing player id")
	}
	return id, nil
}

// New 按模式创建提供者
func New(mode, secret string) (Provider, error) {
	switch mode {
	case "jwt":
		if secret == "" {
			return nil, errors.New("jwt secret is empty")
		}
		return NewJWT(secret), nil
	case "dev":
		return Dev{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// Credential 取凭证：Authorization Bearer 优先，其次 ?token=，dev 模式再看 ?player=
func Credential(r *http.Request, dev bool) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	q := r.URL.Query()
	if t := q.Get("token"); t != "" {
		return t
	}
	if dev {
		return q.Get("player")
	}
	return ""
}

// Sign 生成 HS256 令牌，只给测试与本地调试使用
func Sign(secret, subject string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = subject
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
