// Package token implements the bearer-token verifier (C3): dual-key JWT
// decode with rotation-key fallback, AuthUser/BlockUser gating, and
// refresh-window reissue — grounded on the teacher's dual-key rotation
// shape (internal/security/token_broker.go's primary/previous secret
// fallback) but using golang-jwt/jwt/v5 for the actual HS256 codec, the
// way the pack's own JWT-bearing services do it.
package token

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/metropia/maas-core/internal/clock"
	"github.com/metropia/maas-core/internal/ocxerr"
	"github.com/metropia/maas-core/internal/store"
)

const blockTypeAuth = 2

// Claims is the JWT payload minted by createAccessToken.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Result is what a successful Authenticate call augments the request with.
type Result struct {
	UserID     int64
	NewToken   string // non-empty when a refreshed token was issued
}

// Verifier is C3's entry point.
type Verifier struct {
	db             *store.DB
	primaryKey     []byte
	rotationKey    []byte
	refreshWindow  time.Duration
	maxLifetime    time.Duration
	bypassPaths    []string
	legacyForward  []string
	clock          clock.Clock
}

type Config struct {
	JWTKeyBase64       string
	JWTRotateKeyBase64 string
	RefreshWindow      time.Duration
	MaxLifetime        time.Duration
	BypassPaths        []string
	LegacyForwardPaths []string
}

func NewVerifier(db *store.DB, cfg Config, clk clock.Clock) (*Verifier, error) {
	primary, err := base64.StdEncoding.DecodeString(cfg.JWTKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("token: decode JWT_KEY: %w", err)
	}
	var rotation []byte
	if cfg.JWTRotateKeyBase64 != "" {
		rotation, err = base64.StdEncoding.DecodeString(cfg.JWTRotateKeyBase64)
		if err != nil {
			return nil, fmt.Errorf("token: decode JWT_ROTATE_KEY: %w", err)
		}
	}
	refreshWindow := cfg.RefreshWindow
	if refreshWindow == 0 {
		refreshWindow = 7 * 24 * time.Hour
	}
	maxLifetime := cfg.MaxLifetime
	if maxLifetime == 0 {
		maxLifetime = 30 * 24 * time.Hour
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Verifier{
		db:            db,
		primaryKey:    primary,
		rotationKey:   rotation,
		refreshWindow: refreshWindow,
		maxLifetime:   maxLifetime,
		bypassPaths:   cfg.BypassPaths,
		legacyForward: cfg.LegacyForwardPaths,
		clock:         clk,
	}, nil
}

// Skip reports whether the path bypasses authentication entirely (step 1)
// or is forwarded to legacy auth (step 2) — either way, Authenticate
// should not be called for it.
func (v *Verifier) Skip(requestPath string) bool {
	return matchesAny(requestPath, v.bypassPaths) || matchesAny(requestPath, v.legacyForward)
}

func matchesAny(requestPath string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, requestPath); ok {
			return true
		}
		if strings.HasPrefix(requestPath, p) {
			return true
		}
	}
	return false
}

// Authenticate runs the full §4.3 protocol against a bearer token string
// (the "Bearer " prefix already stripped by the caller).
func (v *Verifier) Authenticate(ctx context.Context, bearerToken string) (*Result, error) {
	if bearerToken == "" {
		return nil, ocxerr.New(ocxerr.TokenRequired, "authorization header missing")
	}

	claims, err := v.decode(bearerToken)
	if err != nil {
		return nil, err
	}

	exists, err := store.AuthUserExists(ctx, v.db, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("token: check auth user: %w", err)
	}
	if !exists {
		return nil, ocxerr.New(ocxerr.TokenFailed, "auth user not found")
	}

	blocked, err := store.IsUserBlocked(ctx, v.db, claims.UserID, blockTypeAuth)
	if err != nil {
		return nil, fmt.Errorf("token: check block status: %w", err)
	}
	if blocked {
		return nil, ocxerr.New(ocxerr.UserBlocked, "user is blocked")
	}

	record, err := store.GetActiveAuthUserToken(ctx, v.db, bearerToken)
	if err != nil {
		return nil, ocxerr.New(ocxerr.TokenFailed, "token not on file")
	}
	if record.Disabled {
		return nil, ocxerr.New(ocxerr.TokenFailed, "token disabled")
	}

	result := &Result{UserID: claims.UserID}

	now := v.clock.Now()
	if now.Add(v.refreshWindow).After(record.ExpiresOn) {
		newToken, err := v.createAccessToken(ctx, claims.UserID)
		if err != nil {
			return nil, fmt.Errorf("token: create refreshed access token: %w", err)
		}
		if err := store.DisableAuthUserToken(ctx, v.db, record.ID); err != nil {
			return nil, fmt.Errorf("token: disable old token: %w", err)
		}
		result.NewToken = newToken
	}

	return result, nil
}

// decode implements step 4: try the primary key, retry once with the
// rotation key on a generic JWT error, and map the three distinct
// failure modes to their coded errors.
func (v *Verifier) decode(tokenStr string) (*Claims, error) {
	claims, err := v.parseWith(tokenStr, v.primaryKey)
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ocxerr.New(ocxerr.TokenExpired, "token expired")
	}

	if len(v.rotationKey) > 0 {
		if claims, rotErr := v.parseWith(tokenStr, v.rotationKey); rotErr == nil {
			return claims, nil
		} else if errors.Is(rotErr, jwt.ErrTokenExpired) {
			return nil, ocxerr.New(ocxerr.TokenExpired, "token expired")
		}
	}

	return nil, ocxerr.New(ocxerr.TokenChanged, "token signature invalid")
}

func (v *Verifier) parseWith(tokenStr string, key []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithTimeFunc(v.clock.Now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// createAccessToken mints a fresh 30-day (MaxLifetime) token signed with
// the primary key only, per the key-rotation rule in step 9 ("only the
// primary signs"), and records it in auth_user_token.
func (v *Verifier) createAccessToken(ctx context.Context, userID int64) (string, error) {
	now := v.clock.Now()
	expiresOn := now.Add(v.maxLifetime)

	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresOn),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(v.primaryKey)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	if _, err := store.InsertAuthUserToken(ctx, v.db, userID, signed, expiresOn); err != nil {
		return "", fmt.Errorf("insert auth_user_token: %w", err)
	}
	return signed, nil
}
