package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Options controls signing and TTL.
type Options struct {
	Secret []byte        // HMAC key
	Alg    string        // HS256/HS384/HS512, default HS256
	TTL    time.Duration // token lifetime, default 2h
	Leeway time.Duration // clock skew tolerated on exp/nbf
}

type JWTClaims struct {
	jwtlib.MapClaims
}

const (
	claimUserID    = "user_id"
	claimTokenType = "token_type"
	accessToken    = "access"
)

var (
	ErrMissingSubject = errors.New("token carries no user id")
	ErrWrongTokenType = errors.New("not an access token")
)

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Generate signs an access token for userID. Token issuance belongs to the
// auth service; the gateway uses this in tests and local tooling.
func Generate(opts Options, userID int64) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		claimUserID:    userID,
		claimTokenType: accessToken,
		"sub":          strconv.FormatInt(userID, 10),
		"iat":          now.Unix(),
		"nbf":          now.Unix(),
		"exp":          exp.Unix(),
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm family and expiry. exp is mandatory.
func Verify(opts Options, token string) (*JWTClaims, error) {
	if _, err := signingMethod(opts.Alg); err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	}, jwtlib.WithExpirationRequired(), jwtlib.WithLeeway(opts.Leeway))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("claims type mismatch")
	}
	if tt, ok := claims[claimTokenType]; ok && tt != accessToken {
		return nil, ErrWrongTokenType
	}
	return &JWTClaims{claims}, nil
}

// UserID reads the numeric user id from `user_id`, falling back to `sub`.
func (c *JWTClaims) UserID() (int64, error) {
	if v, ok := c.MapClaims[claimUserID]; ok {
		return toInt64(v)
	}
	if sub, err := c.GetSubject(); err == nil && sub != "" {
		return strconv.ParseInt(sub, 10, 64)
	}
	return 0, ErrMissingSubject
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("user id %v is not an integer", x)
		}
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("user id has type %T", v)
	}
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
