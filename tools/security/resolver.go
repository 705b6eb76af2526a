package security

import (
	"context"
	"strings"

	"PPChat/module/chat/model"
	"PPChat/tools/errs"
)

// Resolver turns a bearer credential into a user.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*model.User, error)
}

// UserLookup is the slice of the store a resolver needs.
type UserLookup interface {
	GetUser(ctx context.Context, userID int64) (*model.User, error)
}

type JWTResolver struct {
	opts  Options
	users UserLookup
}

func NewJWTResolver(opts Options, users UserLookup) *JWTResolver {
	return &JWTResolver{opts: opts, users: users}
}

// Resolve fails with an errs.AuthError family code for missing, malformed or
// expired tokens and for tokens naming no known user.
func (r *JWTResolver) Resolve(ctx context.Context, token string) (*model.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errs.ErrTokenMissing.Wrap()
	}
	claims, err := Verify(r.opts, token)
	if err != nil {
		return nil, errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	uid, err := claims.UserID()
	if err != nil || uid <= 0 {
		return nil, errs.ErrTokenInvalid.WrapMsg("bad user id claim")
	}
	u, err := r.users.GetUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	return u, nil
}
