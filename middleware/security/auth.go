package security

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// CtxTokenKey holds the raw bearer credential of the request, possibly empty.
const CtxTokenKey = "authorization"

type Options struct {
	QueryParam                string // default "token"
	EnableAuthorizationBearer bool   // default true
}

func DefaultOptions() *Options {
	return &Options{QueryParam: "token", EnableAuthorizationBearer: true}
}

// TokenFromContext reads what Middleware stored.
func TokenFromContext(c *gin.Context) string { return c.GetString(CtxTokenKey) }

// Middleware extracts the credential from the query string or an
// Authorization: Bearer header. It never aborts: websocket routes upgrade
// first and close the socket themselves when the credential is rejected.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.Query(opts.QueryParam))

		if token == "" && opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}
		c.Set(CtxTokenKey, token)
		c.Next()
	}
}
