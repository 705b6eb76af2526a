package middleware

import (
	midsec "PPChat/middleware/security"

	"github.com/gin-gonic/gin"
)

type RouteOpt struct {
	// Token extracts the bearer credential into the context.
	Token bool
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Token {
		r.GET(path, midsec.Middleware(midsec.DefaultOptions()), handler)
		return
	}
	r.GET(path, handler)
}
