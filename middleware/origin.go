package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// OriginChecker returns a websocket CheckOrigin func. An empty list or "*"
// admits every origin.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	if allowAll(allowed) {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// CORS covers the plain HTTP endpoints.
func CORS(allowed []string) gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if allowAll(allowed) {
		conf.AllowAllOrigins = true
	} else {
		conf.AllowOrigins = allowed
	}
	return cors.New(conf)
}

func allowAll(allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" {
			return true
		}
	}
	return false
}
