package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestManagerRunsInOrderAndStopsOnAbort(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager()
	var trace []string
	m.Add(func(c *gin.Context) { trace = append(trace, "a") })
	m.Add(func(c *gin.Context) {
		trace = append(trace, "b")
		if c.Query("stop") != "" {
			c.AbortWithStatus(http.StatusForbidden)
		}
	})

	r := gin.New()
	r.Use(m.Use())
	r.GET("/", func(c *gin.Context) {
		trace = append(trace, "handler")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := len(trace); got != 3 || trace[2] != "handler" {
		t.Fatalf("trace = %v", trace)
	}

	trace = nil
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?stop=1", nil))
	if w.Code != http.StatusForbidden || len(trace) != 2 {
		t.Fatalf("code = %d trace = %v", w.Code, trace)
	}
}

func TestOriginChecker(t *testing.T) {
	check := OriginChecker([]string{"https://chat.example.com/"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://chat.example.com", true},
		{"HTTPS://Chat.Example.com", true},
		{"https://evil.example.com", false},
		{"http://chat.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws/chat/1", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
	if !OriginChecker(nil)(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Fatal("empty allow list should admit all")
	}
}
