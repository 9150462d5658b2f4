package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"ridesaga/internal/middleware"
)

func TestIdempotency_NilClientPassesThrough(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	calls := 0
	router := gin.New()
	router.Use(middleware.IdempotencyMiddleware(nil, nil))
	router.POST("/rides", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"rideId": "ride-1"})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/rides", strings.NewReader(`{}`))
		req.Header.Set(middleware.IdempotencyKeyHeader, "key-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
	}
	if calls != 2 {
		t.Errorf("expected handler to run for every request, got %d", calls)
	}
}
