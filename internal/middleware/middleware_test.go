package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/coinpulse/internal/domain/dto"
	"github.com/guttosm/coinpulse/internal/domain/errs"
)

func TestErrorHandler(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "unknown", err: assertErr{}, want: http.StatusInternalServerError},
		{name: "validation", err: errs.Invalid("symbol", "symbol is required"), want: http.StatusBadRequest},
		{name: "insufficient", err: &errs.InsufficientDataError{Required: 1}, want: http.StatusUnprocessableEntity},
		{name: "all sources", err: fmt.Errorf("quote: %w", &errs.AllSourcesUnavailableError{Symbol: "BTC/USDT"}), want: http.StatusServiceUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			r := gin.New()
			r.Use(ErrorHandler)
			r.GET("/", func(c *gin.Context) { _ = c.Error(tc.err) })
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			if w.Code != tc.want {
				t.Fatalf("code=%d want %d", w.Code, tc.want)
			}
			var body dto.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body.ErrorDetails != tc.err.Error() {
				t.Fatalf("details=%q want %q", body.ErrorDetails, tc.err.Error())
			}
		})
	}
}

func TestErrorHandler_KeepsWrittenBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler)
	r.GET("/", func(c *gin.Context) {
		_ = c.Error(assertErr{})
		c.String(http.StatusTeapot, "already answered")
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTeapot || w.Body.String() != "already answered" {
		t.Fatalf("code=%d body=%q", w.Code, w.Body.String())
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryMiddleware())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != 500 {
		t.Fatalf("code=%d", w.Code)
	}
}

func TestRecoveryMiddleware_RepanicsAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryMiddleware())
	r.GET("/abort", func(c *gin.Context) { panic(http.ErrAbortHandler) })

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("want ErrAbortHandler re-panic, got %v", rec)
		}
	}()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abort", nil))
}

func TestRateLimiter(t *testing.T) {
	cases := []struct {
		name   string
		reqs   int
		burst  int
		expect int
	}{
		{name: "within burst", reqs: 2, burst: 3, expect: http.StatusOK},
		{name: "exceed burst", reqs: 5, burst: 3, expect: http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			r := gin.New()
			// one token per minute: nothing refills during the test
			r.Use(RateLimiter(1.0/60, tc.burst))
			r.GET("/", func(c *gin.Context) { c.String(200, "ok") })
			var last int
			for i := 0; i < tc.reqs; i++ {
				w := httptest.NewRecorder()
				r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
				last = w.Code
			}
			if last != tc.expect {
				t.Fatalf("expected %d, got %d", tc.expect, last)
			}
		})
	}
}

func TestRateLimiter_PerClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(1.0/60, 1))
	r.GET("/", func(c *gin.Context) { c.String(200, "ok") })

	codes := map[string][]int{}
	for _, ip := range []string{"10.0.0.1:1000", "10.0.0.2:1000", "10.0.0.1:1001"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes[ip] = append(codes[ip], w.Code)
	}
	if codes["10.0.0.1:1000"][0] != 200 || codes["10.0.0.2:1000"][0] != 200 {
		t.Fatalf("first request per ip must pass: %v", codes)
	}
	if codes["10.0.0.1:1001"][0] != http.StatusTooManyRequests {
		t.Fatalf("second request from 10.0.0.1 must be limited: %v", codes)
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(0, 0))
	r.GET("/", func(c *gin.Context) { c.String(200, "ok") })
	for range 5 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != 200 {
			t.Fatalf("code=%d", w.Code)
		}
	}
}

func TestIPLimiter_SweepsIdleVisitors(t *testing.T) {
	start := time.Now()
	l := &ipLimiter{visitors: map[string]*visitor{}, rps: 1, burst: 1, idleTTL: time.Minute, lastSweep: start}
	l.allow("a", start)
	l.allow("b", start.Add(90*time.Second))
	l.allow("b", start.Add(2*time.Minute))
	if _, ok := l.visitors["a"]; ok {
		t.Fatalf("idle visitor not swept")
	}
	if _, ok := l.visitors["b"]; !ok {
		t.Fatalf("active visitor swept")
	}
}

func TestTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Timeout(time.Second))
	var hasDeadline bool
	r.GET("/", func(c *gin.Context) {
		_, hasDeadline = c.Request.Context().Deadline()
		c.Status(http.StatusNoContent)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !hasDeadline {
		t.Fatalf("expected request deadline")
	}
}

func TestAbortWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/err", func(c *gin.Context) {
		AbortWithError(c, http.StatusBadRequest, "bad stuff", assertErr{})
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/err", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct == "" {
		t.Fatalf("expected content-type set")
	}
}
