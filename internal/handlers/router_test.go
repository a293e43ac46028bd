package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewRouterHealthEndpoints(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /readyz, got %d", rec.Code)
	}
}

func TestNewRouterNotImplementedGroups(t *testing.T) {
	router := NewRouter()

	for _, target := range []string{"/api/v1/orders", "/api/v1/stores/store-1/orders", "/api/v1/webhooks/stripe"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("expected 501 for %s, got %d: %s", target, rec.Code, rec.Body.String())
		}
	}
}

func TestNewRouterMountsRegistrars(t *testing.T) {
	orders := NewOrderHandlers(&stubOrderService{}, &stubPaymentService{})
	router := NewRouter(WithOrderRoutes(orders.Routes))

	// GET on an order id reaches the registered handler, which then fails in
	// the stub with a 500 rather than the 501 fallback.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code == http.StatusNotImplemented {
		t.Fatalf("expected registered routes to shadow the fallback, got 501")
	}
}

func TestNewRouterNotFound(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "route_not_found") {
		t.Fatalf("expected route_not_found code: %s", rec.Body.String())
	}
}

func TestNewRouterGroupMiddleware(t *testing.T) {
	var sawOrder bool
	marker := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawOrder = true
			next.ServeHTTP(w, r)
		})
	}

	orders := NewOrderHandlers(&stubOrderService{}, &stubPaymentService{})
	router := NewRouter(
		WithOrderRoutes(orders.Routes),
		WithOrderMiddlewares(marker),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if !sawOrder {
		t.Fatalf("expected order middleware to run")
	}

	sawOrder = false
	req = httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/stripe", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if sawOrder {
		t.Fatalf("expected order middleware scoped to /orders")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	mw := RateLimitMiddleware(2, time.Minute)
	if mw == nil {
		t.Fatalf("expected middleware for positive limit")
	}

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5001"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after budget spent, got %d", rec.Code)
	}

	// A different client keeps its own budget.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected independent budget per client, got %d", rec.Code)
	}

	if RateLimitMiddleware(0, time.Minute) != nil {
		t.Fatalf("expected nil middleware for non-positive limit")
	}
}
