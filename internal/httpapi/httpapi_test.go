package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/steamfleet/farmhand/internal/bot"
)

type fakeFleet struct {
	bots         []*bot.Bot
	exitRequested bool
}

func (f *fakeFleet) All() []*bot.Bot { return f.bots }
func (f *fakeFleet) RequestExit()    { f.exitRequested = true }

func TestHandleStatusReturnsEmptyFleet(t *testing.T) {
	srv := New(&fakeFleet{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/Api/ASF/status", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 0 {
		t.Fatalf("total = %d", resp.Total)
	}
}

func TestHandleStatusRejectsPost(t *testing.T) {
	srv := New(&fakeFleet{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/Api/ASF/status", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleExitSignalsFleet(t *testing.T) {
	fleet := &fakeFleet{}
	srv := New(fleet, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/Api/ASF/exit", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !fleet.exitRequested {
		t.Fatal("expected RequestExit to be called")
	}

	var resp simpleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHandleOptionsShortCircuits(t *testing.T) {
	srv := New(&fakeFleet{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodOptions, "/Api/ASF/status", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header to be set")
	}
}

func TestHandleUpdateReportsNotImplemented(t *testing.T) {
	srv := New(&fakeFleet{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/Api/ASF/update", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	var resp simpleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success {
		t.Fatal("expected success=false for the not-implemented update endpoint")
	}
}
