package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"swarmgate/internal/banindex"
	"swarmgate/internal/banstore"
	"swarmgate/internal/database"
	"swarmgate/internal/domain"
	"swarmgate/internal/ratelimit"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupAdminTest(t *testing.T) (*http.ServeMux, *banstore.Store) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.BanRange{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	database.DB = db
	t.Cleanup(func() {
		database.DB = nil
	})

	store := banstore.New(banindex.New())
	quota := ratelimit.NewChain(
		ratelimit.NewQuota(ratelimit.NewMemoryStore(), "auth", 1000, time.Minute),
	)
	return NewServer(store, quota).Routes(), store
}

func doRequest(mux *http.ServeMux, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.RemoteAddr = "10.0.0.1:50000"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func TestCreateBanRangeRoute(t *testing.T) {
	mux, store := setupAdminTest(t)

	w := doRequest(mux, http.MethodPost, "/banRanges", BanRangeRequest{
		From:   "192.168.1.0",
		To:     "192.168.1.255",
		Reason: "abuse",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var info BanRangeInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.From != "192.168.1.0" || info.To != "192.168.1.255" {
		t.Fatalf("bounds = %s..%s", info.From, info.To)
	}
	if info.ID == 0 {
		t.Fatal("created range has no id")
	}
	if !store.Index().Contains(3232235800) {
		t.Fatal("created range not enforced")
	}
}

func TestCreateBanRangeRejectsBadInput(t *testing.T) {
	mux, _ := setupAdminTest(t)

	cases := []struct {
		name string
		body BanRangeRequest
	}{
		{"not an address", BanRangeRequest{From: "not-an-ip", To: "192.168.1.1"}},
		{"ipv6 address", BanRangeRequest{From: "2001:db8::1", To: "192.168.1.1"}},
		{"inverted bounds", BanRangeRequest{From: "192.168.1.255", To: "192.168.1.0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := doRequest(mux, http.MethodPost, "/banRanges", tc.body); w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", w.Code)
			}
		})
	}
}

func TestBulkCreateRoute(t *testing.T) {
	mux, _ := setupAdminTest(t)

	// Seed one row, then send a batch containing its exact duplicate.
	if w := doRequest(mux, http.MethodPost, "/banRanges", BanRangeRequest{
		From: "10.0.0.0", To: "10.0.0.255", Reason: "seed",
	}); w.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", w.Code)
	}

	w := doRequest(mux, http.MethodPost, "/banRanges/bulk", BulkCreateRequest{
		Ranges: []BanRangeRequest{
			{From: "10.0.0.0", To: "10.0.0.255", Reason: "seed"},
			{From: "10.0.1.0", To: "10.0.1.255", Reason: "seed"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp BulkCreateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Inserted != 1 || resp.Skipped != 1 {
		t.Fatalf("inserted=%d skipped=%d, want 1/1", resp.Inserted, resp.Skipped)
	}
}

func TestUpdateBanRangeRoute(t *testing.T) {
	mux, store := setupAdminTest(t)

	w := doRequest(mux, http.MethodPost, "/banRanges", BanRangeRequest{
		From: "10.0.0.0", To: "10.0.0.255",
	})
	var created BanRangeInfo
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	to := "10.0.1.255"
	w = doRequest(mux, http.MethodPut, fmt.Sprintf("/banRanges/%d", created.ID), BanRangePatchRequest{To: &to})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var updated BanRangeInfo
	if err := json.NewDecoder(w.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.To != to {
		t.Fatalf("to = %s, want %s", updated.To, to)
	}
	if !store.Index().Contains(167772500) { // 10.0.1.84
		t.Fatal("widened range not enforced")
	}
}

func TestUpdateMissingRangeRoute(t *testing.T) {
	mux, _ := setupAdminTest(t)

	reason := "gone"
	w := doRequest(mux, http.MethodPut, "/banRanges/99999", BanRangePatchRequest{Reason: &reason})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDeleteBanRangeRoute(t *testing.T) {
	mux, store := setupAdminTest(t)

	w := doRequest(mux, http.MethodPost, "/banRanges", BanRangeRequest{
		From: "10.0.0.0", To: "10.0.0.255",
	})
	var created BanRangeInfo
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if w := doRequest(mux, http.MethodDelete, fmt.Sprintf("/banRanges/%d", created.ID), nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if store.Index().Contains(167772161) { // 10.0.0.1
		t.Fatal("range still enforced after delete")
	}

	if w := doRequest(mux, http.MethodDelete, fmt.Sprintf("/banRanges/%d", created.ID), nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", w.Code)
	}
}

func TestListBanRangesRoute(t *testing.T) {
	mux, _ := setupAdminTest(t)

	for i := 0; i < 3; i++ {
		body := BanRangeRequest{
			From: fmt.Sprintf("10.0.%d.0", i),
			To:   fmt.Sprintf("10.0.%d.255", i),
		}
		if w := doRequest(mux, http.MethodPost, "/banRanges", body); w.Code != http.StatusCreated {
			t.Fatalf("seed %d status = %d", i, w.Code)
		}
	}

	w := doRequest(mux, http.MethodGet, "/banRanges/1?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var page BanRangePage
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Ranges) != 2 || page.Total != 3 || page.Pages != 2 {
		t.Fatalf("page = %+v", page)
	}
}

func TestMutatingRoutesAreQuotaLimited(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.BanRange{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	database.DB = db
	t.Cleanup(func() { database.DB = nil })

	store := banstore.New(banindex.New())
	quota := ratelimit.NewChain(
		ratelimit.NewQuota(ratelimit.NewMemoryStore(), "auth", 2, time.Minute),
	)
	mux := NewServer(store, quota).Routes()

	body := BanRangeRequest{From: "10.0.0.0", To: "10.0.0.255"}
	for i := 0; i < 2; i++ {
		doRequest(mux, http.MethodPost, "/banRanges", body)
	}
	if w := doRequest(mux, http.MethodPost, "/banRanges", body); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d over auth quota, want 429", w.Code)
	}
}

type failingPolicy struct {
	err error
}

func (p failingPolicy) Name() string { return "failing" }

func (p failingPolicy) Check(context.Context, string) error { return p.err }

func TestQuotaBackendErrorYieldsServiceUnavailable(t *testing.T) {
	store := banstore.New(banindex.New())
	quota := ratelimit.NewChain(failingPolicy{err: context.Canceled})
	mux := NewServer(store, quota).Routes()

	w := doRequest(mux, http.MethodPost, "/banRanges", BanRangeRequest{From: "10.0.0.0", To: "10.0.0.255"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestListBanRangesLimitIsCapped(t *testing.T) {
	mux, _ := setupAdminTest(t)

	body := BanRangeRequest{From: "10.0.0.0", To: "10.0.0.255"}
	if w := doRequest(mux, http.MethodPost, "/banRanges", body); w.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", w.Code)
	}

	w := doRequest(mux, http.MethodGet, "/banRanges/1?limit=1000000000", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var page BanRangePage
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Limit != maxListLimit {
		t.Fatalf("limit = %d, want %d", page.Limit, maxListLimit)
	}
}
