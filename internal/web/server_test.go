package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"kundimport/internal/config"
	"kundimport/internal/importer"
	"kundimport/internal/store"
)

const testOrgID = "a6e31b6c-0d0a-4f6e-9c8e-2f4f2b9f0c11"

// memStore backs both the import pipeline and the read-side API in tests.
type memStore struct {
	mu        sync.Mutex
	orgs      map[string]bool
	existing  []importer.ExistingCustomer
	count     int
	customers []store.Customer
	history   []store.HistoryEntry
	pingErr   error
}

func newMemStore() *memStore {
	return &memStore{orgs: map[string]bool{testOrgID: true}}
}

func (m *memStore) FetchExisting(_ context.Context, _ string) ([]importer.ExistingCustomer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existing, nil
}

func (m *memStore) CountCustomers(_ context.Context, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count, nil
}

func (m *memStore) InsertBatch(_ context.Context, _ string, batch []importer.NewCustomer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range batch {
		m.customers = append(m.customers, store.Customer{
			CustomerNumber: c.CustomerNumber,
			Name:           c.Name,
			Email:          c.Email,
			Phone:          c.Phone,
			CreatedAt:      time.Now(),
			ImportedAt:     time.Now(),
		})
	}
	m.count += len(batch)
	return nil
}

func (m *memStore) RecordImport(_ context.Context, rec importer.ImportRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, store.HistoryEntry{
		FileName:   rec.FileName,
		TotalRows:  rec.TotalRows,
		Imported:   rec.Imported,
		Skipped:    rec.Skipped,
		Failed:     rec.Failed,
		ImportedAt: rec.ImportedAt,
	})
	return nil
}

func (m *memStore) OrganizationExists(_ context.Context, organizationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orgs[organizationID], nil
}

func (m *memStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *memStore) ListCustomers(_ context.Context, _ string, limit, offset int) ([]store.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = store.DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(m.customers) {
		return nil, nil
	}
	end := offset + limit
	if end > len(m.customers) {
		end = len(m.customers)
	}
	return m.customers[offset:end], nil
}

func (m *memStore) ListHistory(_ context.Context, _ string, _ int) ([]store.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8080,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: time.Second,
		},
		Import: config.ImportConfig{
			MaxFileSize:   10 * 1024 * 1024,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			BatchSize:     50,
			CommitTimeout: 10 * time.Second,
			SessionTTL:    time.Minute,
		},
		Rate:    config.RateLimitConfig{Enabled: false},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, ms *memStore) *Server {
	t.Helper()
	svc := importer.NewService(ms, nil, importer.Options{
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
		MaxFileSize:   cfg.Import.MaxFileSize,
		BatchSize:     cfg.Import.BatchSize,
		SessionTTL:    cfg.Import.SessionTTL,
		CommitTimeout: cfg.Import.CommitTimeout,
	})
	return NewServer(cfg, svc, ms)
}

func multipartUpload(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func doRequest(s *Server, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func waitForReview(t *testing.T, s *Server, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rr := doRequest(s, http.MethodGet, "/api/import/session/"+sessionID, nil, "")
		var p struct {
			Phase string `json:"phase"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
			t.Fatalf("decode progress: %v", err)
		}
		switch p.Phase {
		case "review":
			return
		case "failed":
			t.Fatalf("session failed: %s", p.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never reached review")
}

func TestHealthz(t *testing.T) {
	ms := newMemStore()
	s := newTestServer(t, testConfig(), ms)

	rr := doRequest(s, http.MethodGet, "/healthz", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	// A dead database pool turns the health check red.
	ms.mu.Lock()
	ms.pingErr = errors.New("connection refused")
	ms.mu.Unlock()

	rr = doRequest(s, http.MethodGet, "/healthz", nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("db-down status = %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "unavailable") {
		t.Errorf("db-down body = %s", rr.Body.String())
	}
}

func TestTemplateDownload(t *testing.T) {
	s := newTestServer(t, testConfig(), newMemStore())

	rr := doRequest(s, http.MethodGet, "/api/template", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("csv status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("csv content type = %q", ct)
	}
	if !strings.HasPrefix(rr.Body.String(), "Namn;E-post;") {
		t.Errorf("csv body starts %q", rr.Body.String()[:40])
	}

	rr = doRequest(s, http.MethodGet, "/api/template?format=xlsx", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("xlsx status = %d", rr.Code)
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("PK")) {
		t.Error("xlsx body is not a zip archive")
	}

	rr = doRequest(s, http.MethodGet, "/api/template?format=pdf", nil, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("pdf status = %d, want 400", rr.Code)
	}
}

func TestImportFlow(t *testing.T) {
	ms := newMemStore()
	s := newTestServer(t, testConfig(), ms)

	csv := "Namn;Email;Telefon\n" +
		"Anna Svensson;anna@x.se;0701234567\n" +
		"Bolag AB;;08-1234567\n" +
		";bad@;123\n"
	body, ct := multipartUpload(t, "kunder.csv", csv)

	rr := doRequest(s, http.MethodPost, "/api/import/"+testOrgID, body, ct)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rr.Code, rr.Body.String())
	}
	var started struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &started); err != nil || started.SessionID == "" {
		t.Fatalf("start response = %s", rr.Body.String())
	}

	waitForReview(t, s, started.SessionID)

	rr = doRequest(s, http.MethodGet, "/api/import/session/"+started.SessionID+"/summary", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rr.Code)
	}
	var sum importer.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Ready != 2 || sum.Errors != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	rr = doRequest(s, http.MethodPost, "/api/import/session/"+started.SessionID+"/commit", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("commit status = %d: %s", rr.Code, rr.Body.String())
	}
	var result importer.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Imported != 2 || result.FirstNumber != "0001" || result.LastNumber != "0002" {
		t.Fatalf("result = %+v", result)
	}

	rr = doRequest(s, http.MethodGet, "/api/customers/"+testOrgID, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("customers status = %d", rr.Code)
	}
	var listing struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode customers: %v", err)
	}
	if listing.Count != 2 {
		t.Errorf("customer count = %d, want 2", listing.Count)
	}
	if !strings.Contains(rr.Body.String(), `"createdAt"`) {
		t.Errorf("customer listing lacks createdAt: %s", rr.Body.String())
	}

	rr = doRequest(s, http.MethodGet, "/api/history/"+testOrgID, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("history status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "kunder.csv") {
		t.Errorf("history body = %s", rr.Body.String())
	}
}

func TestImportExcludeRows(t *testing.T) {
	ms := newMemStore()
	s := newTestServer(t, testConfig(), ms)

	csv := "Namn\nAnna Svensson\nBolag AB\n"
	body, ct := multipartUpload(t, "kunder.csv", csv)
	rr := doRequest(s, http.MethodPost, "/api/import/"+testOrgID, body, ct)
	var started struct {
		SessionID string `json:"sessionId"`
	}
	json.Unmarshal(rr.Body.Bytes(), &started)
	waitForReview(t, s, started.SessionID)

	exclude := bytes.NewBufferString(`{"rows":[2]}`)
	rr = doRequest(s, http.MethodPost, "/api/import/session/"+started.SessionID+"/exclude", exclude, "application/json")
	if rr.Code != http.StatusOK {
		t.Fatalf("exclude status = %d: %s", rr.Code, rr.Body.String())
	}
	var sum importer.Summary
	json.Unmarshal(rr.Body.Bytes(), &sum)
	if sum.Ready != 1 {
		t.Errorf("ready after exclude = %d, want 1", sum.Ready)
	}
}

func TestListCustomersPagination(t *testing.T) {
	ms := newMemStore()
	for i := 1; i <= 3; i++ {
		ms.customers = append(ms.customers, store.Customer{
			CustomerNumber: importer.FormatCustomerNumber(i),
			Name:           "Kund " + strconv.Itoa(i),
			CreatedAt:      time.Now(),
			ImportedAt:     time.Now(),
		})
	}
	s := newTestServer(t, testConfig(), ms)

	rr := doRequest(s, http.MethodGet, "/api/customers/"+testOrgID+"?limit=1&offset=1", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var listing struct {
		Customers []store.Customer `json:"customers"`
		Count     int              `json:"count"`
		Offset    int              `json:"offset"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode customers: %v", err)
	}
	if listing.Count != 1 || listing.Offset != 1 {
		t.Fatalf("count = %d, offset = %d, want 1 and 1", listing.Count, listing.Offset)
	}
	if listing.Customers[0].CustomerNumber != "0002" {
		t.Errorf("page starts at %s, want 0002", listing.Customers[0].CustomerNumber)
	}
}

func TestImportRejectsBadOrganization(t *testing.T) {
	s := newTestServer(t, testConfig(), newMemStore())
	body, ct := multipartUpload(t, "kunder.csv", "Namn\nAnna\n")

	rr := doRequest(s, http.MethodPost, "/api/import/not-a-uuid", body, ct)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid uuid status = %d, want 400", rr.Code)
	}

	body, ct = multipartUpload(t, "kunder.csv", "Namn\nAnna\n")
	rr = doRequest(s, http.MethodPost, "/api/import/b2a7c1de-0000-4000-8000-000000000000", body, ct)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown org status = %d, want 404", rr.Code)
	}
}

func TestSessionNotFound(t *testing.T) {
	s := newTestServer(t, testConfig(), newMemStore())
	rr := doRequest(s, http.MethodGet, "/api/import/session/missing/summary", nil, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "IMP002") {
		t.Errorf("body = %s, want IMP002 code", rr.Body.String())
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret-key"}
	s := newTestServer(t, cfg, newMemStore())

	rr := doRequest(s, http.MethodGet, "/api/template", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("without key status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/template", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key status = %d, want 200", rec.Code)
	}

	// Health stays open for probes.
	rr = doRequest(s, http.MethodGet, "/healthz", nil, "")
	if rr.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rr.Code)
	}
}
