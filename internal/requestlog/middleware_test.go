package requestlog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dhawalhost/scimprobe/internal/endpoint"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type captureStore struct {
	mu      sync.Mutex
	entries []*Entry
	done    chan struct{}
}

func newCaptureStore() *captureStore {
	return &captureStore{done: make(chan struct{}, 16)}
}

func (s *captureStore) Insert(_ context.Context, e *Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func (s *captureStore) List(context.Context, ListFilter) ([]Entry, int, error) {
	return nil, 0, nil
}

func (s *captureStore) Get(context.Context, string) (*Entry, error) { return nil, ErrNotFound }

func (s *captureStore) Clear(context.Context, string) (int64, error) { return 0, nil }

func (s *captureStore) wait(t *testing.T) *Entry {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("log entry was never written")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[len(s.entries)-1]
}

func captureRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Capture(store, zap.NewNop()))
	r.POST("/Users", func(c *gin.Context) {
		scope := endpoint.Scope{EndpointID: "ep-1"}
		c.Request = c.Request.WithContext(endpoint.WithScope(c.Request.Context(), scope))
		c.JSON(http.StatusCreated, gin.H{"id": "u-1"})
	})
	r.GET("/Users", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"totalResults": 0})
	})
	r.GET("/admin/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": "test"})
	})
	return r
}

func TestCaptureRecordsRequestAndResponse(t *testing.T) {
	store := newCaptureStore()
	r := captureRouter(store)

	body := `{"userName":"ada@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/Users", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/scim+json")
	req.Header.Set("Authorization", "Bearer super-secret")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("handler broken by capture: %d", resp.Code)
	}
	e := store.wait(t)

	if e.Method != "POST" || e.Status != http.StatusCreated {
		t.Fatalf("entry = %+v", e)
	}
	if e.RequestBody == nil || *e.RequestBody != body {
		t.Fatalf("request body = %v", e.RequestBody)
	}
	if e.ResponseBody == nil || !strings.Contains(*e.ResponseBody, "u-1") {
		t.Fatalf("response body = %v", e.ResponseBody)
	}
	if e.EndpointID == nil || *e.EndpointID != "ep-1" {
		t.Fatalf("endpoint id = %v", e.EndpointID)
	}
	if e.Identifier == nil || *e.Identifier != "ada@example.com" {
		t.Fatalf("identifier = %v", e.Identifier)
	}
	if !strings.Contains(string(e.RequestHeaders), "[REDACTED]") {
		t.Fatalf("authorization not redacted: %s", e.RequestHeaders)
	}
	if strings.Contains(string(e.RequestHeaders), "super-secret") {
		t.Fatal("credential leaked into headers")
	}
}

func TestCaptureOutsideTenantScope(t *testing.T) {
	store := newCaptureStore()
	r := captureRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/admin/version", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	e := store.wait(t)
	if e.EndpointID != nil {
		t.Fatalf("non-tenant request must log a null endpoint id, got %v", *e.EndpointID)
	}
	if e.URL != "/admin/version" {
		t.Fatalf("url = %s", e.URL)
	}
}

func TestCaptureRecordsPanic(t *testing.T) {
	store := newCaptureStore()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), Capture(store, zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) {
		panic("kaboom")
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("recovery must still answer 500, got %d", resp.Code)
	}

	e := store.wait(t)
	if e.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", e.Status)
	}
	if e.ErrorMessage == nil || !strings.Contains(*e.ErrorMessage, "kaboom") {
		t.Fatalf("error message = %v", e.ErrorMessage)
	}
	if e.ErrorStack == nil || !strings.Contains(*e.ErrorStack, "goroutine") {
		t.Fatalf("error stack = %v", e.ErrorStack)
	}
}

func TestCaptureRestoresBodyForHandler(t *testing.T) {
	store := newCaptureStore()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Capture(store, zap.NewNop()))
	var seen string
	r.POST("/echo", func(c *gin.Context) {
		raw, _ := c.GetRawData()
		seen = string(raw)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("payload"))
	r.ServeHTTP(httptest.NewRecorder(), req)
	store.wait(t)

	if seen != "payload" {
		t.Fatalf("handler saw %q", seen)
	}
}

func TestIdentifierFromPatchBody(t *testing.T) {
	body := `{"schemas":["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
		"Operations":[{"op":"add","path":"members","value":[{"value":"u-42"}]}]}`
	if got := identifierFrom([]byte(body)); got != "u-42" {
		t.Fatalf("identifier = %q", got)
	}
}

func TestIdentifierFromGroupBody(t *testing.T) {
	if got := identifierFrom([]byte(`{"displayName":"Engineering"}`)); got != "Engineering" {
		t.Fatalf("identifier = %q", got)
	}
	if got := identifierFrom([]byte(`not json`)); got != "" {
		t.Fatalf("identifier = %q", got)
	}
}

func TestKeepaliveClassification(t *testing.T) {
	empty := ""
	id := "ada@example.com"
	cases := []struct {
		entry Entry
		want  bool
	}{
		{Entry{Method: "GET", Status: 200, URL: "/Users?filter=userName%20eq%20%22x%22"}, true},
		{Entry{Method: "GET", Status: 200, URL: "/Users?filter=x", Identifier: &empty}, true},
		{Entry{Method: "GET", Status: 200, URL: "/Users?filter=x", Identifier: &id}, false},
		{Entry{Method: "GET", Status: 404, URL: "/Users?filter=x"}, false},
		{Entry{Method: "GET", Status: 200, URL: "/Users"}, false},
		{Entry{Method: "POST", Status: 201, URL: "/Users?filter=x"}, false},
	}
	for i, tc := range cases {
		if got := tc.entry.keepalive(); got != tc.want {
			t.Fatalf("case %d: keepalive = %v, want %v", i, got, tc.want)
		}
	}
}
