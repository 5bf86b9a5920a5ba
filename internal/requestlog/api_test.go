package requestlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type adminStore struct {
	captureStore
	cleared    int64
	endpointID string
}

func (s *adminStore) Clear(_ context.Context, endpointID string) (int64, error) {
	s.endpointID = endpointID
	return s.cleared, nil
}

func adminRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHTTPHandler(store, zap.NewNop()).RegisterRoutes(r.Group("/admin"))
	return r
}

func TestClearLogsViaPost(t *testing.T) {
	store := &adminStore{cleared: 3}
	r := adminRouter(store)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/admin/logs/clear?endpointId=ep-1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body["deleted"] != float64(3) {
		t.Fatalf("deleted = %v", body["deleted"])
	}
	if store.endpointID != "ep-1" {
		t.Fatalf("endpointId = %q", store.endpointID)
	}
}

func TestClearLogsDeleteAlias(t *testing.T) {
	store := &adminStore{cleared: 1}
	r := adminRouter(store)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/admin/logs", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.Code, resp.Body.String())
	}
	if store.endpointID != "" {
		t.Fatalf("endpointId = %q", store.endpointID)
	}
}
