package requestlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dhawalhost/scimprobe/internal/endpoint"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxCapturedBody caps how much of a body is persisted per direction.
const maxCapturedBody = 64 << 10

// insertTimeout bounds the async log write so a slow database cannot pile
// up goroutines.
const insertTimeout = 5 * time.Second

type bodyWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	if w.buf.Len() < maxCapturedBody {
		w.buf.Write(b[:min(len(b), maxCapturedBody-w.buf.Len())])
	}
	return w.ResponseWriter.Write(b)
}

func (w *bodyWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Capture records every request passing through it. Capture never fails the
// request: a log write error is swallowed with a warning.
func Capture(store Store, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var reqBody []byte
		if c.Request.Body != nil {
			reqBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxCapturedBody+1))
			c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(reqBody), c.Request.Body))
		}
		if len(reqBody) > maxCapturedBody {
			reqBody = reqBody[:maxCapturedBody]
		}

		bw := &bodyWriter{ResponseWriter: c.Writer}
		c.Writer = bw

		// The entry is assembled in a defer so a panicking handler is still
		// recorded, stack included, before the recovery middleware sees it.
		defer func() {
			rec := recover()

			e := &Entry{
				Method:     c.Request.Method,
				URL:        c.Request.URL.String(),
				Status:     c.Writer.Status(),
				DurationMS: time.Since(start).Milliseconds(),
			}
			if scope, ok := endpoint.ScopeFromContext(c.Request.Context()); ok {
				id := scope.EndpointID
				e.EndpointID = &id
			}
			e.RequestHeaders = marshalHeaders(c.Request.Header)
			if len(reqBody) > 0 {
				s := string(reqBody)
				e.RequestBody = &s
			}
			e.ResponseHeaders = marshalHeaders(c.Writer.Header())
			if bw.buf.Len() > 0 {
				s := bw.buf.String()
				e.ResponseBody = &s
			}
			if msg := c.Errors.String(); msg != "" {
				e.ErrorMessage = &msg
			}
			if rec != nil {
				msg := fmt.Sprint(rec)
				e.ErrorMessage = &msg
				stack := string(debug.Stack())
				e.ErrorStack = &stack
				e.Status = http.StatusInternalServerError
			}
			if id := identifierFrom(reqBody); id != "" {
				e.Identifier = &id
			}

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
				defer cancel()
				if err := store.Insert(ctx, e); err != nil {
					logger.Warn("request log write failed",
						zap.String("method", e.Method),
						zap.String("url", e.URL),
						zap.Error(err))
				}
			}()

			if rec != nil {
				panic(rec)
			}
		}()
		c.Next()
	}
}

// marshalHeaders flattens headers for the jsonb column, redacting
// credentials.
func marshalHeaders(h map[string][]string) []byte {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if strings.EqualFold(k, "Authorization") {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = strings.Join(vs, ", ")
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return []byte(`{}`)
	}
	return raw
}

// identifierFrom pulls the human-searchable handle out of a request body:
// userName for Users, displayName for Groups, the first member value for
// membership patches.
func identifierFrom(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	for _, key := range []string{"userName", "displayName"} {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}
	// PatchOp bodies bury the handle inside operation values.
	ops, ok := doc["Operations"].([]any)
	if !ok {
		return ""
	}
	for _, o := range ops {
		op, ok := o.(map[string]any)
		if !ok {
			continue
		}
		if s := valueIdentifier(op["value"]); s != "" {
			return s
		}
	}
	return ""
}

func valueIdentifier(v any) string {
	switch t := v.(type) {
	case map[string]any:
		for _, key := range []string{"userName", "displayName", "value"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
		if members, ok := t["members"].([]any); ok {
			for _, m := range members {
				if s := valueIdentifier(m); s != "" {
					return s
				}
			}
		}
	case []any:
		for _, e := range t {
			if s := valueIdentifier(e); s != "" {
				return s
			}
		}
	}
	return ""
}
