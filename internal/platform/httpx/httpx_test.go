package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onlyusedtesla/checkout/internal/platform/requestctx"
)

func TestWriteErrorIncludesTraceAndDetails(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("invalid_step", "email is required", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"fields": map[string]string{"email": "Enter a valid email."}}))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "invalid_step" || payload["trace_id"] != "trace-1" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, ok := payload["fields"]; !ok {
		t.Fatalf("expected details merged into payload")
	}
}

func TestDecodeJSONLimits(t *testing.T) {
	var dst map[string]any

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`))
	if err := DecodeJSON(req, 16, &dst); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("   "))
	if err := DecodeJSON(req, 16, &dst); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	if err := DecodeJSON(req, 16, &dst); err != nil || dst["a"] != float64(1) {
		t.Fatalf("unexpected decode result %v %v", dst, err)
	}
}
