package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSONError(t *testing.T) {
	w := httptest.NewRecorder()
	JSONError(w, http.StatusConflict, "insufficient_stock", map[string]int{"line": 2})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "insufficient_stock" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestJSONNilPayload(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, nil)
	if w.Body.String() != "null" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestDecode(t *testing.T) {
	var v struct {
		Qty int `json:"qty"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":3}`))
	if err := Decode(httptest.NewRecorder(), r, &v); err != nil || v.Qty != 3 {
		t.Fatalf("Decode = %v, qty %d", err, v.Qty)
	}
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	if err := Decode(httptest.NewRecorder(), r, &v); err == nil {
		t.Fatal("expected error for empty body")
	}
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":`))
	if err := Decode(httptest.NewRecorder(), r, &v); err == nil {
		t.Fatal("expected error for truncated body")
	}
}
