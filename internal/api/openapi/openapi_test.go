package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodPost, "/upload", true},
		{http.MethodGet, "/files/{ref}", true},
		{http.MethodDelete, "/files/{ref}", true},
		{http.MethodGet, "/files/{ref}/meta", true},
		{http.MethodGet, "/download/{id}", true},
		{http.MethodPut, "/upload", false},
		{http.MethodGet, "/unknown", false},
	}
	for _, tt := range tests {
		if got := Describes(doc, tt.method, tt.path); got != tt.want {
			t.Errorf("Describes(%s %s) = %v, ожидалось %v", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	h, err := Handler(doc)
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("ответ: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	if body["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v", body["openapi"])
	}
}
