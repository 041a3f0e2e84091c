package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPRuntime_Send(t *testing.T) {
	var got chatRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	factory := NewHTTPFactory(srv.URL, "tok-123", time.Minute)
	rt := factory("grace", "Grace")

	if err := rt.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := rt.Send(context.Background(), "hello there"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if got.Model != "grace" {
		t.Errorf("model = %q, want agent id", got.Model)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "hello there" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
}

func TestHTTPRuntime_SendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rt := NewHTTPFactory(srv.URL, "", time.Minute)("grace", "Grace")
	err := rt.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v, want status 503", err)
	}
}

func TestHTTPRuntime_InitializeRequiresEndpoint(t *testing.T) {
	rt := NewHTTPFactory("", "", 0)("grace", "Grace")
	if err := rt.Initialize(context.Background()); err == nil {
		t.Error("initialize without endpoint succeeded")
	}
}
