package httpclient

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewSaferClient(t *testing.T) {
	client := NewSaferClient(30 * time.Second)

	if client.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", client.Timeout)
	}
	if client.maxRedirects != 10 {
		t.Errorf("Expected maxRedirects 10, got %d", client.maxRedirects)
	}
	if !client.blockPrivateIP {
		t.Error("Expected blockPrivateIP to be true")
	}
}

func TestValidateURL(t *testing.T) {
	client := NewSaferClient(30 * time.Second)

	tests := []struct {
		name        string
		url         string
		errContains string
	}{
		{name: "https", url: "https://hooks.example.com/course-done"},
		{name: "file scheme", url: "file:///etc/passwd", errContains: "scheme"},
		{name: "localhost", url: "http://localhost:8080/", errContains: "localhost"},
		{name: "loopback ip", url: "http://127.0.0.1/", errContains: "private"},
		{name: "rfc1918", url: "http://192.168.1.10/", errContains: "private"},
		{name: "metadata service", url: "http://169.254.169.254/latest", errContains: "private"},
		{name: "userinfo", url: "http://example.com@localhost/", errContains: "userinfo"},
		{name: "missing host", url: "http:///path", errContains: "hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ValidateURL(tt.url)
			if tt.errContains == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errContains)
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	cases := map[string]bool{
		"10.1.2.3":      true,
		"172.20.0.1":    true,
		"100.64.1.1":    true,
		"8.8.8.8":       false,
		"::1":           true,
		"fd00::1":       true,
		"fe80::1":       true,
		"2606:4700::11": false,
	}
	for raw, want := range cases {
		if got := isPrivateIP(net.ParseIP(raw)); got != want {
			t.Errorf("isPrivateIP(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestDoBlocksPrivateTargets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewSaferClient(5 * time.Second)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected loopback test server to be blocked")
	}
}

func TestMaxRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/again", http.StatusFound)
	}))
	defer server.Close()

	off := false
	three := 3
	client := NewSaferClientWithOptions(5*time.Second, Options{BlockPrivateIP: &off, MaxRedirects: &three})

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected redirect limit error")
	}
	if !strings.Contains(err.Error(), "stopped after 3 redirects") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"bad key"}`))
			return
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer server.Close()

	client := WrapClient(server.Client())

	var out map[string]string
	err := client.PostJSON(context.Background(), server.URL, map[string]string{"Authorization": "Bearer k"},
		map[string]string{"msg": "hi"}, &out)
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if out["echo"] != "hi" {
		t.Errorf("echo = %q", out["echo"])
	}

	err = client.PostJSON(context.Background(), server.URL+"?key=secret", nil, map[string]string{}, nil)
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Error("query string leaked into error")
	}
}
