package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestForward_HappyPath(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"stored"}`))
	}))
	defer backend.Close()

	c := NewBackendClient(backend.URL, 10*time.Second)
	body, err := c.Forward(context.Background(), "sensor_001", []byte(`{"temperature":22.5,"humidity":60}`))
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if gotPath != "/device/sensor_001/data" {
		t.Errorf("path = %q", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
	if string(gotBody) != `{"temperature":22.5,"humidity":60}` {
		t.Errorf("backend received %s", gotBody)
	}
	if string(body) != `{"status":"stored"}` {
		t.Errorf("response body = %s", body)
	}
}

func TestForward_PathEscapesDeviceID(t *testing.T) {
	var gotEscaped string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	c := NewBackendClient(backend.URL, 10*time.Second)
	if _, err := c.Forward(context.Background(), "weird/../device", []byte(`{}`)); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if gotEscaped != "/device/weird%2F..%2Fdevice/data" {
		t.Errorf("escaped path = %q", gotEscaped)
	}
}

func TestForward_BackendStatusError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"maintenance"}`))
	}))
	defer backend.Close()

	c := NewBackendClient(backend.URL, 10*time.Second)
	body, err := c.Forward(context.Background(), "sensor_001", []byte(`{}`))

	var statusErr *BackendStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected BackendStatusError, got %v", err)
	}
	if statusErr.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d", statusErr.Status)
	}
	if string(body) != `{"error":"maintenance"}` {
		t.Errorf("body = %s", body)
	}
}

func TestForward_TransportError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	backend.Close() // nothing listening anymore

	c := NewBackendClient(backend.URL, time.Second)
	_, err := c.Forward(context.Background(), "sensor_001", []byte(`{}`))
	if !errors.Is(err, ErrBackendTransport) {
		t.Fatalf("expected ErrBackendTransport, got %v", err)
	}
}

func TestForward_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer backend.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewBackendClient(backend.URL, 10*time.Second)
	_, err := c.Forward(ctx, "sensor_001", []byte(`{}`))
	if !errors.Is(err, ErrBackendTransport) {
		t.Fatalf("expected ErrBackendTransport, got %v", err)
	}
}

func TestForward_TrailingSlashBase(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	c := NewBackendClient(backend.URL+"/", 10*time.Second)
	if _, err := c.Forward(context.Background(), "d", []byte(`{}`)); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if gotPath != "/device/d/data" {
		t.Errorf("path = %q", gotPath)
	}
}
