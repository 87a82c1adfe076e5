package daemon

import (
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lydakis/sidecar/internal/bridge"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServeMetricsExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := bridge.NewMetrics(reg); err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	addr := freeAddr(t)
	stop, err := serveMetrics(addr, reg, discardLogger())
	if err != nil {
		t.Fatalf("serveMetrics() error = %v", err)
	}
	defer stop()

	code, body := get(t, "http://"+addr+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, "sidecar_") {
		t.Fatalf("/metrics = %d %q", code, body)
	}
	if code, body := get(t, "http://"+addr+"/health"); code != http.StatusOK || body != "OK" {
		t.Fatalf("/health = %d %q", code, body)
	}
}

func TestServeMetricsRejectsBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	if _, err := serveMetrics(ln.Addr().String(), prometheus.NewRegistry(), discardLogger()); err == nil {
		t.Fatal("serveMetrics() error = nil, want address in use")
	}
}
