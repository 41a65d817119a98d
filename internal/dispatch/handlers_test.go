package dispatch

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/antigravity-dev/reconx/internal/model"
)

func TestHTTPEnumRecordsServerBanner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx/1.25")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)

	action := model.NewAction("http_enum", host, map[string]interface{}{"port": port})
	summary, err := HTTPEnum(context.Background(), action, t.TempDir(), 2*time.Second)
	if err != nil {
		t.Fatalf("HTTPEnum: %v", err)
	}
	if len(summary.Evidence) != 1 {
		t.Fatalf("expected 1 evidence item, got %d", len(summary.Evidence))
	}
	if summary.Evidence[0].Product != "nginx/1.25" {
		t.Fatalf("Product = %q, want nginx/1.25", summary.Evidence[0].Product)
	}
}

func TestHTTPEnumUnreachableYieldsFindingNotError(t *testing.T) {
	action := model.NewAction("http_enum", "127.0.0.1", map[string]interface{}{"port": 1})
	summary, err := HTTPEnum(context.Background(), action, t.TempDir(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("HTTPEnum should not error on unreachable target: %v", err)
	}
	if len(summary.Findings) != 1 {
		t.Fatalf("expected 1 finding for unreachable target, got %d", len(summary.Findings))
	}
}

func TestDNSEnumResolvesLocalhost(t *testing.T) {
	action := model.NewAction("dns_enum", "localhost", nil)
	summary, err := DNSEnum(context.Background(), action, t.TempDir(), 2*time.Second)
	if err != nil {
		t.Fatalf("DNSEnum: %v", err)
	}
	if len(summary.Evidence) == 0 {
		t.Fatal("expected at least one resolved address for localhost")
	}
}

func TestSSHBannerUnreachable(t *testing.T) {
	action := model.NewAction("ssh_banner", "127.0.0.1", map[string]interface{}{"port": 1})
	summary, err := SSHBanner(context.Background(), action, t.TempDir(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("SSHBanner: %v", err)
	}
	if len(summary.Findings) != 1 {
		t.Fatalf("expected unreachable finding, got %d findings", len(summary.Findings))
	}
}

func TestTargetPortDefaultsAndOverrides(t *testing.T) {
	withPort := model.NewAction("http_enum", "x", map[string]interface{}{"port": 8080})
	if got := targetPort(withPort, 80); got != 8080 {
		t.Fatalf("targetPort = %d, want 8080", got)
	}
	withoutPort := model.NewAction("http_enum", "x", nil)
	if got := targetPort(withoutPort, 80); got != 80 {
		t.Fatalf("targetPort = %d, want default 80", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename("example.com:8080/path"); got != "example_com_8080_path" {
		t.Fatalf("sanitizeFilename = %q", got)
	}
}
