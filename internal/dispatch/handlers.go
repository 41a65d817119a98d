package dispatch

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/antigravity-dev/reconx/internal/model"
	"github.com/antigravity-dev/reconx/internal/reconutil"
)

func targetPort(action model.Action, def int) int {
	if raw, ok := action.Args["port"]; ok {
		switch v := raw.(type) {
		case int:
			return v
		case float64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return def
}

// HTTPEnum sends a GET to the target over HTTP (HTTPS on port 443) and
// records the Server header as a service evidence entry. The response
// status is not recorded.
func HTTPEnum(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Summary, error) {
	summary := model.NewSummary(0, action.Target)
	port := targetPort(action, 80)
	scheme := "http"
	if port == 443 {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%d/", scheme, action.Target, port)

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return summary, fmt.Errorf("http_enum: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		summary.Findings = append(summary.Findings, model.Finding{
			ID: "http-unreachable", Title: fmt.Sprintf("%s did not respond: %s", url, reconutil.RedactSecrets(err.Error())), Severity: "info",
		})
		return summary, nil
	}
	defer resp.Body.Close()

	ev := model.Evidence{
		Type:    "service",
		Port:    intPtr(port),
		Proto:   "tcp",
		Service: "http",
		Product: resp.Header.Get("Server"),
		URL:     url,
	}
	summary.Evidence = append(summary.Evidence, ev)
	return summary, nil
}

// SSHBanner connects to a target's SSH port and records the raw banner line.
func SSHBanner(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Summary, error) {
	summary := model.NewSummary(0, action.Target)
	port := targetPort(action, 22)
	addr := net.JoinHostPort(action.Target, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		summary.Findings = append(summary.Findings, model.Finding{
			ID: "ssh-unreachable", Title: fmt.Sprintf("%s refused connection", addr), Severity: "info",
		})
		return summary, nil
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 256)
	n, _ := conn.Read(buf)
	banner := reconutil.RedactSecrets(string(buf[:n]))

	summary.Evidence = append(summary.Evidence, model.Evidence{
		Type: "service", Port: intPtr(port), Proto: "tcp", Service: "ssh", Version: banner,
	})
	return summary, nil
}

// DNSEnum resolves a target's A/AAAA records as evidence.
func DNSEnum(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Summary, error) {
	summary := model.NewSummary(0, action.Target)
	resolver := &net.Resolver{}

	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := resolver.LookupHost(lookupCtx, action.Target)
	if err != nil {
		summary.Findings = append(summary.Findings, model.Finding{
			ID: "dns-nxdomain", Title: fmt.Sprintf("%s did not resolve: %s", action.Target, reconutil.RedactSecrets(err.Error())), Severity: "info",
		})
		return summary, nil
	}

	for _, addr := range addrs {
		summary.Evidence = append(summary.Evidence, model.Evidence{
			Type: "dns_record", Name: action.Target, Service: addr,
		})
	}
	return summary, nil
}

// TLSProbe connects over TLS and records the negotiated certificate subject
// and issuer as evidence.
func TLSProbe(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Summary, error) {
	summary := model.NewSummary(0, action.Target)
	port := targetPort(action, 443)
	addr := net.JoinHostPort(action.Target, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		summary.Findings = append(summary.Findings, model.Finding{
			ID: "tls-unreachable", Title: fmt.Sprintf("%s refused TLS handshake", addr), Severity: "info",
		})
		return summary, nil
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) > 0 {
		cert := state.PeerCertificates[0]
		summary.Evidence = append(summary.Evidence, model.Evidence{
			Type: "certificate", Port: intPtr(port), Proto: "tcp",
			Name: cert.Subject.CommonName, Product: cert.Issuer.CommonName,
		})
	}
	return summary, nil
}

// nmapRun models the subset of nmap's XML output this handler reads.
type nmapRun struct {
	XMLName xml.Name   `xml:"nmaprun"`
	Hosts   []nmapHost `xml:"host"`
}

type nmapHost struct {
	Ports struct {
		Port []nmapPort `xml:"port"`
	} `xml:"ports"`
}

type nmapPort struct {
	PortID   int    `xml:"portid,attr"`
	Protocol string `xml:"protocol,attr"`
	State struct {
		State string `xml:"state,attr"`
	} `xml:"state"`
	Service struct {
		Name    string `xml:"name,attr"`
		Product string `xml:"product,attr"`
		Version string `xml:"version,attr"`
	} `xml:"service"`
}

// Nmap shells out to the nmap binary with XML output and parses the result
// into evidence. Kept separate from the layer-script path since nmap is a
// well-known binary rather than a bespoke recon script.
func Nmap(ctx context.Context, action model.Action, outDir string, timeout time.Duration) (model.Summary, error) {
	summary := model.NewSummary(0, action.Target)
	xmlPath := filepath.Join(outDir, fmt.Sprintf("nmap_%s.xml", sanitizeFilename(action.Target)))

	argv := []string{"nmap", "-oX", xmlPath, "-Pn", action.Target}
	_, _, stderr, err := reconutil.SafeRun(argv, reconutil.RunOpts{Timeout: timeout})
	if err != nil {
		summary.Findings = append(summary.Findings, model.Finding{
			ID: "nmap-failed", Title: reconutil.RedactSecrets(stderr), Severity: "info",
		})
		return summary, nil
	}

	data, err := os.ReadFile(xmlPath)
	if err != nil {
		return summary, nil
	}
	var run nmapRun
	if err := xml.Unmarshal(data, &run); err != nil {
		return summary, fmt.Errorf("nmap: parse xml: %w", err)
	}

	for _, host := range run.Hosts {
		for _, p := range host.Ports.Port {
			if p.State.State != "open" {
				continue
			}
			summary.Evidence = append(summary.Evidence, model.Evidence{
				Type: "service", Port: intPtr(p.PortID), Proto: p.Protocol,
				Service: p.Service.Name, Product: p.Service.Product, Version: p.Service.Version,
			})
		}
	}
	summary.Artifacts = append(summary.Artifacts, model.Artifact{Kind: "nmap_xml", Path: xmlPath})
	return summary, nil
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func intPtr(v int) *int { return &v }
