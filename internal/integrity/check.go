// Package integrity refuses to run a patched binary. Startup hashes
// the executable and compares it against the hash pinned at build or
// install time; a mismatch is journaled to the tamper log and alerted
// before the process exits.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExpectedHash is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/invigil/internal/integrity.ExpectedHash=<sha256hex>"
//
// When empty (dev builds), verification falls back to checksum file.
var ExpectedHash string

// TamperLogDir is the directory where tamper events are written.
// Defaults to /var/log/invigil. Override for testing.
var TamperLogDir = "/var/log/invigil"

// ChecksumPaths are the paths checked (in order) for a sha256 checksum
// file. The file should contain a single hex-encoded SHA-256 hash.
// The installer writes the first; override for testing.
var ChecksumPaths = []string{
	"/etc/invigil/binary.sha256",
	"$HOME/.invigil/binary.sha256",
}

// ConfigPath is where the webhook section is read from when a tamper
// event fires before full config init. Override for testing.
var ConfigPath = "/etc/invigil/config.yaml"

// TamperEvent records a binary integrity violation.
type TamperEvent struct {
	Timestamp    string `json:"timestamp"`
	Binary       string `json:"binary"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
	Hostname     string `json:"hostname"`
	Type         string `json:"type"`
}

// Verify checks the running binary against the pinned hash. Without a
// build-time hash or a checksum file the check is skipped with a
// warning (dev mode). A mismatch writes a tamper event before the
// error comes back.
func Verify() error {
	expected := expectation()
	if expected == "" {
		fmt.Fprintf(os.Stderr, "integrity: WARNING no build-time hash or checksum file found (dev build, integrity check skipped)\n")
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	actual, err := hashFile(exePath)
	if err != nil {
		return fmt.Errorf("integrity: cannot hash binary: %w", err)
	}

	if actual == expected {
		fmt.Fprintf(os.Stderr, "integrity: binary checksum verified (%s...%s)\n",
			actual[:8], actual[len(actual)-8:])
		return nil
	}

	event := TamperEvent{
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Binary:       exePath,
		ExpectedHash: expected,
		ActualHash:   actual,
		Type:         "binary_tamper",
	}
	event.Hostname, _ = os.Hostname()
	writeTamperEvent(event)

	return fmt.Errorf("integrity: binary checksum mismatch (expected %s, got %s)", expected, actual)
}

// expectation resolves the hash the running binary must match: the
// build-time value when set, otherwise the first usable checksum file.
func expectation() string {
	if ExpectedHash != "" {
		return ExpectedHash
	}
	return loadChecksumFile()
}

// HashSelf returns the SHA-256 hex digest of the running binary. The
// installer uses it to pin the just-installed build.
func HashSelf() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return hashFile(exePath)
}

// loadChecksumFile returns the first well-formed digest found under
// ChecksumPaths, or "" when none is readable.
func loadChecksumFile() string {
	for _, p := range ChecksumPaths {
		data, err := os.ReadFile(os.ExpandEnv(p))
		if err != nil {
			continue
		}
		hash := strings.TrimSpace(string(data))
		if len(hash) != 64 || !isHex(hash) {
			continue
		}
		return hash
	}
	return ""
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeTamperEvent leaves the violation everywhere an operator might
// look: the tamper log, stderr (systemd journal), and the configured
// webhooks.
func writeTamperEvent(event TamperEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		return
	}

	appendTamperLog(line)
	fmt.Fprintf(os.Stderr, "TAMPER ALERT: %s\n", string(line))
	dispatchTamperAlert(event)
}

func appendTamperLog(line []byte) {
	if err := os.MkdirAll(TamperLogDir, 0700); err != nil {
		return
	}
	path := filepath.Join(TamperLogDir, "tamper.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	f.Write(append(line, '\n'))
	f.Sync()
	f.Close()
}

// dispatchTamperAlert fires the event at every webhook subscribed to
// "binary_tamper" (an empty events list subscribes to everything). This
// runs before full config init and only parses the webhooks section.
func dispatchTamperAlert(event TamperEvent) {
	configs := loadWebhookConfigs()
	if len(configs) == 0 {
		return
	}

	payload := alertEventFromTamper(event)
	for _, cfg := range configs {
		if !subscribed(cfg.Events) {
			continue
		}
		// Synchronous; the process is about to exit anyway.
		postAlert(cfg, payload)
	}
}

func subscribed(events []string) bool {
	if len(events) == 0 {
		return true
	}
	for _, e := range events {
		if e == "binary_tamper" {
			return true
		}
	}
	return false
}

// webhookConfig is a minimal struct for parsing just the webhooks
// section.
type webhookConfig struct {
	URL     string            `yaml:"url"`
	Format  string            `yaml:"format"`
	Events  []string          `yaml:"events"`
	Headers map[string]string `yaml:"headers"`
}

type configWebhooks struct {
	Webhooks []webhookConfig `yaml:"webhooks"`
}

// loadWebhookConfigs reads just the webhooks section from the daemon
// config file.
func loadWebhookConfigs() []webhookConfig {
	data, err := os.ReadFile(os.ExpandEnv(ConfigPath))
	if err != nil {
		return nil
	}

	var cw configWebhooks
	if err := yaml.Unmarshal(data, &cw); err != nil {
		return nil
	}
	return cw.Webhooks
}

// tamperAlertPayload is the webhook payload for tamper events.
type tamperAlertPayload struct {
	Timestamp    string `json:"timestamp"`
	Host         string `json:"host"`
	Alert        string `json:"alert"`
	Severity     string `json:"severity"`
	Binary       string `json:"binary"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
	Detail       string `json:"detail"`
}

func alertEventFromTamper(event TamperEvent) tamperAlertPayload {
	return tamperAlertPayload{
		Timestamp:    event.Timestamp,
		Host:         event.Hostname,
		Alert:        "binary_tamper",
		Severity:     "critical",
		Binary:       event.Binary,
		ExpectedHash: event.ExpectedHash,
		ActualHash:   event.ActualHash,
		Detail:       fmt.Sprintf("binary checksum mismatch: expected %s, got %s", event.ExpectedHash, event.ActualHash),
	}
}

// postAlert delivers the payload to one webhook. No retries here; the
// daemon's alert center owns durable delivery, this path exists for the
// moments before it is up.
func postAlert(cfg webhookConfig, payload tamperAlertPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "TAMPER ALERT webhook failed: %v\n", err)
		return
	}
	resp.Body.Close()
}
