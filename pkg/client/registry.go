package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

type handshakeRequest struct {
	InstanceID    string `json:"instance_id"`
	Project       string `json:"project"`
	Module        string `json:"module,omitempty"`
	Hostname      string `json:"hostname,omitempty"`
	Platform      string `json:"platform,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
}

// ensureInstanceID returns a stable per-machine id, created on first
// use under ~/.logharbor. Falls back to an ephemeral id when the home
// directory is unavailable.
func ensureInstanceID() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return uuid.NewString(), nil
	}

	dir := filepath.Join(homeDir, ".logharbor")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return uuid.NewString(), nil
	}

	idFile := filepath.Join(dir, "id")
	if data, err := os.ReadFile(idFile); err == nil && len(bytes.TrimSpace(data)) > 0 {
		return string(bytes.TrimSpace(data)), nil
	}

	id := uuid.NewString()
	_ = os.WriteFile(idFile, []byte(id), 0o644)
	return id, nil
}

// handshake announces this instance to the server's producer registry.
func (p *pipeline) handshake() error {
	body, err := json.Marshal(handshakeRequest{
		InstanceID:    p.instanceID,
		Project:       p.opts.Project,
		Module:        p.opts.Module,
		Hostname:      p.hostname,
		Platform:      "go-" + runtime.Version(),
		ClientVersion: Version,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(p.opts.ServerURL, "/")+"/api/registry/handshake", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.opts.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("handshake refused: %d %s", resp.StatusCode, string(detail))
	}
	return nil
}
