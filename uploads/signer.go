// Package uploads is the boundary to the upload-signing collaborator. The
// core treats attachments as opaque {url, contentType, name, size} tuples;
// the actual byte transfer is the shell's job.
package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Target is a short-lived signed upload destination plus the stable public
// URL the attachment will be reachable at afterwards.
type Target struct {
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
}

// Signer returns an upload target for a pending attachment.
type Signer interface {
	Sign(ctx context.Context, filename, contentType string, size int64) (Target, error)
}

// HTTPSigner asks the file service to sign an upload.
type HTTPSigner struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSigner(baseURL string, client *http.Client) *HTTPSigner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSigner{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *HTTPSigner) Sign(ctx context.Context, filename, contentType string, size int64) (Target, error) {
	body, err := json.Marshal(map[string]any{
		"filename":     normalizeFilename(filename),
		"content_type": contentType,
		"size":         size,
	})
	if err != nil {
		return Target{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/files/sign", strings.NewReader(string(body)))
	if err != nil {
		return Target{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return Target{}, fmt.Errorf("upload sign: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Target{}, fmt.Errorf("upload sign: status %d", resp.StatusCode)
	}
	var t Target
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return Target{}, fmt.Errorf("upload sign: %w", err)
	}
	if t.UploadURL == "" || t.PublicURL == "" {
		return Target{}, fmt.Errorf("upload sign: incomplete response")
	}
	return t, nil
}

// normalizeFilename: "+" часто приходит вместо пробела (URL-кодирование), отправляем с пробелами (UTF-8).
func normalizeFilename(name string) string {
	return strings.TrimSpace(strings.ReplaceAll(name, "+", " "))
}
