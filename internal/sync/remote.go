package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/cartworks/tally/internal/model"
)

// HTTPRemote talks JSON over HTTP to the authoritative remote store.
//
// Pushes are idempotent on the change id (sent as an Idempotency-Key
// header) so an ack lost on the wire cannot duplicate a remote write.
// Pulls are repeatable for an unchanged checkpoint.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
	apiKey  string
	logger  *log.Logger
}

// NewHTTPRemote creates a remote client for the given base URL.
//
// If httpClient is nil, a client with a 30s timeout is used. If logger is
// nil, a default logger writing to stderr is used.
func NewHTTPRemote(baseURL, apiKey string, httpClient *http.Client, logger *log.Logger) *HTTPRemote {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &HTTPRemote{
		baseURL: baseURL,
		client:  httpClient,
		apiKey:  apiKey,
		logger:  logger,
	}
}

// Push implements RemoteClient.Push.
func (r *HTTPRemote) Push(ctx context.Context, change *model.PendingChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change %s: %w", change.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/changes", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", change.ID)
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &RejectedError{StatusCode: resp.StatusCode, Message: readErrorBody(resp.Body)}
	default:
		return &TransientError{Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	}
}

// pullResponse is the wire format of GET /v1/deltas.
type pullResponse struct {
	Deltas     []model.Delta `json:"deltas"`
	Checkpoint string        `json:"checkpoint"`
}

// Pull implements RemoteClient.Pull.
func (r *HTTPRemote) Pull(ctx context.Context, since string) ([]model.Delta, string, error) {
	url := r.baseURL + "/v1/deltas"
	if since != "" {
		url += "?since=" + since
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build pull request: %w", err)
	}
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, "", &RejectedError{StatusCode: resp.StatusCode, Message: readErrorBody(resp.Body)}
		}
		return nil, "", &TransientError{Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	}

	var pr pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, "", &TransientError{Err: fmt.Errorf("failed to decode deltas: %w", err)}
	}
	return pr.Deltas, pr.Checkpoint, nil
}

// Probe implements RemoteClient.Probe with a short HEAD request.
func (r *HTTPRemote) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodHead, r.baseURL+"/v1/ping", nil)
	if err != nil {
		return false
	}
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// authorize attaches the device API key, when configured.
func (r *HTTPRemote) authorize(req *http.Request) {
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
}

// readErrorBody pulls a short error message out of a response body.
func readErrorBody(body io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil || len(b) == 0 {
		return "(no body)"
	}
	return string(b)
}
