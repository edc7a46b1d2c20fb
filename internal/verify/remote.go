package verify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	id "grouplock/pkg/domain"
)

// Remote calls an external biometric matching service over HTTP. The service
// owns enrollment and the matching algorithm; this client only carries the
// contract the orchestrator needs.
type Remote struct {
	baseURL string
	client  *http.Client
}

// RemoteOption configures a Remote verifier.
type RemoteOption func(*Remote)

// WithHTTPClient overrides the HTTP client (timeouts, transport).
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(r *Remote) {
		if client != nil {
			r.client = client
		}
	}
}

// NewRemote constructs a verifier backed by the matching service at baseURL.
func NewRemote(baseURL string, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

type matchRequest struct {
	PrincipalID string `json:"principal_id"`
	Template    string `json:"template_base64"`
}

type matchResponse struct {
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
}

func (r *Remote) Verify(ctx context.Context, principalID id.PrincipalID, template []byte) (Result, error) {
	if len(template) == 0 {
		return Result{}, ErrCaptureFailed
	}

	body, err := json.Marshal(matchRequest{
		PrincipalID: principalID.String(),
		Template:    base64.StdEncoding.EncodeToString(template),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode match request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/match", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call matching service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var mr matchResponse
		if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
			return Result{}, fmt.Errorf("decode match response: %w", err)
		}
		return Result{Match: mr.Match, Confidence: mr.Confidence}, nil
	case http.StatusUnprocessableEntity:
		// The service could not extract features from the template.
		return Result{}, ErrCaptureFailed
	default:
		return Result{}, fmt.Errorf("matching service returned status %d", resp.StatusCode)
	}
}
