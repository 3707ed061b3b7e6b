package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProvisionRequest is the payload for POST /voice/session.
type ProvisionRequest struct {
	WalletAddress      string  `json:"walletAddress"`
	UserID             string  `json:"userId,omitempty"`
	Voice              string  `json:"voice,omitempty"`
	Model              string  `json:"model,omitempty"`
	SystemInstructions string  `json:"systemInstructions,omitempty"`
	Temperature        float64 `json:"temperature,omitempty"`
	UnhingedMode       bool    `json:"unhingedMode,omitempty"`
}

// ProvisionResponse is the backend's session grant.
type ProvisionResponse struct {
	SessionID     string  `json:"sessionId"`
	Message       string  `json:"message"`
	ChannelPath   string  `json:"wsUrl"`
	MaxDuration   int     `json:"maxDuration"`
	EstimatedCost float64 `json:"estimatedCost"`
}

// SessionStatus is the response of GET /voice/session/{id}.
type SessionStatus struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// VoiceCost is the response of GET /voice/cost.
type VoiceCost struct {
	CostPerMinute float64 `json:"costPerMinute,omitempty"`
	EstimatedCost float64 `json:"estimatedCost,omitempty"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Provisioner issues the REST calls that create, inspect, and release
// backend voice sessions.
type Provisioner struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewProvisioner creates a provisioner for the given API base URL
// (e.g. http://localhost:5000/api).
func NewProvisioner(baseURL string, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// Create provisions a new voice session. Rejections come back as
// *ProvisionError carrying the HTTP status and backend message.
func (p *Provisioner) Create(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/voice/session", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach voice service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, p.asProvisionError(resp)
	}

	var session ProvisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}

	p.logger.Info().
		Str("session_id", session.SessionID).
		Int("max_duration", session.MaxDuration).
		Float64("estimated_cost", session.EstimatedCost).
		Msg("Voice session provisioned")

	return &session, nil
}

// Status looks up an existing session.
func (p *Provisioner) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/voice/session/"+sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach voice service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.asProvisionError(resp)
	}

	var status SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

// Release tells the backend to tear down a session. Best-effort: the
// caller logs failures but local cleanup never blocks on this call.
func (p *Provisioner) Release(ctx context.Context, sessionID, walletAddress string) error {
	var body *bytes.Buffer
	if walletAddress != "" {
		jsonData, err := json.Marshal(map[string]string{"walletAddress": walletAddress})
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	} else {
		body = bytes.NewBuffer(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/voice/session/"+sessionID, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach voice service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("voice session release returned status %d", resp.StatusCode)
	}
	return nil
}

// Cost queries voice session pricing.
func (p *Provisioner) Cost(ctx context.Context) (*VoiceCost, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/voice/cost", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach voice service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.asProvisionError(resp)
	}

	var cost VoiceCost
	if err := json.NewDecoder(resp.Body).Decode(&cost); err != nil {
		return nil, fmt.Errorf("failed to decode cost response: %w", err)
	}
	return &cost, nil
}

// ChannelURL resolves the websocket address for a session's channel
// path. The channel lives on the API origin, not under the /api
// prefix.
func (p *Provisioner) ChannelURL(channelPath string) string {
	origin := strings.TrimSuffix(p.baseURL, "/api")
	switch {
	case strings.HasPrefix(origin, "https://"):
		origin = "wss://" + strings.TrimPrefix(origin, "https://")
	case strings.HasPrefix(origin, "http://"):
		origin = "ws://" + strings.TrimPrefix(origin, "http://")
	}
	return origin + channelPath
}

func (p *Provisioner) asProvisionError(resp *http.Response) *ProvisionError {
	var apiErr apiError
	// Decode failures leave the message empty; UserMessage falls back
	// to a status-specific default.
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)

	message := apiErr.Error
	if message == "" {
		message = apiErr.Message
	}

	return &ProvisionError{
		Status:  resp.StatusCode,
		Message: message,
	}
}
