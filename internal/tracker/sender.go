package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sitepulse/internal/sessions"
)

// Sender delivers signals to the collector. Delivery is at-most-once: the
// driver never retries, the server compensates for gaps.
type Sender interface {
	SendStart(sig *sessions.StartSignal) error
	SendHeartbeat(sig *sessions.HeartbeatSignal) error
	SendPageChange(sig *sessions.PageChangeSignal) error
	SendEnd(sig *sessions.EndSignal) error
}

const defaultSendTimeout = 10 * time.Second

// HTTPSender posts signals as JSON to the public ingestion endpoints.
type HTTPSender struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPSender(baseURL string, logger *slog.Logger) *HTTPSender {
	return &HTTPSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultSendTimeout},
		logger:  logger,
	}
}

func (s *HTTPSender) SendStart(sig *sessions.StartSignal) error {
	return s.post("/x/api/v1/sessions/start", sig)
}

func (s *HTTPSender) SendHeartbeat(sig *sessions.HeartbeatSignal) error {
	return s.post("/x/api/v1/sessions/heartbeat", sig)
}

func (s *HTTPSender) SendPageChange(sig *sessions.PageChangeSignal) error {
	return s.post("/x/api/v1/sessions/page-change", sig)
}

// SendEnd targets the beacon endpoint: the driver is usually tearing down
// when it fires, so the response never matters.
func (s *HTTPSender) SendEnd(sig *sessions.EndSignal) error {
	return s.post("/x/api/v1/sessions/end/beacon", sig)
}

func (s *HTTPSender) post(path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}

	resp, err := s.client.Post(s.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to deliver signal to %s: %w", path, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("signal to %s rejected with status %d", path, resp.StatusCode)
	}
	return nil
}
