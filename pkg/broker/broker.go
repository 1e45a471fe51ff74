// Package broker implements the server-side session broker: it accepts
// browser-originated SDP offers, relays them to the upstream realtime
// provider with server-held credentials, and returns the answer SDP
// verbatim (spec.md §4.7). Handlers are plain net/http, so they mount
// unchanged under chi, gin, or echo.
package broker

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultCallsURL = "https://api.openai.com/v1/realtime/calls"

// Config configures a Broker.
type Config struct {
	// APIKey authenticates the relayed request. Required.
	APIKey string

	// Organization and Project are forwarded as optional OpenAI headers.
	Organization string
	Project      string

	// CallsURL overrides the upstream endpoint, default
	// https://api.openai.com/v1/realtime/calls.
	CallsURL string
}

// Broker relays SDP offers to the upstream realtime provider.
type Broker struct {
	config     Config
	httpClient *http.Client
}

// New constructs a Broker. httpClient defaults to http.DefaultClient
// when nil.
func New(cfg Config, httpClient *http.Client) *Broker {
	if cfg.CallsURL == "" {
		cfg.CallsURL = defaultCallsURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Broker{config: cfg, httpClient: httpClient}
}

// HandleSession implements the session endpoint contract of spec.md §6:
// it validates the multipart SDP offer, relays it upstream, and returns
// the answer SDP verbatim.
func (b *Broker) HandleSession(w http.ResponseWriter, r *http.Request) {
	sdp, sessionJSON, err := parseOfferForm(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status, body, err := b.relay(r, sdp, sessionJSON)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(status)
	w.Write(body)
}

func parseOfferForm(r *http.Request) (sdp, sessionJSON string, err error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return "", "", fmt.Errorf("Expected multipart/form-data request body.")
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return "", "", fmt.Errorf("Failed to parse multipart form: %v", err)
	}

	sdp = r.FormValue("sdp")
	if sdp == "" {
		return "", "", fmt.Errorf("Missing SDP offer in request body.")
	}

	sessionJSON = r.FormValue("session")
	if sessionJSON == "" {
		return "", "", fmt.Errorf("Missing session form field.")
	}

	var session map[string]any
	if err := json.Unmarshal([]byte(sessionJSON), &session); err != nil {
		return "", "", fmt.Errorf("Session field is not valid JSON.")
	}
	if sessionType, _ := session["type"].(string); sessionType != "realtime" {
		return "", "", fmt.Errorf(`Session configuration must include "type": "realtime".`)
	}

	return sdp, sessionJSON, nil
}

func (b *Broker) relay(r *http.Request, sdp, sessionJSON string) (int, []byte, error) {
	var body strings.Builder
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("sdp", sdp); err != nil {
		return 0, nil, err
	}
	if err := writer.WriteField("session", sessionJSON); err != nil {
		return 0, nil, err
	}
	if err := writer.Close(); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, b.config.CallsURL, strings.NewReader(body.String()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	if b.config.Organization != "" {
		req.Header.Set("OpenAI-Organization", b.config.Organization)
	}
	if b.config.Project != "" {
		req.Header.Set("OpenAI-Project", b.config.Project)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// HandleHealth reports basic liveness.
func (b *Broker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":        true,
		"timestamp": time.Now().Unix(),
	})
}

// ConfigResponse is the payload served by the handler NewConfigHandler
// returns.
type ConfigResponse struct {
	RealtimeSessionURL string `json:"realtimeSessionUrl"`
}

// NewConfigHandler returns a handler reporting the absolute URL of the
// session endpoint at sessionPath, upgrading http to https when the
// incoming request was made over TLS.
func NewConfigHandler(sessionPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		url := fmt.Sprintf("%s://%s%s", scheme, r.Host, sessionPath)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ConfigResponse{RealtimeSessionURL: url})
	}
}
