// Package realtimeclient owns the realtime session lifecycle: peer
// connection and data channel setup, the server-brokered SDP exchange,
// and event demultiplexing into per-call argument streams (spec.md
// §4.4).
package realtimeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/digitallysavvy/realtimevoice/pkg/protocol"
	"github.com/digitallysavvy/realtimevoice/pkg/transport"
)

// State is the top-level session lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateClosing    State = "closing"
	StateError      State = "error"
)

const defaultDataChannelLabel = "oai-events"

// ToolCallStart is published once per newly observed call-id, carrying
// the ordered stream of its argument fragments.
type ToolCallStart struct {
	CallID         string
	ItemID         string
	ResponseID     string
	ArgumentChunks <-chan string
}

// Config configures a Client.
type Config struct {
	// Factory constructs the underlying peer connection. Required.
	Factory transport.PeerConnectionFactory

	// Microphone captures the local audio stream. Optional: when nil,
	// or when capture fails, the client still advertises a recvonly
	// audio transceiver and continues without a local track.
	Microphone transport.MicrophoneCapturer

	// HTTPClient performs the SDP exchange POST. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// SessionURL is the session broker endpoint the SDP offer is
	// POSTed to.
	SessionURL string

	// SessionConfig is forwarded verbatim as the `session` form field;
	// it must at minimum include `"type": "realtime"`.
	SessionConfig map[string]any

	// DataChannelLabel overrides the default "oai-events" label.
	DataChannelLabel string
}

// Client owns one realtime session's transport lifecycle and exposes
// its streams.
type Client struct {
	factory          transport.PeerConnectionFactory
	mic              transport.MicrophoneCapturer
	httpClient       *http.Client
	sessionURL       string
	sessionConfig    map[string]any
	dataChannelLabel string

	mu sync.Mutex
	// generation is bumped by every Connect and every teardown; a
	// Connect in flight compares its captured value against the
	// current one before declaring StateConnected, so a concurrent
	// Disconnect can't be silently clobbered by a Connect that started
	// before it.
	generation int
	state      State
	pc         transport.PeerConnection
	dc         transport.DataChannel
	micStream  transport.MediaStream
	micTrack   transport.AudioTrack

	events         *unboundedQueue[protocol.ServerEvent]
	toolCallStarts *unboundedQueue[ToolCallStart]
	remoteAudio    chan transport.MediaStream

	callArgumentStreams map[string]*unboundedQueue[string]
	callNameByID        map[string]string
}

// New constructs a Client in the idle state. Streams are open
// immediately; they deliver events only once connect succeeds.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	label := cfg.DataChannelLabel
	if label == "" {
		label = defaultDataChannelLabel
	}
	return &Client{
		factory:             cfg.Factory,
		mic:                 cfg.Microphone,
		httpClient:          httpClient,
		sessionURL:          cfg.SessionURL,
		sessionConfig:       cfg.SessionConfig,
		dataChannelLabel:    label,
		state:               StateIdle,
		events:              newUnboundedQueue[protocol.ServerEvent](),
		toolCallStarts:      newUnboundedQueue[ToolCallStart](),
		remoteAudio:         make(chan transport.MediaStream, 8),
		callArgumentStreams: make(map[string]*unboundedQueue[string]),
		callNameByID:        make(map[string]string),
	}
}

// Events returns every parsed server event plus synthetic lifecycle
// events, in receipt order. The queue is unbounded: a slow consumer
// delays delivery but never loses an event.
func (c *Client) Events() <-chan protocol.ServerEvent { return c.events.out() }

// ToolCallStarts returns one emission per newly observed call-id,
// unbounded for the same reason as Events.
func (c *Client) ToolCallStarts() <-chan ToolCallStart { return c.toolCallStarts.out() }

// RemoteAudioStream returns remote audio media streams as they arrive
// via ontrack.
func (c *Client) RemoteAudioStream() <-chan transport.MediaStream { return c.remoteAudio }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect negotiates a new session. It is idempotent: calling it while
// already non-idle is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.generation++
	myGeneration := c.generation
	c.mu.Unlock()

	pc, err := c.factory.NewPeerConnection(ctx)
	if err != nil {
		c.publishLocalError("transport error", err.Error())
		c.resetToIdle()
		return err
	}

	if err := pc.AddTransceiver("audio", transport.DirectionRecvOnly); err != nil {
		pc.Close()
		c.publishLocalError("transport error", err.Error())
		c.resetToIdle()
		return err
	}

	c.attemptMicrophoneCapture(ctx, pc)

	dc, err := pc.CreateDataChannel(c.dataChannelLabel)
	if err != nil {
		pc.Close()
		c.publishLocalError("transport error", err.Error())
		c.resetToIdle()
		return err
	}

	c.mu.Lock()
	c.pc = pc
	c.dc = dc
	c.mu.Unlock()

	opened := make(chan struct{})
	c.wireHandlers(pc, dc, opened)

	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		pc.Close()
		c.publishLocalError("session setup failed", err.Error())
		c.resetToIdle()
		return err
	}
	if offer.SDP == "" {
		pc.Close()
		c.publishLocalError("session setup failed", "peer offer did not include SDP")
		c.resetToIdle()
		return fmt.Errorf("realtimeclient: peer offer did not include SDP")
	}

	answerSDP, err := c.exchangeSDP(ctx, offer.SDP)
	if err != nil {
		pc.Close()
		c.publishLocalError("session setup failed", err.Error())
		c.resetToIdle()
		return err
	}

	if err := pc.SetRemoteDescription(ctx, transport.SessionDescription{Type: "answer", SDP: answerSDP}); err != nil {
		pc.Close()
		c.publishLocalError("session setup failed", err.Error())
		c.resetToIdle()
		return err
	}

	// spec.md §4.4: connect() applies the answer SDP, then awaits onopen
	// of the data channel before the session is considered connected.
	select {
	case <-opened:
	case <-ctx.Done():
		pc.Close()
		c.publishLocalError("session setup failed", "data channel did not open before the context was done")
		c.resetToIdle()
		return ctx.Err()
	}

	c.mu.Lock()
	if c.generation != myGeneration {
		// A concurrent Disconnect tore this attempt down while it was
		// still negotiating; it already returned the client to idle,
		// so just close the connection this attempt built and bail.
		c.mu.Unlock()
		pc.Close()
		return fmt.Errorf("realtimeclient: connect was superseded by a concurrent disconnect")
	}
	c.state = StateConnected
	c.mu.Unlock()
	return nil
}

func (c *Client) attemptMicrophoneCapture(ctx context.Context, pc transport.PeerConnection) {
	if c.mic == nil {
		return
	}
	stream, err := c.mic.CaptureAudio(ctx)
	if err != nil {
		c.publishLocalError("microphone capture failed", err.Error())
		return
	}
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		return
	}
	if err := pc.AddTrack(tracks[0], stream); err != nil {
		c.publishLocalError("microphone capture failed", err.Error())
		return
	}
	c.mu.Lock()
	c.micStream = stream
	c.micTrack = tracks[0]
	c.mu.Unlock()
}

// exchangeSDP POSTs the offer as a multipart form to the session
// endpoint and returns the raw answer SDP body.
func (c *Client) exchangeSDP(ctx context.Context, offerSDP string) (string, error) {
	sessionJSON, err := json.Marshal(c.sessionConfig)
	if err != nil {
		return "", fmt.Errorf("realtimeclient: session configuration is not JSON serializable: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("sdp", offerSDP); err != nil {
		return "", err
	}
	if err := writer.WriteField("session", string(sessionJSON)); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("realtimeclient: session setup failed: %w", err)
	}
	defer resp.Body.Close()

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("realtimeclient: session setup failed: upstream returned %d", resp.StatusCode)
	}
	if len(answer) == 0 {
		return "", fmt.Errorf("realtimeclient: session setup returned empty SDP")
	}
	return string(answer), nil
}

func (c *Client) wireHandlers(pc transport.PeerConnection, dc transport.DataChannel, opened chan struct{}) {
	var openOnce sync.Once
	dc.OnOpen(func() {
		c.publishEvent(protocol.NewConnectionOpenEvent())
		openOnce.Do(func() { close(opened) })
	})
	dc.OnMessage(func(data []byte) {
		c.handleMessage(data)
	})
	dc.OnError(func(err error) {
		c.publishLocalError("transport error", err.Error())
	})
	dc.OnClose(func() {
		c.teardown()
	})
	pc.OnConnectionStateChange(func(s transport.ConnectionState) {
		if s == transport.ConnectionStateClosed || s == transport.ConnectionStateDisconnected {
			c.teardown()
		}
	})
	pc.OnTrack(func(stream transport.MediaStream) {
		select {
		case c.remoteAudio <- stream:
		default:
		}
	})
}

// handleMessage implements the event demultiplexing algorithm of
// spec.md §4.4.
func (c *Client) handleMessage(data []byte) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		c.publishLocalError("invalid JSON payload", err.Error())
		return
	}

	if callID, name, ok := protocol.ExtractFunctionCallAdded(raw); ok {
		c.mu.Lock()
		c.callNameByID[callID] = name
		c.mu.Unlock()
	}

	ev, err := protocol.ParseServerEvent(raw)
	if err != nil {
		c.publishLocalError("invalid event envelope", err.Error())
		return
	}

	if protocol.IsDone(ev) && ev.Name == "" {
		c.mu.Lock()
		cachedName := c.callNameByID[ev.CallID]
		c.mu.Unlock()
		if cachedName != "" {
			ev.Name = cachedName
		}
	}

	switch {
	case protocol.IsDelta(ev):
		c.routeDelta(ev)
	case protocol.IsDone(ev):
		c.completeCall(ev)
	}

	c.publishEvent(ev)
}

func (c *Client) routeDelta(ev protocol.ServerEvent) {
	c.mu.Lock()
	stream, existed := c.callArgumentStreams[ev.CallID]
	if !existed {
		stream = newUnboundedQueue[string]()
		c.callArgumentStreams[ev.CallID] = stream
	}
	c.mu.Unlock()

	if !existed {
		c.publishToolCallStart(ToolCallStart{
			CallID:         ev.CallID,
			ItemID:         firstNonEmpty(ev.ItemID, ev.CallID),
			ResponseID:     firstNonEmpty(ev.ResponseID, "unknown_response"),
			ArgumentChunks: stream.out(),
		})
	}

	stream.push(ev.Delta)
}

func (c *Client) completeCall(ev protocol.ServerEvent) {
	c.mu.Lock()
	stream, existed := c.callArgumentStreams[ev.CallID]
	delete(c.callArgumentStreams, ev.CallID)
	delete(c.callNameByID, ev.CallID)
	c.mu.Unlock()
	if existed {
		stream.close()
	}
}

func (c *Client) publishToolCallStart(start ToolCallStart) {
	c.toolCallStarts.push(start)
}

func (c *Client) publishEvent(ev protocol.ServerEvent) {
	c.events.push(ev)
}

func (c *Client) publishLocalError(kind, message string) {
	c.publishEvent(protocol.NewLocalErrorEvent(kind, message))
}

// Send validates and writes a client event to the data channel. It
// never buffers: before the data channel is open, Send publishes a
// local error event instead of queueing.
func (c *Client) Send(ev protocol.ClientEvent) {
	raw := ev.Raw
	if raw == nil {
		raw = map[string]any{"type": ev.Type}
	}
	if _, err := protocol.ParseClientEvent(raw); err != nil {
		c.publishLocalError("payload failed validation", err.Error())
		return
	}

	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil || dc.ReadyState() != transport.DataChannelOpen {
		c.publishLocalError("data channel not open", "Cannot send before data channel is open.")
		return
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		c.publishLocalError("payload not JSON-serializable", "Client payload is not JSON serializable.")
		return
	}

	if err := dc.Send(string(payload)); err != nil {
		c.publishLocalError("transport error", err.Error())
	}
}

// SetMicrophoneEnabled toggles the local audio track's enabled state,
// attempting capture on first enable if no track exists yet.
func (c *Client) SetMicrophoneEnabled(ctx context.Context, enabled bool) {
	c.mu.Lock()
	pc := c.pc
	track := c.micTrack
	c.mu.Unlock()

	if pc == nil {
		c.publishLocalError("transport error", "Cannot set microphone state before a peer connection exists.")
		return
	}

	if track != nil {
		track.SetEnabled(enabled)
		return
	}
	if !enabled {
		return
	}
	c.attemptMicrophoneCapture(ctx, pc)
}

// Disconnect tears down the transport, completes all outstanding
// per-call streams, and publishes runtime.connection.closed.
func (c *Client) Disconnect() {
	c.teardown()
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.generation++

	pc := c.pc
	dc := c.dc
	micStream := c.micStream
	micTrack := c.micTrack
	c.pc = nil
	c.dc = nil
	c.micStream = nil
	c.micTrack = nil

	streams := c.callArgumentStreams
	c.callArgumentStreams = make(map[string]*unboundedQueue[string])
	c.callNameByID = make(map[string]string)
	c.mu.Unlock()

	for _, s := range streams {
		s.close()
	}

	if micTrack != nil {
		micTrack.Stop()
	}
	if micStream != nil {
		for _, t := range micStream.Tracks() {
			t.Stop()
		}
	}
	if dc != nil {
		dc.Close()
	}
	if pc != nil {
		pc.Close()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.publishEvent(protocol.NewConnectionClosedEvent())
}

func (c *Client) resetToIdle() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// unboundedQueue relays pushed values to its out channel in order,
// growing an internal slice instead of dropping a value when the
// consumer falls behind. events$ and toolCallStarts$ (and each call's
// argument-chunk stream) must never lose an item to backpressure the
// way a data-channel send or audio playback is allowed to.
type unboundedQueue[T any] struct {
	in   chan T
	outC chan T
	done chan struct{}
}

func newUnboundedQueue[T any]() *unboundedQueue[T] {
	q := &unboundedQueue[T]{
		in:   make(chan T),
		outC: make(chan T),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *unboundedQueue[T]) run() {
	var buf []T
	for {
		if len(buf) == 0 {
			select {
			case v := <-q.in:
				buf = append(buf, v)
			case <-q.done:
				close(q.outC)
				return
			}
			continue
		}
		select {
		case v := <-q.in:
			buf = append(buf, v)
		case q.outC <- buf[0]:
			buf = buf[1:]
		case <-q.done:
			// Deliver what was already queued before completing, so a
			// close right after a push does not drop values.
			for _, v := range buf {
				q.outC <- v
			}
			close(q.outC)
			return
		}
	}
}

// push enqueues v. It only blocks for as long as it takes the run
// loop to reach its next select iteration, never on a consumer
// actually being ready to receive.
func (q *unboundedQueue[T]) push(v T) {
	select {
	case q.in <- v:
	case <-q.done:
	}
}

func (q *unboundedQueue[T]) out() <-chan T { return q.outC }

func (q *unboundedQueue[T]) close() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}
