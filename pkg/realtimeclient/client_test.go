package realtimeclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/digitallysavvy/realtimevoice/pkg/protocol"
	"github.com/digitallysavvy/realtimevoice/pkg/transport"
)

type fakeDataChannel struct {
	mu        sync.Mutex
	state     transport.DataChannelState
	sent      []string
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

func (d *fakeDataChannel) Send(data string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, data)
	return nil
}
func (d *fakeDataChannel) Close() error {
	d.mu.Lock()
	d.state = transport.DataChannelClosed
	d.mu.Unlock()
	return nil
}
func (d *fakeDataChannel) ReadyState() transport.DataChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
func (d *fakeDataChannel) OnOpen(fn func())          { d.onOpen = fn }
func (d *fakeDataChannel) OnClose(fn func())         { d.onClose = fn }
func (d *fakeDataChannel) OnError(fn func(error))    {}
func (d *fakeDataChannel) OnMessage(fn func([]byte)) { d.onMessage = fn }

func (d *fakeDataChannel) open() {
	d.mu.Lock()
	d.state = transport.DataChannelOpen
	open := d.onOpen
	d.mu.Unlock()
	if open != nil {
		open()
	}
}

func (d *fakeDataChannel) deliver(raw string) {
	if d.onMessage != nil {
		d.onMessage([]byte(raw))
	}
}

type fakePeerConnection struct {
	dc *fakeDataChannel
}

func (p *fakePeerConnection) CreateDataChannel(label string) (transport.DataChannel, error) {
	p.dc = &fakeDataChannel{state: transport.DataChannelConnecting}
	return p.dc, nil
}
func (p *fakePeerConnection) AddTransceiver(kind string, direction transport.TransceiverDirection) error {
	return nil
}
func (p *fakePeerConnection) AddTrack(track transport.AudioTrack, streams ...transport.MediaStream) error {
	return nil
}
func (p *fakePeerConnection) CreateOffer(ctx context.Context) (transport.SessionDescription, error) {
	return transport.SessionDescription{Type: "offer", SDP: "v=0 fake-offer"}, nil
}
func (p *fakePeerConnection) SetLocalDescription(ctx context.Context, desc transport.SessionDescription) error {
	return nil
}
func (p *fakePeerConnection) SetRemoteDescription(ctx context.Context, desc transport.SessionDescription) error {
	return nil
}
func (p *fakePeerConnection) Close() error                                  { return nil }
func (p *fakePeerConnection) ConnectionState() transport.ConnectionState    { return transport.ConnectionStateConnected }
func (p *fakePeerConnection) OnConnectionStateChange(fn func(transport.ConnectionState)) {}
func (p *fakePeerConnection) OnTrack(fn func(transport.MediaStream))                     {}

type fakeFactory struct {
	pc *fakePeerConnection
}

func (f *fakeFactory) NewPeerConnection(ctx context.Context) (transport.PeerConnection, error) {
	f.pc = &fakePeerConnection{}
	return f.pc, nil
}

func newTestClient(t *testing.T, sessionURL string) (*Client, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{}
	c := New(Config{
		Factory:       factory,
		SessionURL:    sessionURL,
		SessionConfig: map[string]any{"type": "realtime"},
	})
	return c, factory
}

// connectAndOpen drives Connect, which now blocks awaiting the data
// channel's onopen per spec.md §4.4, so the fake open() signal has to
// be fired concurrently from a second goroutine once the data channel
// exists.
func connectAndOpen(t *testing.T, c *Client, factory *fakeFactory) {
	t.Helper()
	connectErr := make(chan error, 1)
	go func() { connectErr <- c.Connect(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for factory.pc == nil || factory.pc.dc == nil {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the data channel to be created")
		}
		time.Sleep(time.Millisecond)
	}
	factory.pc.dc.open()

	if err := <-connectErr; err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
}

func TestConnectOpensDataChannelAndPublishesLifecycleEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "v=0 fake-answer")
	}))
	defer server.Close()

	c, factory := newTestClient(t, server.URL)
	connectAndOpen(t, c, factory)

	select {
	case ev := <-c.Events():
		if ev.Type != protocol.EventConnectionOpen {
			t.Fatalf("expected connection open event first, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a connection open event")
	}
	if c.State() != StateConnected {
		t.Fatalf("expected connected state, got %s", c.State())
	}
}

func TestConnectFailsOnUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected an error on non-2xx upstream response")
	}
	if c.State() != StateIdle {
		t.Fatalf("expected client to return to idle after a failed connect, got %s", c.State())
	}
}

func TestDemuxStreamingToolCallInTwoFragments(t *testing.T) {
	// Scenario S1.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "v=0 fake-answer")
	}))
	defer server.Close()

	c, factory := newTestClient(t, server.URL)
	connectAndOpen(t, c, factory)
	<-c.Events() // drain the connection-open event

	factory.pc.dc.deliver(`{"type":"response.function_call_arguments.delta","call_id":"c1","delta":"{\"city\":\"San"}`)

	start := <-c.ToolCallStarts()
	if start.CallID != "c1" {
		t.Fatalf("expected ToolCallStart for c1, got %+v", start)
	}
	first := <-start.ArgumentChunks
	<-c.Events()

	factory.pc.dc.deliver(`{"type":"response.function_call_arguments.delta","call_id":"c1","delta":" Francisco\"}"}`)
	second := <-start.ArgumentChunks
	<-c.Events()

	if first+second != `{"city":"San Francisco"}` {
		t.Fatalf("unexpected chunk concatenation: %q", first+second)
	}

	factory.pc.dc.deliver(`{"type":"response.function_call_arguments.done","call_id":"c1","arguments":"{\"city\":\"San Francisco\"}"}`)
	<-c.Events()

	if _, stillOpen := <-start.ArgumentChunks; stillOpen {
		t.Fatalf("expected argument stream to complete on done")
	}
}

func TestDemuxOutputItemDoneNormalization(t *testing.T) {
	// Scenario S3.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "v=0 fake-answer")
	}))
	defer server.Close()

	c, factory := newTestClient(t, server.URL)
	connectAndOpen(t, c, factory)
	<-c.Events()

	factory.pc.dc.deliver(`{"type":"response.output_item.done","item":{"type":"function_call","call_id":"c3","arguments":"{}","name":"echo","id":"itm"},"output_index":2,"response_id":"r"}`)
	ev := <-c.Events()
	if ev.CallID != "c3" || ev.Arguments != "{}" || ev.Name != "echo" || ev.ItemID != "itm" || ev.ResponseID != "r" {
		t.Fatalf("unexpected normalized event: %+v", ev)
	}
}

func TestDisconnectCompletesStreamsAndPublishesClosedExactlyOnce(t *testing.T) {
	// Invariants 6 and 7.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "v=0 fake-answer")
	}))
	defer server.Close()

	c, factory := newTestClient(t, server.URL)
	connectAndOpen(t, c, factory)
	<-c.Events()

	factory.pc.dc.deliver(`{"type":"response.function_call_arguments.delta","call_id":"c1","delta":"x"}`)
	start := <-c.ToolCallStarts()
	<-start.ArgumentChunks
	<-c.Events()

	c.Disconnect()

	closedCount := 0
	openCount := 0
	for i := 0; i < 1; i++ {
		ev := <-c.Events()
		if ev.Type == protocol.EventConnectionClosed {
			closedCount++
		}
		if ev.Type == protocol.EventConnectionOpen {
			openCount++
		}
	}
	if closedCount != 1 {
		t.Fatalf("expected exactly one connection closed event, got %d", closedCount)
	}

	if _, stillOpen := <-start.ArgumentChunks; stillOpen {
		t.Fatalf("expected per-call stream to be completed after disconnect")
	}

	// Disconnect is idempotent: a second call publishes nothing further.
	c.Disconnect()
	select {
	case ev := <-c.Events():
		t.Fatalf("expected no further events from a redundant disconnect, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendBeforeOpenPublishesLocalError(t *testing.T) {
	c, _ := newTestClient(t, "http://example.invalid")
	c.Send(protocol.NewClientEvent("response.create", map[string]any{"response": map[string]any{}}))

	ev := <-c.Events()
	if !protocol.IsError(ev) {
		t.Fatalf("expected a local error event, got %+v", ev)
	}
}
