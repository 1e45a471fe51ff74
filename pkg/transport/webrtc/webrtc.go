// Package webrtc adapts github.com/pion/webrtc/v4 to the pkg/transport
// contracts the realtime client depends on.
package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/digitallysavvy/realtimevoice/pkg/transport"
)

// Factory builds pion-backed peer connections with a shared ICE server
// configuration.
type Factory struct {
	ICEServers []string
}

// NewFactory returns a Factory using the public STUN server when no ICE
// servers are supplied.
func NewFactory(iceServers ...string) *Factory {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &Factory{ICEServers: iceServers}
}

// NewPeerConnection implements transport.PeerConnectionFactory.
func (f *Factory) NewPeerConnection(ctx context.Context) (transport.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: f.ICEServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("webrtc: failed to create peer connection: %w", err)
	}
	return &peerConnection{pc: pc}, nil
}

type peerConnection struct {
	pc *webrtc.PeerConnection
}

func (p *peerConnection) CreateDataChannel(label string) (transport.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("webrtc: failed to create data channel %q: %w", label, err)
	}
	return &dataChannel{dc: dc}, nil
}

func (p *peerConnection) AddTransceiver(kind string, direction transport.TransceiverDirection) error {
	codecType, err := rtpCodecType(kind)
	if err != nil {
		return err
	}
	_, err = p.pc.AddTransceiverFromKind(codecType, webrtc.RTPTransceiverInit{
		Direction: rtpDirection(direction),
	})
	if err != nil {
		return fmt.Errorf("webrtc: failed to add %s transceiver: %w", kind, err)
	}
	return nil
}

func (p *peerConnection) AddTrack(track transport.AudioTrack, streams ...transport.MediaStream) error {
	local, ok := track.(*localAudioTrack)
	if !ok {
		return fmt.Errorf("webrtc: AddTrack requires a track produced by this package")
	}
	_, err := p.pc.AddTrack(local.track)
	if err != nil {
		return fmt.Errorf("webrtc: failed to add local track: %w", err)
	}
	return nil
}

func (p *peerConnection) CreateOffer(ctx context.Context) (transport.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return transport.SessionDescription{}, fmt.Errorf("webrtc: failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return transport.SessionDescription{}, fmt.Errorf("webrtc: failed to set local description: %w", err)
	}
	select {
	case <-webrtc.GatheringCompletePromise(p.pc):
	case <-ctx.Done():
		return transport.SessionDescription{}, ctx.Err()
	}
	final := p.pc.LocalDescription()
	return transport.SessionDescription{Type: final.Type.String(), SDP: final.SDP}, nil
}

func (p *peerConnection) SetLocalDescription(ctx context.Context, desc transport.SessionDescription) error {
	return p.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: sdpType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *peerConnection) SetRemoteDescription(ctx context.Context, desc transport.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpType(desc.Type),
		SDP:  desc.SDP,
	}); err != nil {
		return fmt.Errorf("webrtc: failed to set remote description: %w", err)
	}
	return nil
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

func (p *peerConnection) ConnectionState() transport.ConnectionState {
	return connectionState(p.pc.ConnectionState())
}

func (p *peerConnection) OnConnectionStateChange(fn func(transport.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(connectionState(s))
	})
}

func (p *peerConnection) OnTrack(fn func(transport.MediaStream)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		fn(&remoteStream{track: track})
	})
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Send(data string) error {
	if d.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("webrtc: data channel %q is not open", d.dc.Label())
	}
	return d.dc.SendText(data)
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}

func (d *dataChannel) ReadyState() transport.DataChannelState {
	switch d.dc.ReadyState() {
	case webrtc.DataChannelStateConnecting:
		return transport.DataChannelConnecting
	case webrtc.DataChannelStateOpen:
		return transport.DataChannelOpen
	case webrtc.DataChannelStateClosing:
		return transport.DataChannelClosing
	default:
		return transport.DataChannelClosed
	}
}

func (d *dataChannel) OnOpen(fn func())          { d.dc.OnOpen(fn) }
func (d *dataChannel) OnClose(fn func())         { d.dc.OnClose(fn) }
func (d *dataChannel) OnError(fn func(error))    { d.dc.OnError(fn) }
func (d *dataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// localAudioTrack wraps a pion static-sample track as a transport.AudioTrack
// for microphone capture adapters to populate. enabled is read from the
// capture goroutine on every WriteSample and written from client calls
// such as SetMicrophoneEnabled, so it is guarded by mu.
type localAudioTrack struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
}

// NewLocalAudioTrack creates a local PCM audio track suitable for
// AddTrack. Capture implementations write samples via WriteSample.
func NewLocalAudioTrack(id, streamID string) (*localAudioTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU},
		id, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("webrtc: failed to create local audio track: %w", err)
	}
	return &localAudioTrack{track: track, enabled: true}, nil
}

func (t *localAudioTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *localAudioTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *localAudioTrack) Stop() error { return nil }

// WriteSample pushes a captured PCM sample onto the underlying track. It
// is a no-op while the track is disabled.
func (t *localAudioTrack) WriteSample(s media.Sample) error {
	if !t.Enabled() {
		return nil
	}
	return t.track.WriteSample(s)
}

type remoteStream struct {
	track *webrtc.TrackRemote
}

func (r *remoteStream) AudioTracks() []transport.AudioTrack {
	if r.track.Kind() != webrtc.RTPCodecTypeAudio {
		return nil
	}
	return []transport.AudioTrack{&remoteTrack{track: r.track}}
}

func (r *remoteStream) Tracks() []transport.AudioTrack {
	return r.AudioTracks()
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *remoteTrack) Enabled() bool     { return true }
func (t *remoteTrack) SetEnabled(v bool) {}
func (t *remoteTrack) Stop() error       { return nil }

func rtpCodecType(kind string) (webrtc.RTPCodecType, error) {
	switch kind {
	case "audio":
		return webrtc.RTPCodecTypeAudio, nil
	case "video":
		return webrtc.RTPCodecTypeVideo, nil
	default:
		return 0, fmt.Errorf("webrtc: unsupported transceiver kind %q", kind)
	}
}

func rtpDirection(d transport.TransceiverDirection) webrtc.RTPTransceiverDirection {
	switch d {
	case transport.DirectionSendOnly:
		return webrtc.RTPTransceiverDirectionSendonly
	case transport.DirectionRecvOnly:
		return webrtc.RTPTransceiverDirectionRecvonly
	case transport.DirectionInactive:
		return webrtc.RTPTransceiverDirectionInactive
	default:
		return webrtc.RTPTransceiverDirectionSendrecv
	}
}

func sdpType(t string) webrtc.SDPType {
	switch t {
	case "offer":
		return webrtc.SDPTypeOffer
	case "answer":
		return webrtc.SDPTypeAnswer
	case "pranswer":
		return webrtc.SDPTypePranswer
	case "rollback":
		return webrtc.SDPTypeRollback
	default:
		return webrtc.SDPTypeOffer
	}
}

func connectionState(s webrtc.PeerConnectionState) transport.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return transport.ConnectionStateNew
	case webrtc.PeerConnectionStateConnecting:
		return transport.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return transport.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return transport.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return transport.ConnectionStateFailed
	default:
		return transport.ConnectionStateClosed
	}
}
