// Package transport defines the minimal peer-connection, data-channel,
// and media surfaces the realtime client depends on (spec.md §4.3). The
// core never imports a concrete WebRTC library directly; adapters (such
// as pkg/transport/webrtc) translate a platform SDK to these contracts.
package transport

import "context"

// ConnectionState mirrors the WebRTC peer-connection state machine.
type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateClosed       ConnectionState = "closed"
)

// DataChannelState mirrors the WebRTC data-channel ready-state machine.
type DataChannelState string

const (
	DataChannelConnecting DataChannelState = "connecting"
	DataChannelOpen       DataChannelState = "open"
	DataChannelClosing    DataChannelState = "closing"
	DataChannelClosed     DataChannelState = "closed"
)

// SessionDescription is the SDP offer/answer pair exchanged during
// negotiation.
type SessionDescription struct {
	Type string
	SDP  string
}

// TransceiverDirection constrains a media transceiver's direction.
type TransceiverDirection string

const (
	DirectionSendRecv TransceiverDirection = "sendrecv"
	DirectionSendOnly TransceiverDirection = "sendonly"
	DirectionRecvOnly TransceiverDirection = "recvonly"
	DirectionInactive TransceiverDirection = "inactive"
)

// AudioTrack is a single outbound or inbound audio track.
type AudioTrack interface {
	Enabled() bool
	SetEnabled(bool)
	Stop() error
}

// MediaStream groups tracks belonging to one logical stream (e.g. a
// captured microphone, or a remote stream delivered via ontrack).
type MediaStream interface {
	AudioTracks() []AudioTrack
	Tracks() []AudioTrack
}

// DataChannel is the minimum surface the realtime client needs from a
// WebRTC data channel.
type DataChannel interface {
	Send(data string) error
	Close() error
	ReadyState() DataChannelState

	OnOpen(func())
	OnClose(func())
	OnError(func(error))
	OnMessage(func(data []byte))
}

// PeerConnection is the minimum surface the realtime client needs from a
// WebRTC peer connection.
type PeerConnection interface {
	CreateDataChannel(label string) (DataChannel, error)
	AddTransceiver(kind string, direction TransceiverDirection) error
	AddTrack(track AudioTrack, streams ...MediaStream) error

	CreateOffer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error

	Close() error
	ConnectionState() ConnectionState

	OnConnectionStateChange(func(ConnectionState))
	OnTrack(func(MediaStream))
}

// MicrophoneCapturer acquires a local microphone stream. It is the
// injected platform dependency standing in for `getUserMedia`.
type MicrophoneCapturer interface {
	CaptureAudio(ctx context.Context) (MediaStream, error)
}

// PeerConnectionFactory creates a new PeerConnection. It is the injected
// platform dependency standing in for the peer-connection constructor.
type PeerConnectionFactory interface {
	NewPeerConnection(ctx context.Context) (PeerConnection, error)
}
