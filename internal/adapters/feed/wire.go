package feed

import "encoding/json"

// Frame is the envelope exchanged with the upstream stream endpoint. The
// handshake is two frames: the client sends "connect" with its credentials,
// the server answers "connected"; only then are "subscribe" frames accepted.
// Data arrives as "message" frames scoped to a topic.
type Frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Token   string          `json:"token,omitempty"`
	Client  string          `json:"client_id,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame types.
const (
	FrameConnect    = "connect"
	FrameConnected  = "connected"
	FrameSubscribe  = "subscribe"
	FrameSubscribed = "subscribed"
	FrameMessage    = "message"
	FrameError      = "error"
)
