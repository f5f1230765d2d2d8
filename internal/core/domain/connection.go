package domain

// ConnState is the lifecycle state of one streaming subscription.
type ConnState string

const (
	ConnDisconnected ConnState = "DISCONNECTED"
	ConnConnecting   ConnState = "CONNECTING"
	ConnConnected    ConnState = "CONNECTED"
	ConnReconnecting ConnState = "RECONNECTING"
	ConnFailed       ConnState = "FAILED"
)

// FeedStatus is the externally observable state of a feed client. LastError
// is retained until the next successful connect. A FAILED status is transient
// while reconnect attempts remain; Terminal marks the exhaustion transition,
// after which the client stops retrying on its own.
type FeedStatus struct {
	State             ConnState `json:"state"`
	Topic             string    `json:"topic,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	Terminal          bool      `json:"terminal,omitempty"`
}

// GaugeValue maps the state onto the metric scale exported by the gateway.
func (s FeedStatus) GaugeValue() float64 {
	switch s.State {
	case ConnConnecting:
		return 1
	case ConnConnected:
		return 2
	case ConnReconnecting:
		return 3
	case ConnFailed:
		return 4
	default:
		return 0
	}
}
