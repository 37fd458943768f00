package gateway

import "encoding/json"

// Wire format shared with the gateway process. Frames are JSON objects over a
// single WebSocket; the shapes below are fixed for interop and must not
// change.

// Event streams pushed by the gateway.
const (
	StreamLifecycle = "lifecycle"
	StreamAssistant = "assistant"
	StreamPresence  = "presence"
	StreamTick      = "tick"
	StreamHealth    = "health"
)

// Lifecycle phases carried on the lifecycle stream.
const (
	PhaseStart = "start"
	PhaseEnd   = "end"
	PhaseError = "error"
)

type requestFrame struct {
	Method string          `json:"method"`
	ID     string          `json:"id,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *FrameError) Error() string {
	return e.Message
}

// inboundFrame is the superset envelope for everything the gateway sends
// after authentication: responses carry an id, events carry a stream.
type inboundFrame struct {
	ID         string          `json:"id,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *FrameError     `json:"error,omitempty"`
	Stream     string          `json:"stream,omitempty"`
	SessionKey string          `json:"sessionKey,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Event is a server-pushed frame tagged with a stream name.
type Event struct {
	Stream     string          `json:"stream"`
	SessionKey string          `json:"sessionKey,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// AssistantText extracts the text payload of an assistant event.
func (e Event) AssistantText() string {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return ""
	}
	return payload.Text
}

// LifecyclePhase extracts the phase of a lifecycle event.
func (e Event) LifecyclePhase() string {
	var payload struct {
		Phase string `json:"phase"`
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return ""
	}
	return payload.Phase
}

// Handshake frames. The client opens with a nonce, the server answers with
// its own, the client signs serverNonce || clientNonce.
type connectFrame struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
}

type challengeFrame struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
}

type authFrame struct {
	Type      string `json:"type"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Token     string `json:"token"`
}

type authResultFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

const (
	frameTypeConnect       = "connect"
	frameTypeChallenge     = "challenge"
	frameTypeAuth          = "auth"
	frameTypeAuthenticated = "authenticated"
)

// RPC params/results for the methods the supervisor uses.

type promptParams struct {
	Agent      string `json:"agent"`
	SessionKey string `json:"sessionKey"`
	Prompt     string `json:"prompt"`
}

type promptResult struct {
	Text string `json:"text"`
}

type notifyParams struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}
