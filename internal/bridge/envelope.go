package bridge

import "encoding/json"

// Channel namespaces every envelope so bridge traffic can never be confused
// with unrelated page-level messaging from other scripts.
const Channel = "product-clipper/v1"

// Message names understood by the privileged host.
const (
	MsgGetActiveIdentity  = "getActiveIdentity"
	MsgPromoteToPermanent = "promoteToPermanent"
	MsgClearIdentity      = "clearIdentity"
	MsgIdentityChanged    = "identityChanged"
	MsgLogin              = "login"
	MsgRegister           = "register"
)

// MessageKind distinguishes envelope roles on the wire.
type MessageKind string

const (
	KindRequest   MessageKind = "request"
	KindResponse  MessageKind = "response"
	KindBroadcast MessageKind = "broadcast"
)

// Envelope is the single wire format for all cross-context traffic.
type Envelope struct {
	Channel string          `json:"channel"`
	Kind    MessageKind     `json:"kind"`
	Name    string          `json:"name"`
	CallID  string          `json:"call_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo carries a failure back across the bridge.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodePayload unmarshals the envelope payload into out.
func (e Envelope) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}
