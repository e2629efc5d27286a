package chat

import (
	"encoding/json"

	"github.com/valyala/fastjson"
)

// Frame is a decoded inbound frame. The wire protocol dispatches on an
// optional "type" discriminator; decoding happens exactly once at the
// transport boundary and yields one of the closed set of variants below.
type Frame interface {
	frame()
}

// MessageFrame is a plain chat message (no "type", or type "message").
type MessageFrame struct {
	Text          string `json:"text"`
	Address       string `json:"address,omitempty"`
	CorrelationID string `json:"clientId,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// HistoryFrame carries the bulk list of prior messages sent on connect.
type HistoryFrame struct {
	Messages []MessageFrame `json:"messages"`
}

// ErrorFrame carries a server error code, optionally tied to a sent message
// by its correlation id.
type ErrorFrame struct {
	Code          string `json:"text"`
	CorrelationID string `json:"clientId,omitempty"`
}

// MalformedFrame wraps a payload that did not parse; it is surfaced verbatim
// rather than dropped.
type MalformedFrame struct {
	Raw string
}

func (MessageFrame) frame()   {}
func (HistoryFrame) frame()   {}
func (ErrorFrame) frame()     {}
func (MalformedFrame) frame() {}

type outboundFrame struct {
	Text     string `json:"text"`
	ClientID string `json:"clientId"`
}

func encodeOutbound(item QueuedSend) ([]byte, error) {
	return json.Marshal(outboundFrame{Text: item.Text, ClientID: item.CorrelationID})
}

// decodeFrame parses a raw inbound payload into its frame variant. Anything
// that is not valid JSON, or whose fields do not match the expected shape,
// comes back as MalformedFrame.
func decodeFrame(raw []byte) Frame {
	if err := fastjson.ValidateBytes(raw); err != nil {
		return MalformedFrame{Raw: string(raw)}
	}

	switch fastjson.GetString(raw, "type") {
	case "history":
		var f HistoryFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return MalformedFrame{Raw: string(raw)}
		}
		return f
	case "error":
		var f ErrorFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return MalformedFrame{Raw: string(raw)}
		}
		return f
	default:
		var f MessageFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return MalformedFrame{Raw: string(raw)}
		}
		return f
	}
}
