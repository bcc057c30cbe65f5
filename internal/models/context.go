package models

import (
	"encoding/json"
	"fmt"
)

// ContextMessage is the transient role/content pair exchanged between
// context assembly and generation. Never persisted; ordering within a
// request is significant.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Web search modes for a turn.
const (
	WebSearchOff  = "off"
	WebSearchOn   = "on"
	WebSearchAuto = "auto"
)

// WebSearchMode decodes the wire values false, true, and "auto".
// The zero value is off.
type WebSearchMode string

// UnmarshalJSON accepts a JSON boolean or the string "auto".
func (m *WebSearchMode) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*m = WebSearchOn
		} else {
			*m = WebSearchOff
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == WebSearchAuto {
			*m = WebSearchAuto
			return nil
		}
		return fmt.Errorf("invalid useWebSearch value %q", s)
	}
	return fmt.Errorf("invalid useWebSearch value %s", string(data))
}

// MarshalJSON writes "auto" as a string and on/off as booleans.
func (m WebSearchMode) MarshalJSON() ([]byte, error) {
	switch m {
	case WebSearchAuto:
		return json.Marshal("auto")
	case WebSearchOn:
		return json.Marshal(true)
	default:
		return json.Marshal(false)
	}
}

// TurnRequest is the body of POST /chat/{conversationId}. UseRag defaults
// to true and Stream defaults to true when omitted (pointer nil).
type TurnRequest struct {
	ConversationID string           `json:"conversationId,omitempty"`
	Message        string           `json:"message"`
	SelectedModel  string           `json:"selectedModel"`
	History        []ContextMessage `json:"history,omitempty"`
	UseRag         *bool            `json:"useRag,omitempty"`
	UseWebSearch   WebSearchMode    `json:"useWebSearch,omitempty"`
	Stream         *bool            `json:"stream,omitempty"`
}

// RagEnabled reports whether retrieval should run; only an explicit false
// disables it.
func (r *TurnRequest) RagEnabled() bool {
	return r.UseRag == nil || *r.UseRag
}

// StreamEnabled reports whether the response should stream; defaults to true.
func (r *TurnRequest) StreamEnabled() bool {
	return r.Stream == nil || *r.Stream
}

// TurnResponse is the non-streaming success body.
type TurnResponse struct {
	Message        string       `json:"message"`
	ConversationID string       `json:"conversationId"`
	Data           TurnRespData `json:"data"`
}

// TurnRespData carries the generated answer text.
type TurnRespData struct {
	Content string `json:"content"`
}
