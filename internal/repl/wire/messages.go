// Package wire defines the WebSocket protocol for the aggregation console.
package wire

import (
	"encoding/json"

	"github.com/matthewbaird/docagg/internal/repl/autocomplete"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server WebSocket messages.
type ClientMessage struct {
	Type string          `json:"type"` // "execute", "cancel", "autocomplete", "ping"
	ID   string          `json:"id"`   // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// ExecuteData is the payload for "execute" messages.
type ExecuteData struct {
	Input string `json:"input"`
}

// AutocompleteData is the payload for "autocomplete" messages.
type AutocompleteData struct {
	Input  string `json:"input"`
	Cursor int    `json:"cursor"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client WebSocket messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "meta", "result", "rows", "done", "explain", "error", "completions", "session", "pong"
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// ResultData is sent before rows to describe how the pipeline ran.
type ResultData struct {
	Collection string  `json:"collection"`
	Path       string  `json:"path"`
	Reason     string  `json:"reason,omitempty"`
	Cost       float64 `json:"cost"`
	Total      int     `json:"total"`
}

// RowsData carries a batch of result documents.
type RowsData struct {
	Rows []json.RawMessage `json:"rows"`
}

// DoneData signals completion of a statement.
type DoneData struct {
	Total   int    `json:"total"`
	Elapsed string `json:"elapsed"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CompletionsData carries autocomplete suggestions.
type CompletionsData struct {
	Items []autocomplete.CompletionItem `json:"items"`
}

// SessionData carries session information.
type SessionData struct {
	SessionID  string `json:"session_id"`
	Collection string `json:"collection,omitempty"`
}
