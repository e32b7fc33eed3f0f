package stream

import (
	"encoding/json"
	"strings"
)

// Control frame types for the input-request/user-input handshake.
const (
	ControlInputRequest = "input_request"
	ControlUserInput    = "user_input"
)

// ControlFrame is a structured message distinguished from plain log text.
type ControlFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ParseControl attempts to interpret a line as a control frame. Any text
// beginning with "{" is tried as JSON; a line that fails to parse, or parses
// to an unrecognized envelope, is not a control frame and must be handled as
// ordinary log text. Malformed frames never abort the stream.
func ParseControl(line string) (ControlFrame, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return ControlFrame{}, false
	}

	var frame ControlFrame
	if err := json.Unmarshal([]byte(trimmed), &frame); err != nil {
		return ControlFrame{}, false
	}

	switch frame.Type {
	case ControlInputRequest, ControlUserInput:
		return frame, true
	}
	return ControlFrame{}, false
}

// EncodeUserInput builds the client→server reply frame.
func EncodeUserInput(content string) string {
	data, _ := json.Marshal(ControlFrame{Type: ControlUserInput, Content: content})
	return string(data)
}

// EncodeInputRequest builds the server→client question frame.
func EncodeInputRequest(content string) string {
	data, _ := json.Marshal(ControlFrame{Type: ControlInputRequest, Content: content})
	return string(data)
}
