package realtime

import (
	"encoding/json"
	"errors"

	"github.com/aura-classroom/backend/internal/apperr"
)

// Outbound frame types.
const (
	FrameState = "state"
	FrameAck   = "ack"
	FrameError = "error"
)

// Inbound command types.
const (
	CmdUpdateSlide   = "update_slide"
	CmdPushQuestion  = "push_question"
	CmdCloseQuestion = "close_question"
	CmdEndSession    = "end_session"
	CmdSubmitAnswer  = "submit_answer"
	CmdLeave         = "leave"
)

// Frame is a server-to-client message.
type Frame struct {
	Type  string `json:"type"`
	Ref   string `json:"ref,omitempty"`
	Data  any    `json:"data,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Command is a client-to-server message. Ref is echoed on the matching ack or error.
type Command struct {
	Type string          `json:"type"`
	Ref  string          `json:"ref,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type slideData struct {
	SlideIndex int `json:"slide_index"`
}

type answerData struct {
	Value string `json:"value"`
}

var errUnknownCommand = apperr.Invalid("unknown command for this role")

// errorFrame reports err to the client. Internal errors keep their details server-side.
func errorFrame(ref string, err error) Frame {
	msg := "internal error"
	var e *apperr.Error
	if errors.As(err, &e) && e.Kind != apperr.KindInternal {
		msg = e.Message
	}
	return Frame{Type: FrameError, Ref: ref, Code: apperr.CodeOf(err), Error: msg}
}
