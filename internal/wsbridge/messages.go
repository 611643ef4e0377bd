package wsbridge

import (
	"encoding/json"

	"github.com/bazelment/agentbridge/agentstream"
	"github.com/bazelment/agentbridge/session"
)

// Command types accepted from clients.
const (
	CmdSend        = "send"
	CmdAbort       = "abort"
	CmdRespond     = "respond"
	CmdSetMode     = "set_mode"
	CmdSetModel    = "set_model"
	CmdSetThinking = "set_thinking"
	CmdResume      = "resume"
)

// Frame types the server sends besides event envelopes.
const (
	FrameHello = "hello"
	FrameReply = "reply"
)

// Command is one client request. ID, when set, is echoed in the reply.
type Command struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Text      string `json:"text,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Verdict   string `json:"verdict,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Model     string `json:"model,omitempty"`
	Level     string `json:"level,omitempty"`
}

// Hello is the first frame on every connection.
type Hello struct {
	Type           string               `json:"type"`
	SessionID      string               `json:"sessionId"`
	Backend        session.Kind         `json:"backend"`
	PermissionMode string               `json:"permissionMode"`
	Model          string               `json:"model,omitempty"`
	Capabilities   session.Capabilities `json:"capabilities"`
}

// Reply answers a Command. Error is set when the command failed.
type Reply struct {
	Type   string             `json:"type"`
	ID     string             `json:"id,omitempty"`
	OK     bool               `json:"ok"`
	Effect agentstream.Effect `json:"effect,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func okReply(id string, effect agentstream.Effect) Reply {
	return Reply{Type: FrameReply, ID: id, OK: true, Effect: effect}
}

func errReply(id string, err error) Reply {
	return Reply{Type: FrameReply, ID: id, Error: err.Error()}
}

func newHello(s *session.Session) Hello {
	return Hello{
		Type:           FrameHello,
		SessionID:      s.ID(),
		Backend:        s.Kind(),
		PermissionMode: string(s.PermissionMode()),
		Model:          s.Model(),
		Capabilities:   s.Capabilities(),
	}
}

func decodeCommand(data []byte) (Command, error) {
	var cmd Command
	err := json.Unmarshal(data, &cmd)
	return cmd, err
}
