package steering

import (
	"encoding/json"
	"time"
)

// Kind identifies one steering message variant.
type Kind string

const (
	KindUserInput     Kind = "user_input"
	KindSystemControl Kind = "system_control"
	KindInterrupt     Kind = "interrupt"
	KindStatusUpdate  Kind = "status_update"
)

// Command is a system-control verb.
type Command string

const (
	CommandPause       Command = "pause"
	CommandResume      Command = "resume"
	CommandStop        Command = "stop"
	CommandConfirmTool Command = "confirm_tool"
	CommandDenyTool    Command = "deny_tool"
)

// Message is the tagged control variant consumed exactly once by the agent
// loop. Unused fields are zero for a given kind.
type Message struct {
	Kind    Kind
	Text    string
	Command Command
	Params  map[string]string
	Reason  string
	Status  string
	Payload json.RawMessage
	Time    time.Time
}

// UserInput returns a user text message.
func UserInput(text string) Message {
	return Message{Kind: KindUserInput, Text: text, Time: time.Now()}
}

// SystemControl returns a control command message.
func SystemControl(cmd Command, params map[string]string) Message {
	return Message{Kind: KindSystemControl, Command: cmd, Params: params, Time: time.Now()}
}

// Interrupt returns an interrupt with a human-readable reason.
func Interrupt(reason string) Message {
	return Message{Kind: KindInterrupt, Reason: reason, Time: time.Now()}
}

// StatusUpdate returns an informational status message.
func StatusUpdate(status string, payload json.RawMessage) Message {
	return Message{Kind: KindStatusUpdate, Status: status, Payload: payload, Time: time.Now()}
}
