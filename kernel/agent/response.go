package agent

import (
	"time"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

// ResponseKind identifies one response variant.
type ResponseKind string

const (
	ResponseStreamRequestStart ResponseKind = "stream_request_start"
	ResponseTextContent        ResponseKind = "text_content"
	ResponseToolCall           ResponseKind = "tool_call"
	ResponseToolResult         ResponseKind = "tool_result"
	ResponseStatusUpdate       ResponseKind = "status_update"
	ResponseError              ResponseKind = "error"
	ResponseCompleted          ResponseKind = "completed"
)

// Response is the tagged variant delivered to session subscribers. It is
// the only type that crosses the facade boundary.
type Response struct {
	Kind ResponseKind

	// ResponseTextContent
	Text      string
	IsPartial bool

	// ResponseToolCall / ResponseToolResult
	ToolCall   *model.ToolCall
	ToolResult *model.ToolResult

	// ResponseStatusUpdate / ResponseError / ResponseCompleted
	Status    Status
	Message   string
	FinalText string

	Time time.Time
}

func textResponse(text string, partial bool) Response {
	return Response{Kind: ResponseTextContent, Text: text, IsPartial: partial, Time: time.Now()}
}

func statusResponse(status Status, msg string) Response {
	return Response{Kind: ResponseStatusUpdate, Status: status, Message: msg, Time: time.Now()}
}

func errorResponse(status Status) Response {
	return Response{Kind: ResponseError, Status: status, Message: status.Message, Time: time.Now()}
}
