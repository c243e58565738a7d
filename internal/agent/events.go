package agent

import (
	"encoding/json"

	"github.com/soyeahso/codexm/internal/domain"
)

// Event is one element of a turn's output. The concrete types are
// TextEvent, RPCResultEvent, ErrorEvent and CancelledEvent; the channel
// returned by RunTurn closing marks the end of the turn.
type Event interface {
	isEvent()
}

// TextEvent is a content delta to append to the response.
type TextEvent struct {
	Text string
}

// RPCResultEvent carries the raw result of one call in an rpc batch.
type RPCResultEvent struct {
	Method string
	Result json.RawMessage
}

// ErrorEvent reports a failure. For turns and reviews it is terminal; in an
// rpc batch it covers a single call.
type ErrorEvent struct {
	Message string
	// Method names the failed call of an rpc batch; empty otherwise.
	Method string
}

// CancelledEvent is emitted last when the caller's context ends mid-turn.
type CancelledEvent struct{}

func (TextEvent) isEvent() {}
func (RPCResultEvent) isEvent() {}
func (ErrorEvent) isEvent() {}
func (CancelledEvent) isEvent() {}

// Kind selects how a TurnRequest is executed.
type Kind string

const (
	KindTurn   Kind = "turn"
	KindReview Kind = "review"
	KindRPC    Kind = "rpc"
)

// RPCCall describes one call of an rpc batch.
type RPCCall struct {
	Method string
	Params map[string]any
	// RequiresThread creates the session thread first if needed and sets
	// params.threadId.
	RequiresThread bool
	// EmitText surfaces the indented result as a TextEvent.
	EmitText bool
	Title    string
}

// TurnRequest is one dispatch cycle's instruction to the adapter.
type TurnRequest struct {
	Kind Kind
	// Input is the user text for turns, or custom review instructions.
	// Empty for rpc batches; an empty review targets uncommitted changes.
	Input string
	Mode  domain.Mode
	Calls []RPCCall
}
