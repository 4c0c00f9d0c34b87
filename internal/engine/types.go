package engine

import "fmt"

// VerdictKind identifies which outcome a Verdict carries.
type VerdictKind int

const (
	VerdictAllow VerdictKind = iota + 1
	VerdictModify
	VerdictDrop
	VerdictHalt
)

// String returns the lowercase verdict name.
func (k VerdictKind) String() string {
	switch k {
	case VerdictAllow:
		return "allow"
	case VerdictModify:
		return "modify"
	case VerdictDrop:
		return "drop"
	case VerdictHalt:
		return "halt"
	default:
		return "unspecified"
	}
}

// ParseVerdictKind maps a lowercase verdict name back to its kind.
func ParseVerdictKind(s string) (VerdictKind, bool) {
	switch s {
	case "allow":
		return VerdictAllow, true
	case "modify":
		return VerdictModify, true
	case "drop":
		return VerdictDrop, true
	case "halt":
		return VerdictHalt, true
	default:
		return 0, false
	}
}

// Verdict is the outcome of a handler or a whole chain.
//
// Exactly one kind is active. Content is only set for Modify (the replacement
// text) and Reason only for Drop and Halt. Build verdicts with Allow, Modify,
// Drop and Halt rather than with a struct literal.
type Verdict struct {
	Kind    VerdictKind
	Content string
	Reason  string
}

// Allow lets the message through unchanged.
func Allow() Verdict {
	return Verdict{Kind: VerdictAllow}
}

// Modify replaces the message content with text.
func Modify(text string) Verdict {
	return Verdict{Kind: VerdictModify, Content: text}
}

// Drop discards the message. The surrounding agent loop may continue.
func Drop(reason string) Verdict {
	return Verdict{Kind: VerdictDrop, Reason: reason}
}

// Halt stops the current message pipeline entirely. Callers must not
// continue processing after a Halt.
func Halt(reason string) Verdict {
	return Verdict{Kind: VerdictHalt, Reason: reason}
}

// IsAllow reports whether v lets the message through unchanged.
func (v Verdict) IsAllow() bool { return v.Kind == VerdictAllow }

// IsModify reports whether v replaces the content.
func (v Verdict) IsModify() bool { return v.Kind == VerdictModify }

// IsDrop reports whether v discards the message.
func (v Verdict) IsDrop() bool { return v.Kind == VerdictDrop }

// IsHalt reports whether v is a critical stop.
func (v Verdict) IsHalt() bool { return v.Kind == VerdictHalt }

// Terminal reports whether v ends chain processing (Drop or Halt).
func (v Verdict) Terminal() bool {
	return v.Kind == VerdictDrop || v.Kind == VerdictHalt
}

func (v Verdict) String() string {
	switch v.Kind {
	case VerdictModify:
		return fmt.Sprintf("modify(%d bytes)", len(v.Content))
	case VerdictDrop, VerdictHalt:
		return v.Kind.String() + ": " + v.Reason
	default:
		return v.Kind.String()
	}
}

// MessageDirection classifies the traffic a message belongs to.
type MessageDirection int

const (
	DirectionUnspecified     MessageDirection = iota
	DirectionInbound                          // inbound
	DirectionOutboundRequest                  // outbound_request
	DirectionInboundResponse                  // inbound_response
	DirectionToolInvocation                   // tool_invocation
	DirectionToolResult                       // tool_result
	DirectionOutboundResponse                 // outbound_response
)

// directionNames maps directions to their wire names.
var directionNames = map[MessageDirection]string{
	DirectionInbound:          "inbound",
	DirectionOutboundRequest:  "outbound_request",
	DirectionInboundResponse:  "inbound_response",
	DirectionToolInvocation:   "tool_invocation",
	DirectionToolResult:       "tool_result",
	DirectionOutboundResponse: "outbound_response",
}

// String returns the snake_case wire name of the direction.
func (d MessageDirection) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return "unspecified"
}

// ParseDirection maps a wire name to a MessageDirection.
func ParseDirection(s string) (MessageDirection, bool) {
	for d, name := range directionNames {
		if name == s {
			return d, true
		}
	}
	return DirectionUnspecified, false
}

// DelegateTool is the tool name the orchestrator uses to dispatch sub-agents.
const DelegateTool = "delegate"

// Context describes the message being evaluated. It is built by the caller
// for each Process call and is never mutated by handlers.
//
// Empty optional fields mean "absent": AgentID is only set when the current
// actor is itself a delegate, ToolName only for tool-related directions.
type Context struct {
	Direction MessageDirection
	AgentID   string
	ToolName  string
	Provider  string
	Model     string
}

// IsDelegate reports whether the current actor is a delegate rather than the
// root orchestrator.
func (c Context) IsDelegate() bool {
	return c.AgentID != ""
}
