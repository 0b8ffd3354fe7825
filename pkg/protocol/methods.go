package protocol

// ProtocolVersion is bumped when frame shapes change.
const ProtocolVersion = 1

// RPC method names the ops socket accepts.
const (
	MethodHealth         = "health"
	MethodStatus         = "status"
	MethodChannelsStatus = "channels.status"
	MethodMCPStatus      = "mcp.status"
)

// Frame type discriminants.
const (
	FrameEvent    = "event"
	FrameRequest  = "req"
	FrameResponse = "res"
)

// Request is a client frame on the ops socket.
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Method string `json:"method"`
}

// Response answers one Request.
type Response struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// EventFrame is a server push.
type EventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

func NewEvent(name string, payload any) *EventFrame {
	return &EventFrame{Type: FrameEvent, Event: name, Payload: payload}
}

func NewResponse(id string, result any) *Response {
	return &Response{Type: FrameResponse, ID: id, OK: true, Result: result}
}

func NewErrorResponse(id, msg string) *Response {
	return &Response{Type: FrameResponse, ID: id, Error: msg}
}
