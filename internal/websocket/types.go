package websocket

// Outbound frame types shared by the student and operator channels.
const (
	FrameTypeMessage        = "message"
	FrameTypeStatus         = "status"
	FrameTypeNewSession     = "new_session"
	FrameTypeQueuedPing     = "queued_ping"
	FrameTypeJoined         = "joined"
	FrameTypeSessionRemoved = "session_removed"
	FrameTypeError          = "error"
)

// Inbound operator frame types.
const (
	FrameTypeJoin = "join"
)

// Frame is the JSON wire envelope for every outbound event. Fields not
// relevant to a given type are omitted.
type Frame struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id,omitempty"`
	Sender        string `json:"sender,omitempty"`
	Message       string `json:"message,omitempty"`
	Status        string `json:"status,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
	Reason        string `json:"reason,omitempty"`
	StudentName   string `json:"student_name,omitempty"`
	StudentEmail  string `json:"student_email,omitempty"`
}

// StudentFrame is the single inbound frame shape on the student channel.
type StudentFrame struct {
	Message string `json:"message"`
}

// OperatorFrame is an inbound frame on the shared operator channel.
type OperatorFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}
