package dto

// The REST surface mirrors the websocket wire format, so fields stay
// snake_case for the same frontend clients.

type EscalateRequest struct {
	StudentName  string `json:"student_name,omitempty"`
	StudentEmail string `json:"student_email,omitempty"`
}

type OkResponse struct {
	Ok bool `json:"ok"`
}

type SessionResponse struct {
	SessionID        string `json:"session_id"`
	Status           string `json:"status"`
	StudentConnected bool   `json:"student_connected"`
	Claimant         string `json:"claimant,omitempty"`
	StudentName      string `json:"student_name,omitempty"`
	StudentEmail     string `json:"student_email,omitempty"`
	CreatedAt        string `json:"created_at"`
	EndedAt          string `json:"ended_at,omitempty"`
	QueuePosition    int    `json:"queue_position,omitempty"`
}

type MessageResponse struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type HistoryResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []MessageResponse `json:"messages"`
}

type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}
