package model

import "fmt"

type SessionStatus string

const (
	SessionStatusQueued SessionStatus = "queued"
	SessionStatusLive   SessionStatus = "live"
	SessionStatusClosed SessionStatus = "closed"
)

type Sender string

const (
	SenderStudent  Sender = "student"
	SenderOperator Sender = "operator"
	SenderSystem   Sender = "system"
)

func MessagePK(sessionID, messageID string) string {
	return fmt.Sprintf("%s#%s", sessionID, messageID)
}

// SessionItem is the persisted session record. The broker mutates its
// fields through conditional updates; sessionId itself is caller-supplied
// and never changes for the lifetime of one engagement.
type SessionItem struct {
	SessionID        string        `dynamodbav:"sessionId"`
	Status           SessionStatus `dynamodbav:"status"`
	StudentConnected bool          `dynamodbav:"studentConnected"`
	Claimant         string        `dynamodbav:"claimant,omitempty"`
	StudentName      string        `dynamodbav:"studentName,omitempty"`
	StudentEmail     string        `dynamodbav:"studentEmail,omitempty"`
	CreatedAt        string        `dynamodbav:"createdAt"`
	EndedAt          string        `dynamodbav:"endedAt,omitempty"`
}

// MessageItem is one append-only chat log entry. Messages are never
// mutated or deleted; the log outlives the registry entry for its session.
type MessageItem struct {
	PK        string `dynamodbav:"pk"`
	SessionID string `dynamodbav:"sessionId"`
	MessageID string `dynamodbav:"messageId"`
	Sender    Sender `dynamodbav:"sender"`
	Body      string `dynamodbav:"body"`
	CreatedAt string `dynamodbav:"createdAt"`
}
