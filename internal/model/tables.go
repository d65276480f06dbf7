package model

const (
	SessionsTable = "LiveChatSessions"
	MessagesTable = "LiveChatMessages"
)

const (
	MessagesBySessionIndex = "bySession"
)
