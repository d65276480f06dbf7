package livechat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campus-chat-backend/internal/database"
	"campus-chat-backend/internal/model"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrorCodeValidation    ErrorCode = "validation_error"
	ErrorCodeNotFound      ErrorCode = "not_found"
	ErrorCodeClaimRejected ErrorCode = "claim_rejected"
	ErrorCodeNotLive       ErrorCode = "not_live"
	ErrorCodeNotAssigned   ErrorCode = "not_assigned"
	ErrorCodeInternal      ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

type EscalateParams struct {
	SessionID    string
	StudentName  string
	StudentEmail string
}

// RelayResult tells the broker what to do with a student message that has
// already been appended to the log: relay it to operators when the session
// is live, or ping the queue view with the session's current position.
type RelayResult struct {
	Live          bool
	QueuePosition int
	Message       model.MessageItem
}

type DisconnectResult struct {
	// WasLive reports that the disconnect ended a live engagement, so
	// operators must be told to drop the session from their view.
	WasLive bool
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func New(db *database.Database) *Service {
	return &Service{
		repo: NewDynamoRepository(db),
		now:  time.Now,
	}
}

func NewWithRepository(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo: repo,
		now:  now,
	}
}

// Escalate places a session into the visible queue. It is an upsert: a new
// session is created queued, an existing one is forced back to queued no
// matter its prior status. Calling it twice in a row is a metadata refresh
// and nothing more.
func (s *Service) Escalate(ctx context.Context, params EscalateParams) (model.SessionItem, error) {
	sessionID := strings.TrimSpace(params.SessionID)
	if sessionID == "" {
		return model.SessionItem{}, newError(ErrorCodeValidation, "session id is required", nil)
	}

	studentName := strings.TrimSpace(params.StudentName)
	if studentName == "" {
		studentName = defaultStudentName(sessionID)
	}

	session, err := s.repo.UpsertQueuedSession(ctx, sessionID, studentName, strings.TrimSpace(params.StudentEmail), s.timestamp())
	if err != nil {
		return model.SessionItem{}, newError(ErrorCodeInternal, "failed to escalate session", err)
	}
	return session, nil
}

// StudentConnected records a fresh student socket. A brand-new session is
// created queued; an existing one only has its connected flag raised, so a
// plain reconnect never reopens a closed session.
func (s *Service) StudentConnected(ctx context.Context, sessionID string) (model.SessionItem, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return model.SessionItem{}, newError(ErrorCodeValidation, "session id is required", nil)
	}

	session, err := s.repo.EnsureSession(ctx, sessionID, s.timestamp())
	if err != nil {
		return model.SessionItem{}, newError(ErrorCodeInternal, "failed to register session", err)
	}
	return session, nil
}

// Claim is the queued -> live transition. Arbitration is the repository's
// conditional write: of two racing claims exactly one lands, the other gets
// a claim_rejected error and retries against the current queue.
func (s *Service) Claim(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.SessionItem{}, newError(ErrorCodeClaimRejected, "Student not connected / session closed.", err)
		}
		return model.SessionItem{}, newError(ErrorCodeInternal, "failed to load session", err)
	}
	if !session.StudentConnected || session.Status == model.SessionStatusClosed {
		return model.SessionItem{}, newError(ErrorCodeClaimRejected, "Student not connected / session closed.", nil)
	}

	claimed, err := s.repo.ClaimSession(ctx, sessionID, operatorID)
	if err != nil {
		if errors.Is(err, ErrClaimConflict) {
			return model.SessionItem{}, newError(ErrorCodeClaimRejected, "Session not found or closed.", err)
		}
		return model.SessionItem{}, newError(ErrorCodeInternal, "failed to claim session", err)
	}
	return claimed, nil
}

// StudentMessage appends to the log unconditionally, then reports whether
// the message should be relayed live or surface as a queued ping. A failed
// append is returned to the caller and nothing is relayed.
func (s *Service) StudentMessage(ctx context.Context, sessionID, text string) (RelayResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return RelayResult{}, newError(ErrorCodeValidation, "session id is required", nil)
	}

	message, err := s.appendMessage(ctx, sessionID, model.SenderStudent, text)
	if err != nil {
		return RelayResult{}, err
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return RelayResult{}, newError(ErrorCodeInternal, "failed to load session", err)
	}

	if err == nil && session.Status == model.SessionStatusLive {
		return RelayResult{Live: true, Message: message}, nil
	}

	return RelayResult{
		Live:          false,
		QueuePosition: s.queuePosition(ctx, sessionID),
		Message:       message,
	}, nil
}

// OperatorMessage is permitted only to the claimant of a live session.
func (s *Service) OperatorMessage(ctx context.Context, sessionID, operatorID, text string) (model.MessageItem, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.MessageItem{}, newError(ErrorCodeNotLive, "Session is not live.", err)
		}
		return model.MessageItem{}, newError(ErrorCodeInternal, "failed to load session", err)
	}
	if session.Status != model.SessionStatusLive {
		return model.MessageItem{}, newError(ErrorCodeNotLive, "Session is not live.", nil)
	}
	if session.Claimant != operatorID {
		return model.MessageItem{}, newError(ErrorCodeNotAssigned, "Session is not assigned to you.", nil)
	}

	return s.appendMessage(ctx, sessionID, model.SenderOperator, text)
}

// End closes a session unconditionally: status closed, student flagged
// disconnected, claimant released, end time stamped. Closing is a status
// transition, never a delete.
func (s *Service) End(ctx context.Context, sessionID string) (model.SessionItem, error) {
	session, err := s.repo.CloseSession(ctx, sessionID, s.timestamp())
	if err != nil {
		if errors.Is(err, ErrClaimConflict) || errors.Is(err, ErrNotFound) {
			return model.SessionItem{}, newError(ErrorCodeNotFound, "session not found", err)
		}
		return model.SessionItem{}, newError(ErrorCodeInternal, "failed to end session", err)
	}
	return session, nil
}

// DisconnectStudent handles the student's socket going away. A live session
// is demoted straight to closed (leaving mid-conversation ends the
// engagement, it is not re-queued); anything else just drops the connected
// flag.
func (s *Service) DisconnectStudent(ctx context.Context, sessionID string) (DisconnectResult, error) {
	_, err := s.repo.CloseSessionIfLive(ctx, sessionID, s.timestamp())
	if err == nil {
		return DisconnectResult{WasLive: true}, nil
	}
	if !errors.Is(err, ErrClaimConflict) {
		return DisconnectResult{}, newError(ErrorCodeInternal, "failed to record disconnect", err)
	}

	if err := s.repo.SetStudentConnected(ctx, sessionID, false); err != nil {
		if errors.Is(err, ErrNotFound) {
			return DisconnectResult{}, nil
		}
		return DisconnectResult{}, newError(ErrorCodeInternal, "failed to record disconnect", err)
	}
	return DisconnectResult{}, nil
}

func (s *Service) History(ctx context.Context, sessionID string) ([]model.MessageItem, error) {
	messages, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to load chat history", err)
	}
	return messages, nil
}

func (s *Service) ListSessions(ctx context.Context) ([]model.SessionItem, error) {
	sessions, err := s.repo.ListSessions(ctx)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list sessions", err)
	}
	return sessions, nil
}

// QueuePosition returns the 1-based rank of the session among currently
// queued sessions ordered by creation time, or 0 when it is not queued.
// Computed on demand, never cached.
func (s *Service) QueuePosition(ctx context.Context, sessionID string) int {
	return s.queuePosition(ctx, sessionID)
}

func (s *Service) queuePosition(ctx context.Context, sessionID string) int {
	queued, err := s.repo.ListQueuedSessions(ctx)
	if err != nil {
		return 0
	}
	for i, session := range queued {
		if session.SessionID == sessionID {
			return i + 1
		}
	}
	return 0
}

func (s *Service) appendMessage(ctx context.Context, sessionID string, sender model.Sender, text string) (model.MessageItem, error) {
	messageID := uuid.NewString()
	message := model.MessageItem{
		PK:        model.MessagePK(sessionID, messageID),
		SessionID: sessionID,
		MessageID: messageID,
		Sender:    sender,
		Body:      text,
		CreatedAt: s.now().UTC().Format(time.RFC3339Nano),
	}

	if err := s.repo.AppendMessage(ctx, message); err != nil {
		return model.MessageItem{}, newError(ErrorCodeInternal, "failed to save message", err)
	}
	return message, nil
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func defaultStudentName(sessionID string) string {
	short := sessionID
	if len(short) > 4 {
		short = short[:4]
	}
	return fmt.Sprintf("Student %s", short)
}
