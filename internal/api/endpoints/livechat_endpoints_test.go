package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"campus-chat-backend/internal/api"
	"campus-chat-backend/internal/api/middleware"
	"campus-chat-backend/internal/dto"
	"campus-chat-backend/internal/env"
	internaljwt "campus-chat-backend/internal/jwt"
	"campus-chat-backend/internal/model"
	"campus-chat-backend/internal/queue"
	livechatservice "campus-chat-backend/internal/service/livechat"
	"campus-chat-backend/internal/websocket"

	gorillaws "github.com/gorilla/websocket"
)

type memoryRepository struct {
	mu       sync.Mutex
	sessions map[string]model.SessionItem
	messages []model.MessageItem
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{sessions: make(map[string]model.SessionItem)}
}

func (m *memoryRepository) GetSession(_ context.Context, sessionID string) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return model.SessionItem{}, livechatservice.ErrNotFound
	}
	return session, nil
}

func (m *memoryRepository) UpsertQueuedSession(_ context.Context, sessionID, studentName, studentEmail, now string) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		session = model.SessionItem{SessionID: sessionID, CreatedAt: now}
	}
	session.Status = model.SessionStatusQueued
	session.StudentConnected = true
	session.StudentName = studentName
	session.StudentEmail = studentEmail
	session.Claimant = ""
	m.sessions[sessionID] = session
	return session, nil
}

func (m *memoryRepository) EnsureSession(_ context.Context, sessionID, now string) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		session = model.SessionItem{SessionID: sessionID, Status: model.SessionStatusQueued, CreatedAt: now}
	}
	session.StudentConnected = true
	m.sessions[sessionID] = session
	return session, nil
}

func (m *memoryRepository) ClaimSession(_ context.Context, sessionID, operatorID string) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return model.SessionItem{}, livechatservice.ErrClaimConflict
	}
	queued := session.Status == model.SessionStatusQueued
	rejoin := session.Status == model.SessionStatusLive && session.Claimant == operatorID
	if !queued && !rejoin {
		return model.SessionItem{}, livechatservice.ErrClaimConflict
	}
	session.Status = model.SessionStatusLive
	session.Claimant = operatorID
	m.sessions[sessionID] = session
	return session, nil
}

func (m *memoryRepository) CloseSession(_ context.Context, sessionID, endedAt string) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return model.SessionItem{}, livechatservice.ErrNotFound
	}
	return m.closeLocked(session, endedAt), nil
}

func (m *memoryRepository) CloseSessionIfLive(_ context.Context, sessionID, endedAt string) (model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || session.Status != model.SessionStatusLive {
		return model.SessionItem{}, livechatservice.ErrClaimConflict
	}
	return m.closeLocked(session, endedAt), nil
}

func (m *memoryRepository) closeLocked(session model.SessionItem, endedAt string) model.SessionItem {
	session.Status = model.SessionStatusClosed
	session.StudentConnected = false
	session.Claimant = ""
	session.EndedAt = endedAt
	m.sessions[session.SessionID] = session
	return session
}

func (m *memoryRepository) SetStudentConnected(_ context.Context, sessionID string, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return livechatservice.ErrNotFound
	}
	session.StudentConnected = connected
	m.sessions[sessionID] = session
	return nil
}

func (m *memoryRepository) ListSessions(_ context.Context) ([]model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]model.SessionItem, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	livechatservice.SortSessions(sessions)
	return sessions, nil
}

func (m *memoryRepository) ListQueuedSessions(_ context.Context) ([]model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var queued []model.SessionItem
	for _, session := range m.sessions {
		if session.Status == model.SessionStatusQueued {
			queued = append(queued, session)
		}
	}
	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].CreatedAt < queued[j].CreatedAt
	})
	return queued, nil
}

func (m *memoryRepository) AppendMessage(_ context.Context, message model.MessageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return nil
}

func (m *memoryRepository) ListMessages(_ context.Context, sessionID string) ([]model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var messages []model.MessageItem
	for _, message := range m.messages {
		if message.SessionID == sessionID {
			messages = append(messages, message)
		}
	}
	return messages, nil
}

func setupLiveChatTestHandler(t *testing.T) (http.Handler, *livechatservice.Service, *memoryRepository) {
	t.Helper()
	t.Setenv(env.StaffSecretKey, "staff-test-secret")

	repo := newMemoryRepository()
	base := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc := livechatservice.NewWithRepository(repo, func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	broker := websocket.NewBroker(svc)
	handler := websocket.NewHandler(broker)

	queueManager := queue.NewRequestQueueManager(10, 1)
	server := api.NewAPIServer(":0", queueManager, nil, handler)

	chatEndpoints := NewLiveChatEndpoints(svc, handler, "/api/chat/v1")
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/v1/sessions/", server.MakeHTTPHandleFunc(chatEndpoints.Sessions))
	mux.HandleFunc("/api/chat/v1/admin/sessions", server.MakeHTTPHandleFunc(chatEndpoints.AdminSessions, middleware.ValidateStaffJWT))
	mux.HandleFunc("/api/chat/v1/ws/student/", server.MakeHTTPHandleFunc(chatEndpoints.StudentWebsocket))
	mux.HandleFunc("/api/chat/v1/ws/operator", server.MakeHTTPHandleFunc(chatEndpoints.OperatorWebsocket))

	t.Cleanup(queueManager.Shutdown)

	return mux, svc, repo
}

func staffToken(t *testing.T) string {
	t.Helper()
	token, err := internaljwt.CreateToken(internaljwt.Staff{Id: "op-1", Email: "op@campus.edu"}, internaljwt.RoleStaff, 0)
	if err != nil {
		t.Fatalf("create staff token: %v", err)
	}
	return token
}

func TestEscalateEndpointQueuesSession(t *testing.T) {
	handler, _, repo := setupLiveChatTestHandler(t)

	body, _ := json.Marshal(dto.EscalateRequest{StudentName: "Ada", StudentEmail: "ada@campus.edu"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/v1/sessions/sess-1/escalate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.OkResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Ok {
		t.Fatal("expected ok:true")
	}

	session := repo.sessions["sess-1"]
	if session.Status != model.SessionStatusQueued || session.StudentName != "Ada" {
		t.Fatalf("session not queued with metadata: %+v", session)
	}
}

func TestEscalateEndpointAcceptsEmptyBody(t *testing.T) {
	handler, _, repo := setupLiveChatTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/v1/sessions/abcd1234/escalate", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := repo.sessions["abcd1234"].StudentName; got != "Student abcd" {
		t.Fatalf("expected default display name, got %q", got)
	}
}

func TestEscalateRejectsWrongMethod(t *testing.T) {
	handler, _, _ := setupLiveChatTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/v1/sessions/sess-1/escalate", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestEndEndpointClosesSession(t *testing.T) {
	handler, _, repo := setupLiveChatTestHandler(t)
	repo.sessions["sess-1"] = model.SessionItem{
		SessionID: "sess-1",
		Status:    model.SessionStatusLive,
		Claimant:  "op-9",
		CreatedAt: "2025-09-01T11:00:00Z",
	}

	req := httptest.NewRequest(http.MethodPost, "/api/chat/v1/sessions/sess-1/end", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	session := repo.sessions["sess-1"]
	if session.Status != model.SessionStatusClosed || session.Claimant != "" || session.EndedAt == "" {
		t.Fatalf("session not closed cleanly: %+v", session)
	}
}

func TestEndEndpointUnknownSession(t *testing.T) {
	handler, _, _ := setupLiveChatTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/v1/sessions/nope/end", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestHistoryEndpointPreservesOrder(t *testing.T) {
	handler, svc, _ := setupLiveChatTestHandler(t)

	ctx := context.Background()
	if _, err := svc.Escalate(ctx, livechatservice.EscalateParams{SessionID: "sess-1", StudentName: "Ada"}); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	for _, text := range []string{"first", "second", "third"} {
		if _, err := svc.StudentMessage(ctx, "sess-1", text); err != nil {
			t.Fatalf("student message: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/chat/v1/sessions/sess-1/history", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.HistoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(resp.Messages))
	}
	for i, want := range []string{"first", "second", "third"} {
		if resp.Messages[i].Message != want {
			t.Fatalf("message %d out of order: got %q want %q", i, resp.Messages[i].Message, want)
		}
	}
}

func TestAdminSessionsRequiresStaffToken(t *testing.T) {
	handler, _, _ := setupLiveChatTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/v1/admin/sessions", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAdminSessionsListsSortedWithQueuePositions(t *testing.T) {
	handler, svc, _ := setupLiveChatTestHandler(t)

	ctx := context.Background()
	for _, id := range []string{"q-1", "q-2"} {
		if _, err := svc.Escalate(ctx, livechatservice.EscalateParams{SessionID: id}); err != nil {
			t.Fatalf("escalate %s: %v", id, err)
		}
	}
	if _, err := svc.Escalate(ctx, livechatservice.EscalateParams{SessionID: "done-1"}); err != nil {
		t.Fatalf("escalate done-1: %v", err)
	}
	if _, err := svc.End(ctx, "done-1"); err != nil {
		t.Fatalf("end done-1: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/chat/v1/admin/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp dto.ListSessionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(resp.Sessions))
	}
	if resp.Sessions[0].SessionID != "q-1" || resp.Sessions[0].QueuePosition != 1 {
		t.Fatalf("expected q-1 first with position 1, got %+v", resp.Sessions[0])
	}
	if resp.Sessions[1].SessionID != "q-2" || resp.Sessions[1].QueuePosition != 2 {
		t.Fatalf("expected q-2 second with position 2, got %+v", resp.Sessions[1])
	}
	if resp.Sessions[2].SessionID != "done-1" || resp.Sessions[2].Status != string(model.SessionStatusClosed) {
		t.Fatalf("closed session should sort last, got %+v", resp.Sessions[2])
	}
}

func TestOperatorWebsocketRejectsBadToken(t *testing.T) {
	handler, _, _ := setupLiveChatTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/v1/ws/operator?token=garbage", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

// Full round trip over real sockets: student connects, escalates over REST,
// an operator claims the session and both sides relay messages.
func TestWebsocketClaimAndRelayFlow(t *testing.T) {
	handler, _, _ := setupLiveChatTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	wsBase := "ws" + strings.TrimPrefix(server.URL, "http")

	student, _, err := gorillaws.DefaultDialer.Dial(wsBase+"/api/chat/v1/ws/student/sess-1", nil)
	if err != nil {
		t.Fatalf("dial student: %v", err)
	}
	defer student.Close()

	operator, _, err := gorillaws.DefaultDialer.Dial(wsBase+"/api/chat/v1/ws/operator?token="+staffToken(t), nil)
	if err != nil {
		t.Fatalf("dial operator: %v", err)
	}
	defer operator.Close()

	// Registration happens just after the upgrade handshake; give the
	// server a beat before events start flowing.
	time.Sleep(50 * time.Millisecond)

	body, _ := json.Marshal(dto.EscalateRequest{StudentName: "Ada"})
	resp, err := http.Post(server.URL+"/api/chat/v1/sessions/sess-1/escalate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("escalate status %d", resp.StatusCode)
	}

	newSession := readFrame(t, operator)
	if newSession.Type != websocket.FrameTypeNewSession || newSession.SessionID != "sess-1" {
		t.Fatalf("expected new_session frame, got %+v", newSession)
	}

	if err := operator.WriteJSON(map[string]string{"type": "join", "session_id": "sess-1"}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	joined := readFrame(t, operator)
	if joined.Type != websocket.FrameTypeJoined || joined.StudentName != "Ada" {
		t.Fatalf("expected joined frame with student name, got %+v", joined)
	}
	status := readFrame(t, student)
	if status.Type != websocket.FrameTypeStatus || status.Status != string(model.SessionStatusLive) {
		t.Fatalf("student should see live status, got %+v", status)
	}

	if err := operator.WriteJSON(map[string]string{"type": "message", "session_id": "sess-1", "message": "how can I help?"}); err != nil {
		t.Fatalf("send operator message: %v", err)
	}
	toStudent := readFrame(t, student)
	if toStudent.Type != websocket.FrameTypeMessage || toStudent.Message != "how can I help?" {
		t.Fatalf("student should see the operator message, got %+v", toStudent)
	}

	if err := student.WriteJSON(map[string]string{"message": "my card is blocked"}); err != nil {
		t.Fatalf("send student message: %v", err)
	}
	toOperator := readFrame(t, operator)
	if toOperator.Type != websocket.FrameTypeMessage || toOperator.Message != "my card is blocked" {
		t.Fatalf("operator should see the student message, got %+v", toOperator)
	}
	if toOperator.Sender != string(model.SenderStudent) {
		t.Fatalf("expected student sender, got %q", toOperator.Sender)
	}
}

func readFrame(t *testing.T, conn *gorillaws.Conn) websocket.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame websocket.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}
