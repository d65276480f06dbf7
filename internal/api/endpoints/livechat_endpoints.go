package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"campus-chat-backend/internal/dto"
	iternal_jwt "campus-chat-backend/internal/jwt"
	"campus-chat-backend/internal/model"
	livechatservice "campus-chat-backend/internal/service/livechat"
	"campus-chat-backend/internal/websocket"
)

type LiveChatEndpoints interface {
	Sessions(http.ResponseWriter, *http.Request) error
	AdminSessions(http.ResponseWriter, *http.Request) error
	StudentWebsocket(http.ResponseWriter, *http.Request) error
	OperatorWebsocket(http.ResponseWriter, *http.Request) error
}

type LiveChatPaths struct {
	SessionsPrefix    string
	AdminSessionsPath string
	StudentWSPrefix   string
	OperatorWSPath    string
}

type liveChatEndpoints struct {
	service *livechatservice.Service
	handler *websocket.Handler
	paths   LiveChatPaths
}

func NewLiveChatEndpoints(service *livechatservice.Service, handler *websocket.Handler, prefix string) LiveChatEndpoints {
	base := strings.TrimRight(prefix, "/")
	return NewLiveChatEndpointsWithPaths(service, handler, LiveChatPaths{
		SessionsPrefix:    base + "/sessions/",
		AdminSessionsPath: base + "/admin/sessions",
		StudentWSPrefix:   base + "/ws/student/",
		OperatorWSPath:    base + "/ws/operator",
	})
}

func NewLiveChatEndpointsWithPaths(service *livechatservice.Service, handler *websocket.Handler, paths LiveChatPaths) LiveChatEndpoints {
	return &liveChatEndpoints{
		service: service,
		handler: handler,
		paths:   paths,
	}
}

// Sessions dispatches /sessions/{id}/{escalate|end|history}.
func (h *liveChatEndpoints) Sessions(w http.ResponseWriter, r *http.Request) error {
	rest, err := h.extractFromPath(r.URL.Path, h.paths.SessionsPrefix)
	if err != nil {
		return err
	}

	sessionID, action, ok := strings.Cut(strings.Trim(rest, "/"), "/")
	if !ok || sessionID == "" {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("malformed session path %q", r.URL.Path),
		}
	}

	switch action {
	case "escalate":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleEscalate(w, r, sessionID)
			},
		})
	case "end":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleEnd(w, r, sessionID)
			},
		})
	case "history":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleHistory(w, r, sessionID)
			},
		})
	default:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unknown session action %q", action),
		}
	}
}

// handleEscalate places the session into the operator-visible queue and
// announces it. The body is optional; an absent one escalates anonymously.
func (h *liveChatEndpoints) handleEscalate(w http.ResponseWriter, r *http.Request, sessionID string) error {
	var req dto.EscalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request body",
			ErrorLog:   fmt.Errorf("decode escalate request: %w", err),
		}
	}

	session, err := h.service.Escalate(r.Context(), livechatservice.EscalateParams{
		SessionID:    sessionID,
		StudentName:  req.StudentName,
		StudentEmail: req.StudentEmail,
	})
	if err != nil {
		return h.serviceError(err)
	}

	h.handler.NotifyOperators(&websocket.Frame{
		Type:          websocket.FrameTypeNewSession,
		SessionID:     session.SessionID,
		StudentName:   session.StudentName,
		StudentEmail:  session.StudentEmail,
		QueuePosition: h.service.QueuePosition(r.Context(), session.SessionID),
	})

	return WriteJSON(w, http.StatusOK, dto.OkResponse{Ok: true})
}

func (h *liveChatEndpoints) handleEnd(w http.ResponseWriter, r *http.Request, sessionID string) error {
	session, err := h.service.End(r.Context(), sessionID)
	if err != nil {
		return h.serviceError(err)
	}

	h.handler.NotifyOperators(&websocket.Frame{
		Type:      websocket.FrameTypeSessionRemoved,
		SessionID: session.SessionID,
	})

	return WriteJSON(w, http.StatusOK, dto.OkResponse{Ok: true})
}

func (h *liveChatEndpoints) handleHistory(w http.ResponseWriter, r *http.Request, sessionID string) error {
	messages, err := h.service.History(r.Context(), sessionID)
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.HistoryResponse{
		SessionID: sessionID,
		Messages:  make([]dto.MessageResponse, 0, len(messages)),
	}
	for _, message := range messages {
		resp.Messages = append(resp.Messages, toMessageResponse(message))
	}
	return WriteJSON(w, http.StatusOK, resp)
}

func (h *liveChatEndpoints) AdminSessions(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleListSessions,
	})
}

func (h *liveChatEndpoints) handleListSessions(w http.ResponseWriter, r *http.Request) error {
	sessions, err := h.service.ListSessions(r.Context())
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.ListSessionsResponse{Sessions: make([]dto.SessionResponse, 0, len(sessions))}
	queueRank := 0
	for _, session := range sessions {
		out := toSessionResponse(session)
		if session.Status == model.SessionStatusQueued {
			queueRank++
			out.QueuePosition = queueRank
		}
		resp.Sessions = append(resp.Sessions, out)
	}
	return WriteJSON(w, http.StatusOK, resp)
}

func (h *liveChatEndpoints) StudentWebsocket(w http.ResponseWriter, r *http.Request) error {
	sessionID, err := h.extractFromPath(r.URL.Path, h.paths.StudentWSPrefix)
	if err != nil {
		return err
	}
	sessionID = strings.Trim(sessionID, "/")
	if sessionID == "" {
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Session not found",
			ErrorLog:   fmt.Errorf("websocket session id missing"),
		}
	}

	h.handler.StudentWebsocket(w, r, sessionID)
	return nil
}

// OperatorWebsocket authenticates via a token query parameter because
// browsers cannot set headers on websocket upgrades.
func (h *liveChatEndpoints) OperatorWebsocket(w http.ResponseWriter, r *http.Request) error {
	token := r.URL.Query().Get("token")
	claims, err := iternal_jwt.ParseToken(token, iternal_jwt.RoleStaff)
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   fmt.Errorf("operator websocket token: %w", err),
		}
	}

	expires, ok := claims["exp"].(float64)
	if !ok || time.Now().Unix() > int64(expires) {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Token expired",
			ErrorLog:   fmt.Errorf("operator websocket token expired"),
		}
	}

	h.handler.OperatorWebsocket(w, r)
	return nil
}

func (h *liveChatEndpoints) extractFromPath(path, prefix string) (string, error) {
	if !strings.HasPrefix(path, prefix) {
		return "", &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("path %q does not match prefix %q", path, prefix),
		}
	}
	return strings.TrimPrefix(path, prefix), nil
}

func (h *liveChatEndpoints) serviceError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*livechatservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("livechat service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case livechatservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case livechatservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	case livechatservice.ErrorCodeClaimRejected:
		return &HTTPError{StatusCode: http.StatusConflict, Message: svcErr.Message, ErrorLog: logErr}
	case livechatservice.ErrorCodeNotLive, livechatservice.ErrorCodeNotAssigned:
		return &HTTPError{StatusCode: http.StatusForbidden, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}

func toSessionResponse(item model.SessionItem) dto.SessionResponse {
	return dto.SessionResponse{
		SessionID:        item.SessionID,
		Status:           string(item.Status),
		StudentConnected: item.StudentConnected,
		Claimant:         item.Claimant,
		StudentName:      item.StudentName,
		StudentEmail:     item.StudentEmail,
		CreatedAt:        item.CreatedAt,
		EndedAt:          item.EndedAt,
	}
}

func toMessageResponse(item model.MessageItem) dto.MessageResponse {
	return dto.MessageResponse{
		MessageID: item.MessageID,
		SessionID: item.SessionID,
		Sender:    string(item.Sender),
		Message:   item.Body,
		CreatedAt: item.CreatedAt,
	}
}
