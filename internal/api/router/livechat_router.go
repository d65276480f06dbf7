package router

import (
	"net/http"
	"strings"

	"campus-chat-backend/internal/api"
	"campus-chat-backend/internal/api/endpoints"
	"campus-chat-backend/internal/api/middleware"
	livechatservice "campus-chat-backend/internal/service/livechat"
)

// LiveChatRoutes wires the session REST surface plus both websocket
// channels under one prefix.
func LiveChatRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		service := livechatservice.New(s.Database())
		base := strings.TrimRight(prefix, "/")
		chatEndpoints := endpoints.NewLiveChatEndpointsWithPaths(service, s.Handler(), endpoints.LiveChatPaths{
			SessionsPrefix:    base + "/sessions/",
			AdminSessionsPath: base + "/admin/sessions",
			StudentWSPrefix:   base + "/ws/student/",
			OperatorWSPath:    base + "/ws/operator",
		})

		mux.HandleFunc(base+"/sessions/", s.MakeHTTPHandleFunc(chatEndpoints.Sessions))
		mux.HandleFunc(base+"/admin/sessions", s.MakeHTTPHandleFunc(chatEndpoints.AdminSessions, middleware.ValidateStaffJWT))
		mux.HandleFunc(base+"/ws/student/", s.MakeHTTPHandleFunc(chatEndpoints.StudentWebsocket))
		mux.HandleFunc(base+"/ws/operator", s.MakeHTTPHandleFunc(chatEndpoints.OperatorWebsocket))
	}
}
