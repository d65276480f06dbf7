package main

import (
	"context"
	"log"

	"campus-chat-backend/internal/api"
	"campus-chat-backend/internal/api/router"
	"campus-chat-backend/internal/database"
	"campus-chat-backend/internal/env"
	"campus-chat-backend/internal/queue"
	livechatservice "campus-chat-backend/internal/service/livechat"
	"campus-chat-backend/internal/websocket"
)

func main() {
	env.MustGet(env.StaffSecretKey)

	queueManager := queue.NewRequestQueueManager(10, 10)
	db, err := database.NewDatabase()
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}

	service := livechatservice.New(db)
	broker := websocket.NewBroker(service)
	handler := websocket.NewHandler(broker)

	server := api.NewAPIServer(
		env.GetOrDefault(env.ListenAddr, ":84"),
		queueManager,
		db,
		handler,
		router.UtilsRoutes("/api/chat/v1"),
		router.LiveChatRoutes("/api/chat/v1"),
	)

	go handler.RunEventBridge(context.Background())

	server.Run()
}
