package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"campus-chat-backend/internal/env"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

// EventChannel carries session events published by HTTP endpoints so every
// broker instance can fan them out to its connected operators.
const EventChannel = "livechat:events"

var (
	upgrader    websocket.Upgrader
	redisClient *redis.Client
)

func init() {
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	if addr := env.Get(env.ChatRedisURL); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: env.Get(env.ChatRedisPass),
			DB:       0,
		})
	}
}

type Handler struct {
	broker      *Broker
	redisClient *redis.Client
}

func NewHandler(b *Broker) *Handler {
	return &Handler{
		broker:      b,
		redisClient: redisClient,
	}
}

func (h *Handler) Broker() *Broker {
	return h.broker
}

// StudentWebsocket upgrades an inbound student request and hands the
// connection to the broker for the lifetime of the session.
func (h *Handler) StudentWebsocket(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.broker.ConnectStudent(conn, sessionID)
}

// OperatorWebsocket upgrades an inbound operator request. The caller has
// already authenticated it.
func (h *Handler) OperatorWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.broker.ConnectOperator(conn)
}

// NotifyOperators announces a session event to operators. When Redis is
// configured the frame travels through the shared event channel, otherwise
// it is delivered straight to this broker's connections.
func (h *Handler) NotifyOperators(frame *Frame) {
	if h.redisClient != nil {
		err := Publish(frame)
		if err == nil {
			return
		}
		log.Printf("falling back to direct broadcast: %v", err)
	}
	h.broker.BroadcastOperators(frame)
}

// RunEventBridge consumes the shared event channel and fans every frame out
// to this broker's operators. Returns immediately when Redis is not
// configured. Blocks until the context is cancelled.
func (h *Handler) RunEventBridge(ctx context.Context) {
	if h.redisClient == nil {
		log.Printf("event bridge disabled: no redis configured")
		return
	}

	subscriber := h.redisClient.Subscribe(ctx, EventChannel)
	defer subscriber.Close()

	log.Printf("event bridge subscribed to %s", EventChannel)
	ch := subscriber.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				log.Printf("event bridge: malformed payload: %v", err)
				continue
			}
			h.broker.BroadcastOperators(&frame)
		}
	}
}
