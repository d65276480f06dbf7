package websocket

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publish pushes a frame onto the shared event channel for delivery to
// every broker's operators.
func Publish(frame *Frame) error {
	if redisClient == nil {
		return fmt.Errorf("websocket publish: redis client not initialised")
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("websocket publish: marshal frame: %w", err)
	}

	if err := redisClient.Publish(context.Background(), EventChannel, string(payload)).Err(); err != nil {
		return fmt.Errorf("websocket publish: redis publish: %w", err)
	}
	return nil
}
