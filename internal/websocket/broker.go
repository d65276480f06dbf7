package websocket

import (
	"context"
	"errors"
	"log"
	"time"

	"campus-chat-backend/internal/model"
	"campus-chat-backend/internal/service/livechat"

	"github.com/gorilla/websocket"
)

// Broker owns the connection registry and drives the session state machine
// on behalf of every connection. It is the only component that mutates the
// registry or issues session-store writes for socket events.
type Broker struct {
	registry *Registry
	service  *livechat.Service
}

func NewBroker(service *livechat.Service) *Broker {
	return &Broker{
		registry: NewRegistry(),
		service:  service,
	}
}

// ConnectStudent registers a fresh student socket for a session and starts
// its pumps. A replaced handle for the same session is closed; its own
// disconnect later no-ops. Connecting alone never broadcasts to operators:
// joining the visible queue takes an explicit escalation.
func (b *Broker) ConnectStudent(conn *websocket.Conn, sessionID string) *Client {
	client := newClient(conn, RoleStudent)
	client.SessionID = sessionID

	if previous := b.registry.RegisterStudent(sessionID, client); previous != nil {
		log.Printf("replacing student connection for session %s", sessionID)
		previous.close()
	}

	if _, err := b.service.StudentConnected(context.Background(), sessionID); err != nil {
		// The socket stays usable; the store catches up on the next write.
		log.Printf("failed to record student connect for %s: %v", sessionID, err)
	}

	go client.keepAlive()
	go client.writePump()
	go b.readStudent(client)

	log.Printf("student connected: session=%s", sessionID)
	return client
}

// ConnectOperator registers an operator socket and starts its pumps. The
// returned client carries the ephemeral operator id used to match claims.
func (b *Broker) ConnectOperator(conn *websocket.Conn) *Client {
	client := newClient(conn, RoleOperator)
	client.OperatorID = b.registry.RegisterOperator(client)

	go client.keepAlive()
	go client.writePump()
	go b.readOperator(client)

	log.Printf("operator connected: id=%s", client.OperatorID)
	return client
}

// Disconnect tears a connection down exactly once: state-machine transition
// first, then registry eviction, then the socket. Safe to call for handles
// that were already replaced in the registry.
func (b *Broker) Disconnect(client *Client) {
	switch client.Role {
	case RoleStudent:
		if b.registry.UnregisterStudent(client.SessionID, client) {
			result, err := b.service.DisconnectStudent(context.Background(), client.SessionID)
			if err != nil {
				log.Printf("failed to record student disconnect for %s: %v", client.SessionID, err)
			}
			if result.WasLive {
				b.BroadcastOperators(&Frame{
					Type:      FrameTypeSessionRemoved,
					SessionID: client.SessionID,
				})
			}
			log.Printf("student disconnected: session=%s", client.SessionID)
		}
	case RoleOperator:
		if b.registry.UnregisterOperator(client) {
			// A claimed session stays live with its claimant; the claim is
			// released only by the student leaving or an explicit end.
			log.Printf("operator disconnected: id=%s", client.OperatorID)
		}
	}
	client.close()
}

// BroadcastOperators delivers a frame to every connected operator,
// best-effort. A recipient with a stuck or closed send queue is evicted and
// the remaining sends proceed untouched.
func (b *Broker) BroadcastOperators(frame *Frame) {
	for _, operator := range b.registry.SnapshotOperators() {
		if !operator.trySend(frame) {
			log.Printf("evicting unresponsive operator %s during broadcast", operator.OperatorID)
			b.Disconnect(operator)
		}
	}
}

// SendStudent delivers a frame to the session's registered student, if any.
// Delivery failure tears the stale handle down through the usual disconnect
// path, so a live session is still demoted and announced; the error is never
// surfaced to the triggering caller.
func (b *Broker) SendStudent(sessionID string, frame *Frame) {
	client, ok := b.registry.LookupStudent(sessionID)
	if !ok {
		log.Printf("no student connection for session %s", sessionID)
		return
	}
	if !client.trySend(frame) {
		log.Printf("evicting unresponsive student connection for session %s", sessionID)
		b.Disconnect(client)
	}
}

func (b *Broker) readStudent(client *Client) {
	defer b.Disconnect(client)

	client.Conn.SetReadLimit(maxFrameSize)
	client.Conn.SetReadDeadline(time.Now().Add(readIdleWindow))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(readIdleWindow))
	})

	for {
		var frame StudentFrame
		if err := client.Conn.ReadJSON(&frame); err != nil {
			if !isExpectedClose(err) {
				log.Printf("read error for session %s: %v", client.SessionID, err)
			}
			return
		}
		client.Conn.SetReadDeadline(time.Now().Add(readIdleWindow))
		b.handleStudentMessage(client.SessionID, frame.Message)
	}
}

func (b *Broker) readOperator(client *Client) {
	defer b.Disconnect(client)

	client.Conn.SetReadLimit(maxFrameSize)
	client.Conn.SetReadDeadline(time.Now().Add(readIdleWindow))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(readIdleWindow))
	})

	for {
		var frame OperatorFrame
		if err := client.Conn.ReadJSON(&frame); err != nil {
			if !isExpectedClose(err) {
				log.Printf("read error for operator %s: %v", client.OperatorID, err)
			}
			return
		}
		client.Conn.SetReadDeadline(time.Now().Add(readIdleWindow))
		b.handleOperatorFrame(client, frame)
	}
}

// handleStudentMessage logs the message, then either relays it live or
// pings the operator queue view with the session's current position. A
// failed log write relays nothing: what operators see never runs ahead of
// what was persisted.
func (b *Broker) handleStudentMessage(sessionID, text string) {
	result, err := b.service.StudentMessage(context.Background(), sessionID, text)
	if err != nil {
		log.Printf("failed to persist student message for %s: %v", sessionID, err)
		return
	}

	if result.Live {
		b.BroadcastOperators(&Frame{
			Type:      FrameTypeMessage,
			SessionID: sessionID,
			Sender:    string(model.SenderStudent),
			Message:   text,
		})
		return
	}

	b.BroadcastOperators(&Frame{
		Type:          FrameTypeQueuedPing,
		SessionID:     sessionID,
		QueuePosition: result.QueuePosition,
	})
}

// handleOperatorFrame dispatches exactly one broker call per inbound frame.
func (b *Broker) handleOperatorFrame(client *Client, frame OperatorFrame) {
	switch frame.Type {
	case FrameTypeJoin:
		b.handleOperatorJoin(client, frame.SessionID)
	case FrameTypeMessage:
		b.handleOperatorMessage(client, frame.SessionID, frame.Message)
	default:
		client.trySend(&Frame{
			Type:   FrameTypeError,
			Reason: "Unknown message type.",
		})
	}
}

func (b *Broker) handleOperatorJoin(client *Client, sessionID string) {
	session, err := b.service.Claim(context.Background(), sessionID, client.OperatorID)
	if err != nil {
		reason := err.Error()
		var svcErr *livechat.Error
		rejected := errors.As(err, &svcErr) && svcErr.Code == livechat.ErrorCodeClaimRejected
		if rejected {
			wsClaimsRejected.Inc()
		}

		client.trySend(&Frame{
			Type:      FrameTypeError,
			SessionID: sessionID,
			Reason:    reason,
		})
		if rejected {
			// Clear the stale entry from this operator's queue view.
			client.trySend(&Frame{
				Type:      FrameTypeSessionRemoved,
				SessionID: sessionID,
			})
		}
		return
	}

	b.SendStudent(sessionID, &Frame{
		Type:      FrameTypeStatus,
		SessionID: sessionID,
		Status:    string(model.SessionStatusLive),
	})
	client.trySend(&Frame{
		Type:         FrameTypeJoined,
		SessionID:    sessionID,
		StudentName:  session.StudentName,
		StudentEmail: session.StudentEmail,
	})
	log.Printf("operator %s claimed session %s", client.OperatorID, sessionID)
}

func (b *Broker) handleOperatorMessage(client *Client, sessionID, text string) {
	if _, err := b.service.OperatorMessage(context.Background(), sessionID, client.OperatorID, text); err != nil {
		client.trySend(&Frame{
			Type:      FrameTypeError,
			SessionID: sessionID,
			Reason:    err.Error(),
		})
		return
	}

	b.SendStudent(sessionID, &Frame{
		Type:      FrameTypeMessage,
		SessionID: sessionID,
		Sender:    string(model.SenderOperator),
		Message:   text,
	})
}
