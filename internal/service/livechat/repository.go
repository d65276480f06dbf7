package livechat

import (
	"campus-chat-backend/internal/database"
	"campus-chat-backend/internal/model"
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound = errors.New("livechat repository: not found")
	// ErrClaimConflict reports a lost claim race: the session's status no
	// longer allowed the transition when the conditional write landed.
	ErrClaimConflict = errors.New("livechat repository: claim conflict")
)

type Repository interface {
	GetSession(ctx context.Context, sessionID string) (model.SessionItem, error)
	UpsertQueuedSession(ctx context.Context, sessionID, studentName, studentEmail, now string) (model.SessionItem, error)
	EnsureSession(ctx context.Context, sessionID, now string) (model.SessionItem, error)
	ClaimSession(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error)
	CloseSession(ctx context.Context, sessionID, endedAt string) (model.SessionItem, error)
	CloseSessionIfLive(ctx context.Context, sessionID, endedAt string) (model.SessionItem, error)
	SetStudentConnected(ctx context.Context, sessionID string, connected bool) error
	ListSessions(ctx context.Context) ([]model.SessionItem, error)
	ListQueuedSessions(ctx context.Context) ([]model.SessionItem, error)
	AppendMessage(ctx context.Context, message model.MessageItem) error
	ListMessages(ctx context.Context, sessionID string) ([]model.MessageItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func sessionKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
	}
}

func (r *DynamoRepository) GetSession(ctx context.Context, sessionID string) (model.SessionItem, error) {
	var session model.SessionItem
	err := r.db.Client.GetItem(ctx, model.SessionsTable, sessionKey(sessionID), &session)
	if err != nil {
		if isNotFound(err) {
			return model.SessionItem{}, ErrNotFound
		}
		return model.SessionItem{}, err
	}
	return session, nil
}

// UpsertQueuedSession is the escalation write: create the session in queued
// if it does not exist, otherwise force it back to queued and refresh the
// student metadata. Any previous claimant is removed.
func (r *DynamoRepository) UpsertQueuedSession(ctx context.Context, sessionID, studentName, studentEmail, now string) (model.SessionItem, error) {
	var session model.SessionItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		"SET #status = :queued, studentConnected = :connected, studentName = :name, studentEmail = :email, createdAt = if_not_exists(createdAt, :now) REMOVE claimant",
		map[string]types.AttributeValue{
			":queued":    &types.AttributeValueMemberS{Value: string(model.SessionStatusQueued)},
			":connected": &types.AttributeValueMemberBOOL{Value: true},
			":name":      &types.AttributeValueMemberS{Value: studentName},
			":email":     &types.AttributeValueMemberS{Value: studentEmail},
			":now":       &types.AttributeValueMemberS{Value: now},
		},
		map[string]string{
			"#status": "status",
		},
		&session,
	)
	if err != nil {
		return model.SessionItem{}, err
	}
	return session, nil
}

// EnsureSession is the socket-connect write: create the session in queued if
// it is new, otherwise only mark the student connected. A reconnect never
// reopens a closed session; that takes an explicit escalation.
func (r *DynamoRepository) EnsureSession(ctx context.Context, sessionID, now string) (model.SessionItem, error) {
	var session model.SessionItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		"SET #status = if_not_exists(#status, :queued), studentConnected = :connected, createdAt = if_not_exists(createdAt, :now)",
		map[string]types.AttributeValue{
			":queued":    &types.AttributeValueMemberS{Value: string(model.SessionStatusQueued)},
			":connected": &types.AttributeValueMemberBOOL{Value: true},
			":now":       &types.AttributeValueMemberS{Value: now},
		},
		map[string]string{
			"#status": "status",
		},
		&session,
	)
	if err != nil {
		return model.SessionItem{}, err
	}
	return session, nil
}

// ClaimSession transitions queued -> live with the store as arbiter. The
// condition expression is the compare-and-swap: a claim lands only while the
// session is still queued, or when the same operator re-joins a session it
// already holds. Everything else is a conflict.
func (r *DynamoRepository) ClaimSession(ctx context.Context, sessionID, operatorID string) (model.SessionItem, error) {
	var session model.SessionItem
	err := r.db.Client.UpdateItemConditional(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		"SET #status = :live, claimant = :operator",
		"attribute_exists(sessionId) AND (#status = :queued OR (#status = :live AND claimant = :operator))",
		map[string]types.AttributeValue{
			":queued":   &types.AttributeValueMemberS{Value: string(model.SessionStatusQueued)},
			":live":     &types.AttributeValueMemberS{Value: string(model.SessionStatusLive)},
			":operator": &types.AttributeValueMemberS{Value: operatorID},
		},
		map[string]string{
			"#status": "status",
		},
		&session,
	)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return model.SessionItem{}, ErrClaimConflict
		}
		return model.SessionItem{}, err
	}
	return session, nil
}

func (r *DynamoRepository) CloseSession(ctx context.Context, sessionID, endedAt string) (model.SessionItem, error) {
	return r.closeSession(ctx, sessionID, endedAt, "attribute_exists(sessionId)", nil)
}

func (r *DynamoRepository) CloseSessionIfLive(ctx context.Context, sessionID, endedAt string) (model.SessionItem, error) {
	return r.closeSession(
		ctx,
		sessionID,
		endedAt,
		"attribute_exists(sessionId) AND #status = :live",
		map[string]types.AttributeValue{
			":live": &types.AttributeValueMemberS{Value: string(model.SessionStatusLive)},
		},
	)
}

func (r *DynamoRepository) closeSession(ctx context.Context, sessionID, endedAt, conditionExpr string, conditionValues map[string]types.AttributeValue) (model.SessionItem, error) {
	values := map[string]types.AttributeValue{
		":closed":    &types.AttributeValueMemberS{Value: string(model.SessionStatusClosed)},
		":connected": &types.AttributeValueMemberBOOL{Value: false},
		":endedAt":   &types.AttributeValueMemberS{Value: endedAt},
	}
	for k, v := range conditionValues {
		values[k] = v
	}

	var session model.SessionItem
	err := r.db.Client.UpdateItemConditional(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		"SET #status = :closed, studentConnected = :connected, endedAt = :endedAt REMOVE claimant",
		conditionExpr,
		values,
		map[string]string{
			"#status": "status",
		},
		&session,
	)
	if err != nil {
		if errors.Is(err, database.ErrConditionFailed) {
			return model.SessionItem{}, ErrClaimConflict
		}
		return model.SessionItem{}, err
	}
	return session, nil
}

func (r *DynamoRepository) SetStudentConnected(ctx context.Context, sessionID string, connected bool) error {
	err := r.db.Client.UpdateItemConditional(
		ctx,
		model.SessionsTable,
		sessionKey(sessionID),
		"SET studentConnected = :connected",
		"attribute_exists(sessionId)",
		map[string]types.AttributeValue{
			":connected": &types.AttributeValueMemberBOOL{Value: connected},
		},
		nil,
		nil,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrNotFound
	}
	return err
}

func (r *DynamoRepository) ListSessions(ctx context.Context) ([]model.SessionItem, error) {
	items, err := r.db.Client.ScanAll(ctx, model.SessionsTable)
	if err != nil {
		return nil, err
	}

	sessions := make([]model.SessionItem, 0, len(items))
	for _, item := range items {
		var session model.SessionItem
		if err := attributevalue.UnmarshalMap(item, &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	SortSessions(sessions)
	return sessions, nil
}

func (r *DynamoRepository) ListQueuedSessions(ctx context.Context) ([]model.SessionItem, error) {
	items, err := r.db.Client.ScanItems(
		ctx,
		model.SessionsTable,
		"#status = :queued",
		map[string]types.AttributeValue{
			":queued": &types.AttributeValueMemberS{Value: string(model.SessionStatusQueued)},
		},
		map[string]string{
			"#status": "status",
		},
	)
	if err != nil {
		return nil, err
	}

	sessions := make([]model.SessionItem, 0, len(items))
	for _, item := range items {
		var session model.SessionItem
		if err := attributevalue.UnmarshalMap(item, &session); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt < sessions[j].CreatedAt
	})
	return sessions, nil
}

func (r *DynamoRepository) AppendMessage(ctx context.Context, message model.MessageItem) error {
	return r.db.Client.PutItem(ctx, model.MessagesTable, message)
}

func (r *DynamoRepository) ListMessages(ctx context.Context, sessionID string) ([]model.MessageItem, error) {
	scanForward := true
	items, err := r.db.Client.QueryItems(
		ctx,
		model.MessagesTable,
		aws.String(model.MessagesBySessionIndex),
		"sessionId = :sessionId",
		map[string]types.AttributeValue{
			":sessionId": &types.AttributeValueMemberS{Value: sessionID},
		},
		nil,
		&scanForward,
	)
	if err != nil && !isIndexNotFound(err) {
		return nil, err
	}

	if (err != nil && isIndexNotFound(err)) || items == nil {
		items, err = r.db.Client.ScanItems(
			ctx,
			model.MessagesTable,
			"sessionId = :sessionId",
			map[string]types.AttributeValue{
				":sessionId": &types.AttributeValueMemberS{Value: sessionID},
			},
			nil,
		)
		if err != nil {
			return nil, err
		}
	}

	messages := make([]model.MessageItem, 0, len(items))
	for _, item := range items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt < messages[j].CreatedAt
	})
	return messages, nil
}

var statusRank = map[model.SessionStatus]int{
	model.SessionStatusQueued: 0,
	model.SessionStatusLive:   1,
	model.SessionStatusClosed: 2,
}

// SortSessions orders queued before live before closed, FIFO by creation
// time within each stage.
func SortSessions(sessions []model.SessionItem) {
	sort.SliceStable(sessions, func(i, j int) bool {
		ri, rj := statusRank[sessions[i].Status], statusRank[sessions[j].Status]
		if ri != rj {
			return ri < rj
		}
		return sessions[i].CreatedAt < sessions[j].CreatedAt
	})
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}

func isIndexNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "index") && strings.Contains(msg, "not") && strings.Contains(msg, "found")
}
