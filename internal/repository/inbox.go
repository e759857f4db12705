package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"satcom-gateway/internal/domain"
)

const (
	pkPrefixInbox   = "INBOX#"
	skTurn          = "TURN"
	statusIndexName = "StatusIndex"
	inboxTTL        = 14 * 24 * time.Hour
)

// Inbox persists relayed mails with an explicit per-turn status.
// A PROCESSED message is never returned by Pending again.
type Inbox struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewInbox creates an Inbox on the same table layout as Store.
func NewInbox(api dynamodbAPI, tableName string) (*Inbox, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Inbox{api: api, tableName: tableName, now: time.Now}, nil
}

func inboxPK(messageID string) string {
	return pkPrefixInbox + messageID
}

func inboxKey(messageID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: inboxPK(messageID)},
		attrSK: &types.AttributeValueMemberS{Value: skTurn},
	}
}

// Enqueue stores msg as PENDING. It returns created=false when the message id
// is already known, so duplicate notifications are harmless.
func (i *Inbox) Enqueue(ctx context.Context, msg domain.InboundMessage) (bool, error) {
	if strings.TrimSpace(msg.ID) == "" {
		return false, errors.New("repository: Enqueue: message id is required")
	}
	received := msg.ReceivedAt
	if received.IsZero() {
		received = i.now()
	}
	item := inboxKey(msg.ID)
	item["messageId"] = &types.AttributeValueMemberS{Value: msg.ID}
	item["from"] = &types.AttributeValueMemberS{Value: msg.From}
	item["to"] = &types.AttributeValueMemberS{Value: msg.To}
	item["subject"] = &types.AttributeValueMemberS{Value: msg.Subject}
	item["body"] = &types.AttributeValueMemberS{Value: msg.Body}
	item["receivedAt"] = &types.AttributeValueMemberS{Value: received.UTC().Format(time.RFC3339Nano)}
	item["status"] = &types.AttributeValueMemberS{Value: string(domain.StatusPending)}
	item[attrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(received.Add(inboxTTL).Unix(), 10)}

	_, err := i.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(i.tableName),
		Item:                item,
		ConditionExpression: aws.String(conditionNotExist),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("repository: Enqueue: %w", err)
	}
	return true, nil
}

// Pending returns up to limit PENDING messages, oldest first.
func (i *Inbox) Pending(ctx context.Context, limit int) ([]domain.InboundMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	out, err := i.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(i.tableName),
		IndexName:              aws.String(statusIndexName),
		KeyConditionExpression: aws.String("#s = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Pending query: %w", err)
	}

	msgs := make([]domain.InboundMessage, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToInboundMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: Pending unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// MarkProcessed closes a message with its terminal outcome.
func (i *Inbox) MarkProcessed(ctx context.Context, messageID string, outcome domain.Outcome) error {
	if strings.TrimSpace(messageID) == "" {
		return errors.New("repository: MarkProcessed: message id is required")
	}
	_, err := i.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(i.tableName),
		Key:              inboxKey(messageID),
		UpdateExpression: aws.String("SET #s = :processed, outcome = :outcome, processedAt = :at"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processed": &types.AttributeValueMemberS{Value: string(domain.StatusProcessed)},
			":outcome":   &types.AttributeValueMemberS{Value: string(outcome)},
			":at":        &types.AttributeValueMemberS{Value: i.now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: MarkProcessed: %w", err)
	}
	return nil
}

func itemToInboundMessage(item map[string]types.AttributeValue) (domain.InboundMessage, error) {
	id, err := strAttr(item, "messageId")
	if err != nil {
		return domain.InboundMessage{}, err
	}
	body, err := strAttr(item, "body")
	if err != nil {
		return domain.InboundMessage{}, err
	}
	received, err := timeAttr(item, "receivedAt")
	if err != nil {
		return domain.InboundMessage{}, err
	}
	from, _ := strAttr(item, "from")       // allow empty
	to, _ := strAttr(item, "to")           // allow empty
	subject, _ := strAttr(item, "subject") // allow empty
	status, _ := strAttr(item, "status")
	outcome, _ := strAttr(item, "outcome")

	return domain.InboundMessage{
		ID:         id,
		From:       from,
		To:         to,
		Subject:    subject,
		Body:       body,
		ReceivedAt: received,
		Status:     domain.TurnStatus(status),
		Outcome:    domain.Outcome(outcome),
	}, nil
}
