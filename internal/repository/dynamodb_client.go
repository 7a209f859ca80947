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
	"github.com/google/uuid"

	"github.com/jjeonyo/vision/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client wraps a DynamoDB table holding room transcripts.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new transcript store Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// roomPK returns the DynamoDB partition key for a room.
func roomPK(roomID string) string {
	return "ROOM#" + roomID
}

// skTimeLayout is RFC3339 with fixed-width nanoseconds. RFC3339Nano trims
// trailing fractional zeros, which breaks lexicographic ordering whenever one
// fraction is a string prefix of another; this layout keeps every key the
// same width so string order is chronological order.
const skTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// msgSK returns the sort key for a turn recorded at ts.
func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(skTimeLayout)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// Append persists one turn to the room's transcript. Rooms are created
// implicitly on first write. A successful append is durable and ordered
// after every previous successful append to the same room from this process.
func (c *Client) Append(ctx context.Context, roomID string, turn domain.ChatTurn) error {
	if strings.TrimSpace(roomID) == "" {
		return errors.New("repository: Append: room id is required")
	}
	if turn.Text == "" && turn.Sender != domain.SenderAI {
		return errors.New("repository: Append: empty text is only valid for an ai turn")
	}

	now := time.Now()
	if turn.ID == "" {
		turn.ID = newTurnID()
	}
	if turn.Timestamp == 0 {
		turn.Timestamp = now.UnixMilli()
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(roomID, turn, msgSK(now)),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// GetTranscript queries all MSG# items for a room in insertion order.
func (c *Client) GetTranscript(ctx context.Context, roomID string, limit int) ([]domain.ChatTurn, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, errors.New("repository: GetTranscript: room id is required")
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: roomPK(roomID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetTranscript query: %w", err)
	}

	turns := make([]domain.ChatTurn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetTranscript unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// TouchRoom bumps the room's meta record: increments the completed turn
// counter and refreshes lastActivity. The upsert is a single UpdateItem so
// concurrent touches never lose increments.
func (c *Client) TouchRoom(ctx context.Context, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return errors.New("repository: TouchRoom: room id is required")
	}

	now := time.Now().UTC()
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: roomPK(roomID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression: aws.String("ADD turns :one SET lastActivity = :now, #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: TouchRoom: %w", err)
	}
	return nil
}

// newTurnID generates the document id for a persisted turn.
var newTurnID = func() string {
	return uuid.NewString()
}

// itemToTurn converts a DynamoDB attribute map to a ChatTurn.
func itemToTurn(item map[string]types.AttributeValue) (domain.ChatTurn, error) {
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.ChatTurn{}, err
	}
	ts, err := intAttr(item, "timestamp")
	if err != nil {
		return domain.ChatTurn{}, err
	}
	id, _ := strAttr(item, "id")     // allow empty
	text, _ := strAttr(item, "text") // allow empty (ai turn with empty answer)

	return domain.ChatTurn{
		ID:        id,
		Sender:    domain.Sender(sender),
		Text:      text,
		Timestamp: ts,
	}, nil
}

func turnItem(roomID string, turn domain.ChatTurn, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: roomPK(roomID)},
		"SK":        &types.AttributeValueMemberS{Value: sk},
		"id":        &types.AttributeValueMemberS{Value: turn.ID},
		"sender":    &types.AttributeValueMemberS{Value: string(turn.Sender)},
		"text":      &types.AttributeValueMemberS{Value: turn.Text},
		"timestamp": &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.Timestamp, 10)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
