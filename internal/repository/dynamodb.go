package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"deepdive-tutor/internal/domain"
)

const (
	transcriptPK = "TRANSCRIPTS"
	skPrefix     = "T#"

	// maxPayloadBytes keeps an item under DynamoDB's 400 KB limit with room
	// for the key, title and timestamp attributes.
	maxPayloadBytes = 390 << 10
)

// ErrTranscriptTooLarge is returned by DynamoStore.Save when the encoded
// session does not fit in one item.
var ErrTranscriptTooLarge = errors.New("transcript too large")

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps every transcript as one item in a single-table design:
// PK is a fixed partition and SK is "T#<id>". The session is stored as compact
// JSON, so one transcript is bounded by the DynamoDB item size.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewDynamoStore creates a DynamoStore for tableName.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

func transcriptKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: transcriptPK},
		"SK": &types.AttributeValueMemberS{Value: skPrefix + id},
	}
}

// List pages through the partition, projecting only the sort key.
func (d *DynamoStore) List(ctx context.Context) ([]string, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: transcriptPK},
			":prefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
		ProjectionExpression: aws.String("SK"),
	}

	var ids []string
	for {
		out, err := d.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: list transcripts: %w", err)
		}
		for _, item := range out.Items {
			sk, err := strAttr(item, "SK")
			if err != nil {
				return nil, fmt.Errorf("repository: list transcripts: %w", err)
			}
			ids = append(ids, strings.TrimPrefix(sk, skPrefix))
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return newestFirst(ids), nil
}

func (d *DynamoStore) Load(ctx context.Context, id string) (domain.Session, error) {
	if err := checkID(id); err != nil {
		return domain.Session{}, err
	}
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            transcriptKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: load transcript %q: %w", id, err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Session{}, notFound(id)
	}
	payload, err := strAttr(out.Item, "payload")
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: load transcript %q: %w", id, err)
	}
	return decodeSession(id, []byte(payload))
}

func (d *DynamoStore) Save(ctx context.Context, id string, s domain.Session) error {
	if err := checkID(id); err != nil {
		return err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("repository: encode session: %w", err)
	}
	if len(b)+len(s.Title) > maxPayloadBytes {
		return fmt.Errorf("repository: save transcript %q: %w: %d bytes", id, ErrTranscriptTooLarge, len(b)+len(s.Title))
	}
	item := transcriptKey(id)
	item["payload"] = &types.AttributeValueMemberS{Value: string(b)}
	item["title"] = &types.AttributeValueMemberS{Value: s.Title}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: d.now().UTC().Format(time.RFC3339)}

	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: save transcript %q: %w", id, err)
	}
	return nil
}

func (d *DynamoStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 transcriptKey(id),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("repository: delete transcript %q: %w", id, err)
	}
	return nil
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
