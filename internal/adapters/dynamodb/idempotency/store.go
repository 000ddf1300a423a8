package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/dynamodb"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
)

// Condition expressions. The test mock matches on these exact strings.
const (
	condNotExists  = "attribute_not_exists(idempotency_key)"
	condProcessing = "#s = :processing"
	condExpired    = "expires_at_ns < :now"
)

const conditionalCheckFailed = "ConditionalCheckFailedException"

// Items are kept this long past their logical expiry before DynamoDB TTL may
// reap them, so the sweeper and Stats see expired entries first.
const retentionGrace = 10 * time.Minute

// item is the shape persisted in the idempotency table. The table's partition
// key is idempotency_key (S) and its TTL attribute is ttl.
type item struct {
	IdempotencyKey string     `dynamodbav:"idempotency_key"`
	RequestHash    string     `dynamodbav:"request_hash"`
	Status         string     `dynamodbav:"status"`
	StatusCode     int        `dynamodbav:"status_code,omitempty"`
	ContentType    string     `dynamodbav:"content_type,omitempty"`
	Body           []byte     `dynamodbav:"body,omitempty"`
	CreatedAt      time.Time  `dynamodbav:"created_at"`
	CompletedAt    *time.Time `dynamodbav:"completed_at,omitempty"`
	ExpiresAtNanos int64      `dynamodbav:"expires_at_ns"`
	TTL            int64      `dynamodbav:"ttl"`
}

func toItem(e idempotency.Entry) item {
	return item{
		IdempotencyKey: string(e.Token),
		RequestHash:    string(e.Fingerprint),
		Status:         string(e.Status),
		StatusCode:     e.Response.StatusCode,
		ContentType:    e.Response.ContentType,
		Body:           e.Response.Body,
		CreatedAt:      e.CreatedAt.UTC(),
		CompletedAt:    e.CompletedAt,
		ExpiresAtNanos: e.ExpiresAt.UnixNano(),
		TTL:            e.ExpiresAt.Add(retentionGrace).Unix(),
	}
}

func (it item) entry() idempotency.Entry {
	e := idempotency.Entry{
		Token:       idempotency.Token(it.IdempotencyKey),
		Fingerprint: idempotency.Fingerprint(it.RequestHash),
		Status:      idempotency.Status(it.Status),
		Response: idempotency.Response{
			StatusCode:  it.StatusCode,
			ContentType: it.ContentType,
			Body:        it.Body,
		},
		CreatedAt: it.CreatedAt.UTC(),
		ExpiresAt: time.Unix(0, it.ExpiresAtNanos).UTC(),
	}
	if it.CompletedAt != nil {
		t := it.CompletedAt.UTC()
		e.CompletedAt = &t
	}
	return e
}

// Store is a DynamoDB implementation of idempotency.Store. Admission is a
// conditional PutItem on attribute_not_exists(idempotency_key).
type Store struct {
	client    dynamodb.DynamoDBAPI
	tableName string
}

func NewStore(client dynamodb.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

func (s *Store) keyOf(token idempotency.Token) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: string(token)},
	}
}

func (s *Store) Get(ctx context.Context, token idempotency.Token) (idempotency.Entry, bool, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.keyOf(token),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return idempotency.Entry{}, false, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return idempotency.Entry{}, false, nil
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return idempotency.Entry{}, false, fmt.Errorf("unmarshal item: %w", err)
	}
	return it.entry(), true, nil
}

func (s *Store) Insert(ctx context.Context, e idempotency.Entry) error {
	av, err := attributevalue.MarshalMap(toItem(e))
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil {
		if isConditionFailed(err) {
			return idempotency.ErrAlreadyExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func (s *Store) Complete(ctx context.Context, e idempotency.Entry) error {
	av, err := attributevalue.MarshalMap(toItem(e))
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     av,
		ConditionExpression:      aws.String(condProcessing),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: string(idempotency.StatusProcessing)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return idempotency.ErrNotFound
		}
		return fmt.Errorf("put item (complete): %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, token idempotency.Token) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       s.keyOf(token),
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (s *Store) DeleteIfExpired(ctx context.Context, token idempotency.Token, now time.Time) error {
	_, err := s.deleteIfExpired(ctx, token, now)
	return err
}

func (s *Store) deleteIfExpired(ctx context.Context, token idempotency.Token, now time.Time) (bool, error) {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 s.keyOf(token),
		ConditionExpression: aws.String(condExpired),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": nanosAttr(now),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete item (expired): %w", err)
	}
	return true, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.scan(ctx, &dyn.ScanInput{
		TableName:            &s.tableName,
		FilterExpression:     aws.String(condExpired),
		ProjectionExpression: aws.String("idempotency_key, expires_at_ns"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": nanosAttr(now),
		},
	}, func(it item) error {
		ok, err := s.deleteIfExpired(ctx, idempotency.Token(it.IdempotencyKey), now)
		if ok {
			removed++
		}
		return err
	})
	return removed, err
}

func (s *Store) Stats(ctx context.Context, now time.Time) (idempotency.Stats, error) {
	var st idempotency.Stats
	err := s.scan(ctx, &dyn.ScanInput{
		TableName:                &s.tableName,
		ProjectionExpression:     aws.String("idempotency_key, #s, expires_at_ns"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
	}, func(it item) error {
		e := it.entry()
		st.Total++
		if e.IsExpired(now) {
			st.Expired++
		}
		switch e.Status {
		case idempotency.StatusProcessing:
			st.Processing++
		case idempotency.StatusCompleted:
			st.Completed++
		}
		return nil
	})
	return st, err
}

func (s *Store) scan(ctx context.Context, in *dyn.ScanInput, fn func(item) error) error {
	for {
		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		for _, raw := range out.Items {
			var it item
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				return fmt.Errorf("unmarshal item: %w", err)
			}
			if err := fn(it); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func isConditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == conditionalCheckFailed
}

func nanosAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixNano(), 10)}
}

