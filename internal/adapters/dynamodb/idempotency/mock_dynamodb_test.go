package idempotency

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a small in-memory DynamoDB covering the condition expressions
// the store issues. Scan pages through keys in sorted order, pageSize at a time.
type simpleMock struct {
	mu       sync.Mutex
	table    map[string]map[string]types.AttributeValue
	pageSize int
	scans    int
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table:    map[string]map[string]types.AttributeValue{},
		pageSize: 2,
	}
}

func keyValue(m map[string]types.AttributeValue) (string, error) {
	attr, ok := m["idempotency_key"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing key")
	}
	return attr.Value, nil
}

func numberValue(av types.AttributeValue) int64 {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, _ := strconv.ParseInt(n.Value, 10, 64)
	return v
}

func (m *simpleMock) conditionHolds(expr *string, cur map[string]types.AttributeValue, values map[string]types.AttributeValue) bool {
	if expr == nil {
		return true
	}
	switch *expr {
	case condNotExists:
		return cur == nil
	case condProcessing:
		if cur == nil {
			return false
		}
		s, ok := cur["status"].(*types.AttributeValueMemberS)
		want := values[":processing"].(*types.AttributeValueMemberS)
		return ok && s.Value == want.Value
	case condExpired:
		if cur == nil {
			return false
		}
		return numberValue(cur["expires_at_ns"]) < numberValue(values[":now"])
	}
	return false
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyValue(params.Item)
	if err != nil {
		return nil, err
	}
	if !m.conditionHolds(params.ConditionExpression, m.table[k], params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyValue(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := keyValue(params.Key)
	if err != nil {
		return nil, err
	}
	if !m.conditionHolds(params.ConditionExpression, m.table[k], params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(m.table, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *simpleMock) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++

	keys := make([]string, 0, len(m.table))
	for k := range m.table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		after, err := keyValue(params.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}
	end := start + m.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &dyn.ScanOutput{}
	for _, k := range keys[start:end] {
		item := m.table[k]
		if params.FilterExpression != nil && !m.conditionHolds(params.FilterExpression, item, params.ExpressionAttributeValues) {
			continue
		}
		out.Items = append(out.Items, item)
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}
