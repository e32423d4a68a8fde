package data

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory table honoring the expressions the store uses
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]dynamoNode
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]dynamoNode)}
}

func keyOf(key map[string]dynamodbtypes.AttributeValue) string {
	if s, ok := key["path"].(*dynamodbtypes.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, ok := f.items[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	item, err := attributevalue.MarshalMap(node)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var node dynamoNode
	if err := attributevalue.UnmarshalMap(in.Item, &node); err != nil {
		return nil, err
	}
	if in.ConditionExpression != nil {
		if _, exists := f.items[node.Path]; exists {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	f.items[node.Path] = node
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

// Scan returns one item per page to exercise pagination
func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := ""
	if v, ok := in.ExpressionAttributeValues[":prefix"].(*dynamodbtypes.AttributeValueMemberS); ok {
		prefix = v.Value
	}
	after := keyOf(in.ExclusiveStartKey)

	var next *dynamoNode
	for p, node := range f.items {
		if !strings.HasPrefix(p, prefix) || p <= after {
			continue
		}
		if next == nil || p < next.Path {
			n := node
			next = &n
		}
	}
	if next == nil {
		return &dynamodb.ScanOutput{}, nil
	}
	item, err := attributevalue.MarshalMap(*next)
	if err != nil {
		return nil, err
	}
	return &dynamodb.ScanOutput{
		Items:            []map[string]dynamodbtypes.AttributeValue{item},
		LastEvaluatedKey: pathKey(next.Path),
	}, nil
}
