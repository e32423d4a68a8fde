package data

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the store uses
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoNode is one row of the table; "path" is the partition key
type dynamoNode struct {
	Path      string `dynamodbav:"path"`
	Value     string `dynamodbav:"value"`
	UpdatedAt int64  `dynamodbav:"updated_at"`
}

// OpenDynamo returns a store backed by a DynamoDB table keyed by "path".
// endpoint may point at DynamoDB Local.
func OpenDynamo(ctx context.Context, region, endpoint, table string) (Store, error) {
	if table == "" {
		return nil, errors.New("dynamodb store needs a table name")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	log.Printf("[store] dynamodb store on table %s", table)
	return NewDynamoStore(client, table), nil
}

// NewDynamoStore wraps an existing client
func NewDynamoStore(client DynamoAPI, table string) Store {
	return &nodeStore{b: &dynamoNodes{client: client, table: table}}
}

type dynamoNodes struct {
	client DynamoAPI
	table  string
}

func pathKey(path string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"path": &dynamodbtypes.AttributeValueMemberS{Value: path},
	}
}

func (d *dynamoNodes) lookup(ctx context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range paths {
		result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(d.table),
			Key:            pathKey(p),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", p, err)
		}
		if result.Item == nil {
			continue
		}
		var node dynamoNode
		if err := attributevalue.UnmarshalMap(result.Item, &node); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", p, err)
		}
		out[node.Path] = node.Value
	}
	return out, nil
}

func (d *dynamoNodes) descendants(ctx context.Context, prefix string) (map[string]string, error) {
	out := make(map[string]string)

	input := &dynamodb.ScanInput{
		TableName:      aws.String(d.table),
		ConsistentRead: aws.Bool(true),
	}
	if prefix != "" {
		input.FilterExpression = aws.String("begins_with(#p, :prefix)")
		input.ExpressionAttributeNames = map[string]string{"#p": "path"}
		input.ExpressionAttributeValues = map[string]dynamodbtypes.AttributeValue{
			":prefix": &dynamodbtypes.AttributeValueMemberS{Value: prefix + "/"},
		}
	}

	for {
		result, err := d.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", d.table, err)
		}

		for _, item := range result.Items {
			var node dynamoNode
			if err := attributevalue.UnmarshalMap(item, &node); err != nil {
				log.Printf("[store] skipping malformed dynamodb item: %v", err)
				continue
			}
			out[node.Path] = node.Value
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return out, nil
}

func (d *dynamoNodes) putItem(ctx context.Context, path, value string, conditional bool) error {
	item, err := attributevalue.MarshalMap(dynamoNode{
		Path:      path,
		Value:     value,
		UpdatedAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}
	if conditional {
		input.ConditionExpression = aws.String("attribute_not_exists(#p)")
		input.ExpressionAttributeNames = map[string]string{"#p": "path"}
	}

	_, err = d.client.PutItem(ctx, input)
	return err
}

func (d *dynamoNodes) put(ctx context.Context, path, value string) error {
	if err := d.putItem(ctx, path, value, false); err != nil {
		return fmt.Errorf("failed to put %s: %w", path, err)
	}
	return nil
}

func (d *dynamoNodes) putIfAbsent(ctx context.Context, path, value string) (bool, error) {
	err := d.putItem(ctx, path, value, true)
	var ccf *dynamodbtypes.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to put %s: %w", path, err)
	}
	return true, nil
}

func (d *dynamoNodes) remove(ctx context.Context, paths []string) error {
	for _, p := range paths {
		_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.table),
			Key:       pathKey(p),
		})
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}

func (d *dynamoNodes) close() error {
	return nil
}
