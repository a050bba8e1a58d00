package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by Dynamo.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoItem is one row of the table. expires_at is the table's TTL
// attribute; DynamoDB deletes expired rows lazily, so reads filter too.
type dynamoItem struct {
	Key       string `dynamodbav:"pk"`
	Value     []byte `dynamodbav:"value"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"`
}

// Dynamo is a KV backed by a single DynamoDB table with string partition
// key "pk".
type Dynamo struct {
	Client    DynamoAPI
	TableName string
	now       func() time.Time
}

// DynamoOptions configures NewDynamo.
type DynamoOptions struct {
	Table    string
	Region   string
	Endpoint string // optional, e.g. DynamoDB Local
}

// NewDynamo builds a DynamoDB client from the default AWS credential chain.
func NewDynamo(ctx context.Context, opts DynamoOptions) (*Dynamo, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is not set")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewDynamoFromClient(client, opts.Table, nil), nil
}

// NewDynamoFromClient wraps an existing client. now may be nil.
func NewDynamoFromClient(client DynamoAPI, table string, now func() time.Time) *Dynamo {
	if now == nil {
		now = time.Now
	}
	return &Dynamo{Client: client, TableName: table, now: now}
}

func (d *Dynamo) key(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: k}}
}

func (d *Dynamo) expired(it dynamoItem) bool {
	return it.ExpiresAt > 0 && d.now().Unix() >= it.ExpiresAt
}

func (d *Dynamo) item(key string, value []byte, ttl time.Duration) (map[string]types.AttributeValue, error) {
	it := dynamoItem{Key: key, Value: value}
	if ttl > 0 {
		it.ExpiresAt = d.now().Add(ttl).Unix()
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return nil, fmt.Errorf("marshal item %s: %w", key, err)
	}
	return av, nil
}

// Get returns the value for key.
func (d *Dynamo) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := d.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.TableName),
		Key:            d.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("dynamodb get "+key, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, key, err)
	}
	if d.expired(it) {
		return nil, ErrNotFound
	}
	return it.Value, nil
}

// Put writes value under key unconditionally.
func (d *Dynamo) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item, err := d.item(key, value, ttl)
	if err != nil {
		return err
	}
	_, err = d.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.TableName),
		Item:      item,
	})
	if err != nil {
		return unavailable("dynamodb put "+key, err)
	}
	return nil
}

// PutIfAbsent writes with a condition that the row is missing or already
// past its TTL.
func (d *Dynamo) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	item, err := d.item(key, value, ttl)
	if err != nil {
		return false, err
	}
	_, err = d.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.TableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) OR expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(d.now().Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, unavailable("dynamodb conditional put "+key, err)
	}
	return true, nil
}

// Delete removes key.
func (d *Dynamo) Delete(ctx context.Context, key string) error {
	_, err := d.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.TableName),
		Key:       d.key(key),
	})
	if err != nil {
		return unavailable("dynamodb delete "+key, err)
	}
	return nil
}

// List scans the table for keys beginning with prefix. Rows that cannot be
// decoded are returned with a nil value so callers can report them.
func (d *Dynamo) List(ctx context.Context, prefix string) ([]Entry, error) {
	p := dynamodb.NewScanPaginator(d.Client, &dynamodb.ScanInput{
		TableName:                 aws.String(d.TableName),
		FilterExpression:          aws.String("begins_with(pk, :p)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":p": &types.AttributeValueMemberS{Value: prefix}},
		ConsistentRead:            aws.Bool(true),
	})

	var out []Entry
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, unavailable("dynamodb scan "+prefix, err)
		}
		for _, raw := range page.Items {
			var it dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				if k, ok := raw["pk"].(*types.AttributeValueMemberS); ok {
					out = append(out, Entry{Key: k.Value})
				}
				continue
			}
			if d.expired(it) {
				continue
			}
			out = append(out, Entry{Key: it.Key, Value: it.Value})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close is a no-op; the SDK client holds no connections to release.
func (d *Dynamo) Close() error { return nil }
