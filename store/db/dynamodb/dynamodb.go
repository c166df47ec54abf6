// Package dynamodb implements store.Driver on a DynamoDB table.
//
// The table needs a string partition key named PK. Enable native TTL on the
// "ttl" attribute so expired items are reclaimed without a sweeper; reads still
// filter on expires_at because native TTL deletion is lazy.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hrygo/intentgate/internal/profile"
	"github.com/hrygo/intentgate/store"
)

const (
	attrPK        = "PK"
	attrValue     = "value"
	attrCounter   = "counter"
	attrExpiresAt = "expires_at"
	attrTTL       = "ttl"

	// incrAttempts bounds the update/reset loop of IncrBy when a counter expires
	// between two conditional writes.
	incrAttempts = 3
)

// dynamodbAPI is the minimal DynamoDB interface required by DB.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DB wraps a DynamoDB table holding gateway keys.
type DB struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a driver over an existing client.
func New(api dynamodbAPI, tableName string) (*DB, error) {
	if api == nil {
		return nil, errors.New("dynamodb: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamodb: table name must not be empty")
	}
	return &DB{api: api, tableName: tableName, now: time.Now}, nil
}

// NewDB builds a client from the default AWS credential chain.
func NewDB(ctx context.Context, profile *profile.Profile) (*DB, error) {
	var opts []func(*config.LoadOptions) error
	if profile.AWSRegion != "" {
		opts = append(opts, config.WithRegion(profile.AWSRegion))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), profile.DynamoTable)
}

func (d *DB) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := d.now()
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                d.item(key, value, 0, now.Add(ttl)),
		ConditionExpression: aws.String("attribute_not_exists(PK) OR expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": numberAttr(now.UnixMilli()),
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dynamodb: SetNX %s: %w", key, err)
	}
	return true, nil
}

func (d *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := d.liveItem(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("dynamodb: Get %s: %w", key, err)
	}
	if item == nil {
		return nil, false, nil
	}
	b, ok := item[attrValue].(*types.AttributeValueMemberB)
	if !ok {
		return nil, false, nil
	}
	return b.Value, true, nil
}

func (d *DB) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      d.item(key, value, 0, d.now().Add(ttl)),
	})
	if err != nil {
		return fmt.Errorf("dynamodb: Set %s: %w", key, err)
	}
	return nil
}

// IncrBy adds delta to a live counter with ADD, or recreates the counter when
// it is absent or expired. Both paths are single conditional writes.
func (d *DB) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	for attempt := 0; attempt < incrAttempts; attempt++ {
		now := d.now()
		expiresAt := now.Add(ttl)

		out, err := d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(d.tableName),
			Key:                 keyAttr(key),
			UpdateExpression:    aws.String("ADD #counter :delta SET #expires = if_not_exists(#expires, :expires), #ttl = if_not_exists(#ttl, :ttl)"),
			ConditionExpression: aws.String("attribute_not_exists(PK) OR #expires > :now"),
			ExpressionAttributeNames: map[string]string{
				"#counter": attrCounter,
				"#expires": attrExpiresAt,
				"#ttl":     attrTTL,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":delta":   numberAttr(delta),
				":expires": numberAttr(expiresAt.UnixMilli()),
				":ttl":     numberAttr(ttlSeconds(expiresAt)),
				":now":     numberAttr(now.UnixMilli()),
			},
			ReturnValues: types.ReturnValueUpdatedNew,
		})
		if err == nil {
			n, err := int64Attr(out.Attributes, attrCounter)
			if err != nil {
				return 0, fmt.Errorf("dynamodb: IncrBy %s: %w", key, err)
			}
			return n, nil
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("dynamodb: IncrBy %s: %w", key, err)
		}

		// The counter exists but its window has passed: start a new one.
		_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(d.tableName),
			Item:                d.item(key, nil, delta, expiresAt),
			ConditionExpression: aws.String("expires_at <= :now"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": numberAttr(now.UnixMilli()),
			},
		})
		if err == nil {
			return delta, nil
		}
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("dynamodb: IncrBy reset %s: %w", key, err)
		}
		// Another writer reset the window first; add to theirs.
	}
	return 0, fmt.Errorf("dynamodb: IncrBy %s: contention after %d attempts", key, incrAttempts)
}

func (d *DB) Count(ctx context.Context, key string) (int64, error) {
	item, err := d.liveItem(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("dynamodb: Count %s: %w", key, err)
	}
	if item == nil {
		return 0, nil
	}
	if _, ok := item[attrCounter]; !ok {
		return 0, nil
	}
	return int64Attr(item, attrCounter)
}

// Sweep is a no-op; DynamoDB TTL reclaims expired items.
func (d *DB) Sweep(context.Context) (int64, error) {
	return 0, nil
}

// Migrate verifies the table exists. Table provisioning is left to infrastructure tooling.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.tableName)}); err != nil {
		return fmt.Errorf("dynamodb: describe table %s: %w", d.tableName, err)
	}
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	if _, err := d.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.tableName)}); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (d *DB) Close() error {
	return nil
}

func (d *DB) liveItem(ctx context.Context, key string) (map[string]types.AttributeValue, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	expiresAt, err := int64Attr(out.Item, attrExpiresAt)
	if err != nil {
		return nil, err
	}
	if expiresAt <= d.now().UnixMilli() {
		return nil, nil
	}
	return out.Item, nil
}

func (d *DB) item(key string, value []byte, counter int64, expiresAt time.Time) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrPK:        &types.AttributeValueMemberS{Value: key},
		attrCounter:   numberAttr(counter),
		attrExpiresAt: numberAttr(expiresAt.UnixMilli()),
		attrTTL:       numberAttr(ttlSeconds(expiresAt)),
	}
	if value != nil {
		item[attrValue] = &types.AttributeValueMemberB{Value: value}
	}
	return item
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: key},
	}
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// ttlSeconds rounds up so native TTL never removes an item before expires_at.
func ttlSeconds(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() > 0 {
		s++
	}
	return s
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("dynamodb: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamodb: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamodb: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

var _ store.Driver = (*DB)(nil)
