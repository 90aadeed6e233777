// Package dynamo keeps records as DynamoDB items, one item per key. The
// timestamp fields live as numeric attributes under their stable names, and
// updates use a version attribute with conditional puts so concurrent
// writers serialize per key. DynamoDB's TTL machinery is too coarse for the
// protocol (it deletes within days, not seconds), so physical expiry is a
// millisecond deadline attribute checked on read.
package dynamo

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

	"github.com/unkn0wn-root/tscache/internal/util"
	"github.com/unkn0wn-root/tscache/record"
	"github.com/unkn0wn-root/tscache/store"
)

// DynamoAPI captures the subset of the DynamoDB client used by the store.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

const (
	attrKey       = "k"
	attrVersion   = "ver"
	attrExpiresAt = "ea"

	maxRetries = 16

	ensureTableMaxAttempts = 20
	ensureTableRetryDelay  = 150 * time.Millisecond
)

var ErrNilClient = errors.New("dynamo store: nil client")

type Store struct {
	client DynamoAPI
	table  string
}

var _ store.Store = (*Store)(nil)

type Config struct {
	Client DynamoAPI
	Table  string
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Table == "" {
		return nil, errors.New("dynamo store: empty table name")
	}
	return &Store{client: cfg.Client, table: cfg.Table}, nil
}

func (s *Store) View(ctx context.Context, key string) (record.Record, bool, error) {
	st, err := s.read(ctx, key)
	if err != nil {
		return record.Record{}, false, err
	}
	if !st.logicalFound {
		return record.Record{}, false, nil
	}
	return st.rec, true, nil
}

func (s *Store) Update(ctx context.Context, key string, op store.Op) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		st, err := s.read(ctx, key)
		if err != nil {
			return err
		}

		d := op(st.rec, st.logicalFound)
		if !d.Write {
			return nil
		}

		var deadlineMS int64
		if d.TTL > 0 {
			deadlineMS = time.Now().Add(d.TTL).UnixMilli()
		}
		input := &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      s.item(key, d.Record, st.version+1, deadlineMS),
		}
		// Condition on the physical item: an expired one still holds a
		// version that guards the swap.
		if st.physFound {
			input.ConditionExpression = aws.String("ver = :ver")
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":ver": &types.AttributeValueMemberN{Value: strconv.FormatInt(st.version, 10)},
			}
		} else {
			input.ConditionExpression = aws.String("attribute_not_exists(k)")
		}

		_, err = s.client.PutItem(ctx, input)
		if err == nil {
			return nil
		}
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			continue // someone else moved the key
		}
		return err
	}
	return store.ErrConflict
}

func (s *Store) Close(context.Context) error { return nil }

// EnsureTable creates the backing table when it does not exist yet and
// tolerates a racing creator. Endpoint hiccups during local-stack startup
// are retried.
func (s *Store) EnsureTable(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= ensureTableMaxAttempts; attempt++ {
		_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
		if err == nil {
			return nil
		}

		var rnfe *types.ResourceNotFoundException
		if errors.As(err, &rnfe) {
			_, createErr := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
				TableName: aws.String(s.table),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(attrKey), KeyType: types.KeyTypeHash},
				},
				AttributeDefinitions: []types.AttributeDefinition{
					{AttributeName: aws.String(attrKey), AttributeType: types.ScalarAttributeTypeS},
				},
				BillingMode: types.BillingModePayPerRequest,
			})
			if createErr == nil {
				return nil
			}
			var inUse *types.ResourceInUseException
			if errors.As(createErr, &inUse) {
				return nil
			}
			if !isStartupRetryable(createErr) {
				return createErr
			}
			lastErr = createErr
		} else {
			if !isStartupRetryable(err) {
				return err
			}
			lastErr = err
		}

		if attempt == ensureTableMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ensureTableRetryDelay):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("table ensure failed")
	}
	return fmt.Errorf("dynamo store: ensure table %q: %w", s.table, lastErr)
}

// itemState is one consistent read of a key. physFound tracks whether an
// item exists at all; logicalFound whether it is within its deadline.
type itemState struct {
	rec          record.Record
	physFound    bool
	logicalFound bool
	version      int64
}

func (s *Store) read(ctx context.Context, key string) (itemState, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return itemState{}, err
	}
	if out.Item == nil {
		return itemState{}, nil
	}

	st := itemState{physFound: true}
	if st.version, err = itemInt64(out.Item, attrVersion); err != nil {
		return itemState{}, err
	}
	deadlineMS, err := itemInt64(out.Item, attrExpiresAt)
	if err != nil {
		return itemState{}, err
	}
	if deadlineMS > 0 && time.Now().UnixMilli() > deadlineMS {
		return st, nil // physically present, logically gone
	}

	var rec record.Record
	if rec.Write.Sec, err = itemInt64(out.Item, record.FieldWriteSec); err != nil {
		return itemState{}, err
	}
	if rec.Write.Nsec, err = itemInt32(out.Item, record.FieldWriteNsec); err != nil {
		return itemState{}, err
	}
	if rec.Invalidate.Sec, err = itemInt64(out.Item, record.FieldInvalidateSec); err != nil {
		return itemState{}, err
	}
	if rec.Invalidate.Nsec, err = itemInt32(out.Item, record.FieldInvalidateNsec); err != nil {
		return itemState{}, err
	}
	if av, ok := out.Item[record.FieldValue]; ok {
		b, isB := av.(*types.AttributeValueMemberB)
		if !isB {
			return itemState{}, &record.CorruptError{Field: record.FieldValue, Cause: errors.New("not a binary attribute")}
		}
		rec.Value = util.CloneBytes(b.Value)
	}
	st.rec = rec
	st.logicalFound = true
	return st, nil
}

func (s *Store) item(key string, rec record.Record, version, deadlineMS int64) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrKey:                    &types.AttributeValueMemberS{Value: key},
		attrVersion:                &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
		record.FieldWriteSec:       &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Write.Sec, 10)},
		record.FieldWriteNsec:      &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(rec.Write.Nsec), 10)},
		record.FieldInvalidateSec:  &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Invalidate.Sec, 10)},
		record.FieldInvalidateNsec: &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(rec.Invalidate.Nsec), 10)},
	}
	if rec.HasValue() {
		item[record.FieldValue] = &types.AttributeValueMemberB{Value: util.CloneBytes(rec.Value)}
	}
	if deadlineMS > 0 {
		item[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(deadlineMS, 10)}
	}
	return item
}

func itemInt64(item map[string]types.AttributeValue, name string) (int64, error) {
	av, ok := item[name]
	if !ok {
		return 0, nil
	}
	n, isN := av.(*types.AttributeValueMemberN)
	if !isN {
		return 0, &record.CorruptError{Field: name, Cause: errors.New("not a numeric attribute")}
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, &record.CorruptError{Field: name, Cause: err}
	}
	return v, nil
}

func itemInt32(item map[string]types.AttributeValue, name string) (int32, error) {
	v, err := itemInt64(item, name)
	if err != nil {
		return 0, err
	}
	if v > 1<<31-1 || v < -(1<<31) {
		return 0, &record.CorruptError{Field: name, Cause: errors.New("out of int32 range")}
	}
	return int32(v), nil
}

func isStartupRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "request send failed") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof")
}
