package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
)

// DynamoDB key layout: one item per run, PK=RUN#{id}, SK=META.
const (
	pkPrefix = "RUN#"
	skMeta   = "META"

	attrResults   = "results"
	attrExpiresAt = "expiresAt"
)

// DefaultTTL is used when NewDynamoStore is given a non-positive ttl.
const DefaultTTL = 30 * 24 * time.Hour

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	decoder, _ = zstd.NewReader(nil)
)

// DynamoStore implements RunStore on a DynamoDB table with a PK/SK key
// schema and an expiresAt TTL attribute.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
}

var _ RunStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client *dynamodb.Client, tableName string, ttl time.Duration) *DynamoStore {
	return newDynamoStore(client, tableName, ttl)
}

func newDynamoStore(client dynamoAPI, tableName string, ttl time.Duration) *DynamoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoStore{client: client, tableName: tableName, ttl: ttl}
}

func runPK(id string) string {
	return pkPrefix + id
}

func (s *DynamoStore) PutRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("put run: empty run ID")
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().Unix()
	}
	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	packed, err := compressResults(run.Results)
	if err != nil {
		return fmt.Errorf("compress results for run %s: %w", run.ID, err)
	}

	pk := runPK(run.ID)
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
	item[attrResults] = &types.AttributeValueMemberB{Value: packed}
	item[attrExpiresAt] = &types.AttributeValueMemberN{
		Value: strconv.FormatInt(time.Unix(run.CreatedAt, 0).Add(s.ttl).Unix(), 10),
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s: %w", pk, err)
	}
	log.Debug().
		Str("runId", run.ID).
		Str("status", string(run.Status)).
		Int("resultsBytes", len(packed)).
		Msg("Run record stored")
	return nil
}

func (s *DynamoStore) GetRun(ctx context.Context, id string) (*Run, error) {
	pk := runPK(id)
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s: %w", pk, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var run Run
	if err := attributevalue.UnmarshalMap(result.Item, &run); err != nil {
		return nil, fmt.Errorf("unmarshal PK=%s: %w", pk, err)
	}
	run.ID = id
	if b, ok := result.Item[attrResults].(*types.AttributeValueMemberB); ok {
		if run.Results, err = decompressResults(b.Value); err != nil {
			return nil, fmt.Errorf("decompress results PK=%s: %w", pk, err)
		}
	}
	return &run, nil
}

func compressResults(results []faceswap.PageResult) ([]byte, error) {
	if results == nil {
		results = []faceswap.PageResult{}
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(raw, nil), nil
}

func decompressResults(packed []byte) ([]faceswap.PageResult, error) {
	raw, err := decoder.DecodeAll(packed, nil)
	if err != nil {
		return nil, err
	}
	var results []faceswap.PageResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, err
	}
	return results, nil
}
