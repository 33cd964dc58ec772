package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"

	"travel-planner/internal/domain"
	"travel-planner/internal/vectorstore"
)

const (
	skPrefixChunk = "CHUNK#"
	skMeta        = "META#"
	maxBatchWrite = 25 // DynamoDB BatchWriteItem limit
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

var _ vectorstore.Backend = (*Client)(nil)

// Client stores embedded chunks in a DynamoDB table.
type Client struct {
	api        dynamodbAPI
	tableName  string
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{
		api:        api,
		tableName:  tableName,
		newBackOff: defaultBackOff,
		now:        time.Now,
	}, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// indexPK returns the partition key for a collection.
func indexPK(collection string) string {
	return "INDEX#" + collection
}

// chunkSK returns the sort key for a chunk; zero padding keeps SK order equal
// to chunk order.
func chunkSK(index int) string {
	return fmt.Sprintf("%s%06d", skPrefixChunk, index)
}

// Save zeroes the META# count, writes every record, then sets the count. A
// save that fails partway leaves the collection reading as empty rather than
// mixing two indexes. Chunks left over from a longer earlier index are hidden
// by the count.
func (c *Client) Save(ctx context.Context, collection string, records []vectorstore.Record) error {
	pk := indexPK(collection)

	if len(records) > 0 {
		if err := c.putMeta(ctx, pk, 0); err != nil {
			return fmt.Errorf("repository: Save meta reset: %w", err)
		}
	}

	for start := 0; start < len(records); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(records))
		reqs := make([]types.WriteRequest, 0, end-start)
		for i := start; i < end; i++ {
			reqs = append(reqs, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: chunkItem(pk, i, records[i])},
			})
		}
		if err := c.batchWrite(ctx, reqs); err != nil {
			return fmt.Errorf("repository: Save chunks %d-%d: %w", start, end-1, err)
		}
	}

	if err := c.putMeta(ctx, pk, len(records)); err != nil {
		return fmt.Errorf("repository: Save meta: %w", err)
	}
	return nil
}

func (c *Client) putMeta(ctx context.Context, pk string, count int) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: pk},
			"SK":        &types.AttributeValueMemberS{Value: skMeta},
			"chunks":    &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
			"updatedAt": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		},
	})
	return err
}

// batchWrite retries unprocessed items until none are left or the backoff
// policy gives up.
func (c *Client) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{c.tableName: reqs}
	op := func() error {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return backoff.Permanent(err)
		}
		if out == nil || len(out.UnprocessedItems[c.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		return fmt.Errorf("%d unprocessed items", len(pending[c.tableName]))
	}
	return backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx))
}

// Records returns the collection's chunks in chunk order. A collection with
// no META# item is empty.
func (c *Client) Records(ctx context.Context, collection string) ([]vectorstore.Record, error) {
	pk := indexPK(collection)

	meta, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Records get meta: %w", err)
	}
	if meta == nil || len(meta.Item) == 0 {
		return []vectorstore.Record{}, nil
	}
	count, err := intAttr(meta.Item, "chunks")
	if err != nil {
		return nil, fmt.Errorf("repository: Records decode chunks: %w", err)
	}

	records := make([]vectorstore.Record, 0, count)
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pk},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixChunk},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: Records query: %w", err)
		}
		for _, item := range out.Items {
			rec, err := itemToRecord(item)
			if err != nil {
				return nil, fmt.Errorf("repository: Records unmarshal: %w", err)
			}
			if rec.Chunk.Index >= count {
				continue
			}
			records = append(records, rec)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Chunk.Index < records[j].Chunk.Index })
	return records, nil
}

func chunkItem(pk string, index int, rec vectorstore.Record) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: pk},
		"SK":        &types.AttributeValueMemberS{Value: chunkSK(index)},
		"source":    &types.AttributeValueMemberS{Value: rec.Chunk.Source},
		"index":     &types.AttributeValueMemberN{Value: strconv.Itoa(index)},
		"offset":    &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Chunk.Offset)},
		"text":      &types.AttributeValueMemberS{Value: rec.Chunk.Text},
		"embedding": &types.AttributeValueMemberB{Value: encodeEmbedding(rec.Embedding)},
	}
}

// itemToRecord converts a DynamoDB attribute map to a Record.
func itemToRecord(item map[string]types.AttributeValue) (vectorstore.Record, error) {
	index, err := intAttr(item, "index")
	if err != nil {
		return vectorstore.Record{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return vectorstore.Record{}, err
	}
	source, _ := strAttr(item, "source") // allow empty
	offset, _ := intAttr(item, "offset") // allow missing

	raw, ok := item["embedding"].(*types.AttributeValueMemberB)
	if !ok {
		return vectorstore.Record{}, errors.New(`repository: attribute "embedding" is not binary`)
	}
	vec, err := decodeEmbedding(raw.Value)
	if err != nil {
		return vectorstore.Record{}, err
	}

	return vectorstore.Record{
		Chunk: domain.Chunk{
			Source: source,
			Index:  index,
			Offset: offset,
			Text:   text,
		},
		Embedding: vec,
	}, nil
}

// encodeEmbedding packs float32s little-endian.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("repository: embedding length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
