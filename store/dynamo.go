package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// StatusIndex is the (status, createdAt) secondary index used by
// QueryByStatus.
const StatusIndex = "status-createdAt-index"

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements the record store over a single DynamoDB table.
type DynamoStore struct {
	client dynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoStore returns a DynamoStore over the given table.
func NewDynamoStore(client dynamoAPI, table string) *DynamoStore {
	return &DynamoStore{
		client: client,
		table:  table,
		now:    time.Now,
	}
}

// Create inserts the record. With onlyIfAbsent it fails with ErrAlreadyExists
// if a record with the same id is already present.
func (s *DynamoStore) Create(ctx context.Context, rec Record, onlyIfAbsent bool) error {
	var item, err = attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshalling record %s: %w", rec.ID, err)
	}

	var input = &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}
	if onlyIfAbsent {
		input.ConditionExpression = aws.String("attribute_not_exists(id)")
	}

	_, err = s.client.PutItem(ctx, input)
	return classify(fmt.Sprintf("creating record %s", rec.ID), err)
}

// Get reads the record with the given id, or ErrNotFound. The read is
// strongly consistent: the lifecycle decisions built on it require
// read-your-writes.
func (s *DynamoStore) Get(ctx context.Context, id string) (*Record, error) {
	var out, err = s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            recordKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify(fmt.Sprintf("reading record %s", id), err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("reading record %s: %w", id, ErrNotFound)
	}

	var rec Record
	if err = attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling record %s: %w", id, err)
	}
	return &rec, nil
}

// UpdateStatus sets status and updatedAt, plus any non-nil patch fields, in a
// single UpdateItem call. It is deliberately unconditional: a stale-takeover
// must be able to re-claim a consumerProcessing record.
func (s *DynamoStore) UpdateStatus(ctx context.Context, id string, status Status, patch Patch) error {
	var update = expression.
		Set(expression.Name("status"), expression.Value(status)).
		Set(expression.Name("updatedAt"), expression.Value(s.now().UTC().Format(TimeFormat)))

	if patch.ObjectURL != nil {
		update = update.Set(expression.Name("objectUrl"), expression.Value(*patch.ObjectURL))
	}
	if patch.ObjectKey != nil {
		update = update.Set(expression.Name("objectKey"), expression.Value(*patch.ObjectKey))
	}
	if patch.ErrorMessage != nil {
		update = update.Set(expression.Name("errorMessage"), expression.Value(*patch.ErrorMessage))
	}
	if patch.Width != nil {
		update = update.Set(expression.Name("width"), expression.Value(*patch.Width))
	}
	if patch.Height != nil {
		update = update.Set(expression.Name("height"), expression.Value(*patch.Height))
	}
	if patch.Format != nil {
		update = update.Set(expression.Name("format"), expression.Value(*patch.Format))
	}

	var expr, err = expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("building update of record %s: %w", id, err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       recordKey(id),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return classify(fmt.Sprintf("updating record %s to %s", id, status), err)
}

// QueryByStatus lists up to limit records having the given status, most
// recently created first.
func (s *DynamoStore) QueryByStatus(ctx context.Context, status Status, limit int32) ([]Record, error) {
	var expr, err = expression.NewBuilder().
		WithKeyCondition(expression.Key("status").Equal(expression.Value(status))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building query for status %s: %w", status, err)
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(StatusIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(limit),
	})
	if err != nil {
		return nil, classify(fmt.Sprintf("querying records with status %s", status), err)
	}

	var records []Record
	if err = attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, fmt.Errorf("unmarshalling records with status %s: %w", status, err)
	}
	return records, nil
}

func recordKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}
