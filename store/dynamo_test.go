package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	putInput    *dynamodb.PutItemInput
	putErr      error
	getOutput   *dynamodb.GetItemOutput
	getErr      error
	updateInput *dynamodb.UpdateItemInput
	updateErr   error
	queryInput  *dynamodb.QueryInput
	queryOutput *dynamodb.QueryOutput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOutput, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInput = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInput = in
	return f.queryOutput, nil
}

func newTestStore(fake *fakeDynamo) *DynamoStore {
	var s = NewDynamoStore(fake, "records")
	s.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestCreateOnlyIfAbsentMapsConditionFailure(t *testing.T) {
	var fake = &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	var subject = newTestStore(fake)

	var err = subject.Create(context.Background(), Record{ID: "r1"}, true)
	require.ErrorIs(t, err, ErrAlreadyExists)
	require.Equal(t, "attribute_not_exists(id)", aws.ToString(fake.putInput.ConditionExpression))
}

func TestCreateWithoutConditionIsUnconditional(t *testing.T) {
	var fake = &fakeDynamo{}
	var subject = newTestStore(fake)

	require.NoError(t, subject.Create(context.Background(), Record{ID: "r1"}, false))
	require.Nil(t, fake.putInput.ConditionExpression)
}

func TestGetNotFound(t *testing.T) {
	var fake = &fakeDynamo{getOutput: &dynamodb.GetItemOutput{}}
	var subject = newTestStore(fake)

	var _, err = subject.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetRoundTripsRecord(t *testing.T) {
	var rec = Record{
		ID:        "r1",
		URL:       "https://example.com",
		Status:    StatusProcessing,
		Width:     1920,
		Height:    1080,
		Format:    "png",
		CreatedAt: "2026-08-24T11:00:00Z",
		UpdatedAt: "2026-08-24T11:00:00Z",
	}
	var item, err = attributevalue.MarshalMap(rec)
	require.NoError(t, err)

	var subject = newTestStore(&fakeDynamo{getOutput: &dynamodb.GetItemOutput{Item: item}})
	got, err := subject.Get(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, &rec, got)
}

type throttleErr struct{}

func (throttleErr) Error() string                 { return "throttled" }
func (throttleErr) ErrorCode() string             { return "ThrottlingException" }
func (throttleErr) ErrorMessage() string          { return "slow down" }
func (throttleErr) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func TestClassifyThrottling(t *testing.T) {
	var fake = &fakeDynamo{getErr: throttleErr{}}
	var subject = newTestStore(fake)

	var _, err = subject.Get(context.Background(), "r1")
	require.ErrorIs(t, err, ErrThrottled)

	fake.getErr = &types.ProvisionedThroughputExceededException{}
	_, err = subject.Get(context.Background(), "r1")
	require.ErrorIs(t, err, ErrThrottled)

	fake.getErr = errors.New("unrelated")
	_, err = subject.Get(context.Background(), "r1")
	require.NotErrorIs(t, err, ErrThrottled)
}

func TestUpdateStatusSetsStatusAndRefreshesUpdatedAt(t *testing.T) {
	var fake = &fakeDynamo{}
	var subject = newTestStore(fake)

	var objectURL = "https://b.s3.r.amazonaws.com/k"
	var objectKey = "k"
	var err = subject.UpdateStatus(context.Background(), "r1", StatusSuccess, Patch{
		ObjectURL: &objectURL,
		ObjectKey: &objectKey,
	})
	require.NoError(t, err)

	// "status" is a DynamoDB reserved word, so it must appear through the
	// expression name map rather than the raw expression.
	var names = fake.updateInput.ExpressionAttributeNames
	var seen = map[string]bool{}
	for _, name := range names {
		seen[name] = true
	}
	require.True(t, seen["status"])
	require.True(t, seen["updatedAt"])
	require.True(t, seen["objectUrl"])
	require.True(t, seen["objectKey"])
	require.False(t, seen["errorMessage"])

	var values []string
	for _, v := range fake.updateInput.ExpressionAttributeValues {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			values = append(values, s.Value)
		}
	}
	require.Contains(t, values, string(StatusSuccess))
	require.Contains(t, values, "2026-08-24T12:00:00Z")
}

func TestQueryByStatusDescendsTheIndex(t *testing.T) {
	var item, err = attributevalue.MarshalMap(Record{ID: "r1", Status: StatusFailed})
	require.NoError(t, err)

	var fake = &fakeDynamo{queryOutput: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}}
	var subject = newTestStore(fake)

	records, err := subject.QueryByStatus(context.Background(), StatusFailed, 25)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "r1", records[0].ID)

	require.Equal(t, StatusIndex, aws.ToString(fake.queryInput.IndexName))
	require.False(t, aws.ToBool(fake.queryInput.ScanIndexForward))
	require.Equal(t, int32(25), aws.ToInt32(fake.queryInput.Limit))
}
