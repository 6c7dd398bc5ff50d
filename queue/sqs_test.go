package queue

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	receiveInput  *sqs.ReceiveMessageInput
	receiveOutput *sqs.ReceiveMessageOutput
	receiveErr    error
	deleteInput   *sqs.DeleteMessageInput
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receiveInput = in
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	return f.receiveOutput, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleteInput = in
	return &sqs.DeleteMessageOutput{}, nil
}

func TestReceivePassesTuning(t *testing.T) {
	var fake = &fakeSQS{receiveOutput: &sqs.ReceiveMessageOutput{
		Messages: []types.Message{{
			MessageId:     aws.String("m1"),
			Body:          aws.String(`{"requestId":"r1"}`),
			ReceiptHandle: aws.String("h1"),
		}},
	}}
	var subject = NewConsumer(fake, "https://sqs/q", 5, 20, 300)

	var messages, err = subject.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "m1", messages[0].ID)
	require.Equal(t, []byte(`{"requestId":"r1"}`), messages[0].Body)
	require.Equal(t, "h1", messages[0].ReceiptHandle)

	require.Equal(t, "https://sqs/q", aws.ToString(fake.receiveInput.QueueUrl))
	require.Equal(t, int32(5), fake.receiveInput.MaxNumberOfMessages)
	require.Equal(t, int32(20), fake.receiveInput.WaitTimeSeconds)
	require.Equal(t, int32(300), fake.receiveInput.VisibilityTimeout)
}

func TestReceiveClampsBatchSize(t *testing.T) {
	var fake = &fakeSQS{receiveOutput: &sqs.ReceiveMessageOutput{}}

	var _, err = NewConsumer(fake, "q", 50, 20, 300).Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(10), fake.receiveInput.MaxNumberOfMessages)

	_, err = NewConsumer(fake, "q", 0, 20, 300).Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), fake.receiveInput.MaxNumberOfMessages)
}

func TestReceiveWrapsError(t *testing.T) {
	var fake = &fakeSQS{receiveErr: fmt.Errorf("boom")}
	var _, err = NewConsumer(fake, "q", 5, 20, 300).Receive(context.Background())
	require.ErrorContains(t, err, "receiving messages")
}

func TestDeleteUsesReceiptHandle(t *testing.T) {
	var fake = &fakeSQS{}
	var subject = NewConsumer(fake, "https://sqs/q", 5, 20, 300)

	require.NoError(t, subject.Delete(context.Background(), "h1"))
	require.Equal(t, "https://sqs/q", aws.ToString(fake.deleteInput.QueueUrl))
	require.Equal(t, "h1", aws.ToString(fake.deleteInput.ReceiptHandle))
}
