// Package queue adapts SQS into a long-poll receive / per-message ack
// consumer.
//
// Retry bookkeeping lives entirely in the queue: an unacked message becomes
// visible again after the visibility timeout, and the queue's redrive policy
// moves it to the dead-letter queue after the configured receive count. The
// worker never tracks attempts itself.
package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// maxReceiveBatch is the largest batch SQS permits per receive call.
const maxReceiveBatch = 10

// sqsAPI is the subset of the SQS client used by Consumer.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Message is one received queue message.
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
}

// Consumer receives and acknowledges messages of a single queue.
type Consumer struct {
	client            sqsAPI
	queueURL          string
	batchSize         int32
	waitTimeSeconds   int32
	visibilityTimeout int32
}

// NewConsumer returns a Consumer over the given queue URL. The batch size is
// clamped to the SQS per-receive maximum of 10.
func NewConsumer(client sqsAPI, queueURL string, batchSize, waitTimeSeconds, visibilityTimeout int) *Consumer {
	if batchSize < 1 {
		batchSize = 1
	} else if batchSize > maxReceiveBatch {
		batchSize = maxReceiveBatch
	}
	return &Consumer{
		client:            client,
		queueURL:          queueURL,
		batchSize:         int32(batchSize),
		waitTimeSeconds:   int32(waitTimeSeconds),
		visibilityTimeout: int32(visibilityTimeout),
	}
}

// Receive long-polls the queue and returns up to the configured batch of
// messages. An empty slice means the poll elapsed without traffic.
func (c *Consumer) Receive(ctx context.Context) ([]Message, error) {
	var out, err = c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.batchSize,
		WaitTimeSeconds:     c.waitTimeSeconds,
		VisibilityTimeout:   c.visibilityTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("receiving messages: %w", err)
	}

	var messages = make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// Delete acknowledges a message, removing it from the queue.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	var _, err = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}
