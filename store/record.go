// Package store persists per-request capture records in DynamoDB.
//
// The record is the synchronization medium between workers: its status field
// carries the request lifecycle, and updatedAt carries ownership freshness.
package store

import "time"

// Status is the lifecycle state of a capture request.
type Status string

const (
	// StatusProcessing is written by the enqueuer before the message is sent.
	StatusProcessing Status = "processing"
	// StatusConsumerProcessing marks the record as claimed by a worker.
	StatusConsumerProcessing Status = "consumerProcessing"
	// StatusSuccess is terminal: the screenshot is stored and addressable.
	StatusSuccess Status = "success"
	// StatusFailed is terminal within the worker; the queue may still
	// redeliver the message.
	StatusFailed Status = "failed"
)

// TimeFormat is how createdAt / updatedAt are stored. RFC-3339 UTC strings
// sort lexicographically in time order, which the (status, createdAt) index
// relies on.
const TimeFormat = time.RFC3339

// Record is a single capture request, keyed by ID.
type Record struct {
	ID           string `dynamodbav:"id" json:"id"`
	URL          string `dynamodbav:"url" json:"url"`
	Status       Status `dynamodbav:"status" json:"status"`
	Width        int    `dynamodbav:"width" json:"width"`
	Height       int    `dynamodbav:"height" json:"height"`
	Format       string `dynamodbav:"format" json:"format"`
	Quality      int    `dynamodbav:"quality" json:"quality"`
	FullPage     bool   `dynamodbav:"fullPage" json:"fullPage"`
	ObjectURL    string `dynamodbav:"objectUrl,omitempty" json:"objectUrl,omitempty"`
	ObjectKey    string `dynamodbav:"objectKey,omitempty" json:"objectKey,omitempty"`
	ErrorMessage string `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt    string `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt    string `dynamodbav:"updatedAt" json:"updatedAt"`
}

// UpdatedAtTime parses the record's updatedAt timestamp.
func (r *Record) UpdatedAtTime() (time.Time, error) {
	return time.Parse(TimeFormat, r.UpdatedAt)
}

// Patch is the caller-supplied subset of fields applied alongside a status
// update. Nil fields are left untouched.
type Patch struct {
	ObjectURL    *string
	ObjectKey    *string
	ErrorMessage *string
	Width        *int
	Height       *int
	Format       *string
}
