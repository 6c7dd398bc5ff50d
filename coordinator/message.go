package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shutterd/shutterd/render"
)

// Viewport and quality bounds of a capture request. Out-of-range values are
// clamped rather than rejected; only a missing url or requestId is malformed.
const (
	minWidth   = 100
	maxWidth   = 3840
	minHeight  = 100
	maxHeight  = 2160
	minQuality = 0
	maxQuality = 100

	defaultQuality = 80
)

// MalformedError marks a message that can never be handled: the queue's
// redelivery will eventually move it to the dead-letter queue.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string { return "malformed message: " + e.Reason }

// captureRequest is the decoded queue message body. Unknown fields are
// ignored.
type captureRequest struct {
	URL       string `json:"url"`
	RequestID string `json:"requestId"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	Quality   *int   `json:"quality"`
	FullPage  bool   `json:"fullPage"`
}

// decodeRequest parses and validates a message body, normalizing the URL and
// filling defaults for everything the message leaves unset.
func decodeRequest(body []byte, defaults Defaults) (captureRequest, error) {
	var req captureRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, &MalformedError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if req.URL == "" {
		return req, &MalformedError{Reason: "missing url"}
	}
	if req.RequestID == "" {
		return req, &MalformedError{Reason: "missing requestId"}
	}
	if _, err := uuid.Parse(req.RequestID); err != nil {
		return req, &MalformedError{Reason: fmt.Sprintf("requestId %q is not a UUID", req.RequestID)}
	}

	req.URL = render.NormalizeURL(req.URL)

	if req.Width == 0 {
		req.Width = defaults.Width
	}
	if req.Height == 0 {
		req.Height = defaults.Height
	}
	req.Width = clamp(req.Width, minWidth, maxWidth)
	req.Height = clamp(req.Height, minHeight, maxHeight)

	if req.Format != "jpeg" {
		req.Format = "png"
	}
	if req.Quality == nil {
		var q = defaultQuality
		req.Quality = &q
	}
	*req.Quality = clamp(*req.Quality, minQuality, maxQuality)

	return req, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
