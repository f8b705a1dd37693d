package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Ramsey-B/fern/pkg/merge"
)

// Driver re-issues a merge with the returned resume coordinates until it completes.
type Driver struct {
	client      MergeClient
	maxAttempts int
	// progress is called after every attempt
	progress func(attempt int, res *MergeResponse)
}

func NewDriver(client MergeClient, maxAttempts int, progress func(int, *MergeResponse)) *Driver {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if progress == nil {
		progress = func(int, *MergeResponse) {}
	}
	return &Driver{
		client:      client,
		maxAttempts: maxAttempts,
		progress:    progress,
	}
}

// MergeError is a merge that ended without completing.
type MergeError struct {
	StatusCode int
	Message    string
	Attempts   int
	Result     *merge.PhasedMergeResult
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge failed with status %d after %d attempt(s): %s", e.StatusCode, e.Attempts, e.Message)
}

// Run merges req.SourceID into req.TargetID. It stops on a 2xx, on any failure that carries no
// resume coordinates, or when the attempt cap is reached.
func (d *Driver) Run(ctx context.Context, wsID string, req merge.MergeRequest) (*merge.PhasedMergeResult, int, error) {
	var last *MergeResponse
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		res, err := d.client.Merge(ctx, wsID, req)
		if err != nil {
			return nil, attempt, err
		}
		d.progress(attempt, res)
		last = res

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return res.Result, attempt, nil
		}

		next, ok := resumeRequest(req, res)
		if !ok {
			return res.Result, attempt, failure(res, attempt)
		}
		req = next
	}
	return last.Result, d.maxAttempts, failure(last, d.maxAttempts)
}

// resumeRequest builds the retry of a 408 or 500 partial response.
func resumeRequest(req merge.MergeRequest, res *MergeResponse) (merge.MergeRequest, bool) {
	if res.StatusCode != http.StatusRequestTimeout && res.StatusCode != http.StatusInternalServerError {
		return req, false
	}
	if res.Result == nil || !res.Result.Partial {
		return req, false
	}

	next := merge.MergeRequest{SourceID: req.SourceID, TargetID: req.TargetID}
	switch {
	case res.Result.NextPhase != nil:
		phase := *res.Result.NextPhase
		next.StartPhase = &phase
	case res.Result.NextTableIndex != nil:
		index := *res.Result.NextTableIndex
		next.StartTableIndex = &index
	default:
		return req, false
	}
	return next, true
}

func failure(res *MergeResponse, attempts int) *MergeError {
	message := res.Message
	if res.Result != nil && res.Result.Error != "" {
		message = res.Result.Error
	}
	return &MergeError{
		StatusCode: res.StatusCode,
		Message:    message,
		Attempts:   attempts,
		Result:     res.Result,
	}
}
