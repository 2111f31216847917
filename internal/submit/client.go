// Package submit implements the outbound submission client: it assembles the
// submission payload for a task's published resource, runs the preflight
// check against the public document URL, and posts the payload to the
// external authority's endpoint.
//
// All outbound calls go through a circuit breaker so a broken endpoint fails
// fast instead of tying up batch processing in timeouts.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"melding/internal/config"
	"melding/internal/types"
)

// urlSegments maps document type identifiers to the URL segment under which
// the publication app serves them.
var urlSegments = map[string]string{
	"http://mu.semte.ch/vocabularies/ext/Agenda":         "agenda",
	"http://mu.semte.ch/vocabularies/ext/Besluitenlijst": "besluitenlijst",
	"http://mu.semte.ch/vocabularies/ext/Notulen":        "notulen",
	"http://mu.semte.ch/vocabularies/ext/Uittreksel":     "uittreksels",
}

const excerptSegment = "uittreksels"

// DetailsSource provides the extracted-resource attributes needed to build a
// payload. Implemented by db.ResourceRepository.
type DetailsSource interface {
	GetSubmissionDetails(ctx context.Context, resourceID string) ([]*types.SubmissionDetails, error)
	GetExtractedUUID(ctx context.Context, extractedResource string) (string, error)
	GetContainedDecision(ctx context.Context, extractedResource string) (string, error)
}

// payload is the wire format the authority's submission endpoint accepts.
type payload struct {
	Href              string    `json:"href"`
	Organization      string    `json:"organization"`
	Publisher         publisher `json:"publisher"`
	SubmittedResource string    `json:"submittedResource"`
}

type publisher struct {
	URI string `json:"uri"`
	Key string `json:"key"`
}

// Client executes outbound submissions for tasks.
type Client struct {
	cfg        config.SubmissionConfig
	details    DetailsSource
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	logger     types.Logger
}

// NewClient creates a submission client. The HTTP client's timeout bounds
// each outbound call (preflight and submit); a hanging endpoint therefore
// stalls one task, not the whole batch indefinitely.
func NewClient(cfg config.SubmissionConfig, details DetailsSource, logger types.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "submission-endpoint",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		cfg:     cfg,
		details: details,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: cb,
		logger:  logger,
	}
}

// Submit executes one submission attempt for the task's resource.
//
// A non-nil error means the payload could not even be assembled (store
// lookup failed); the caller treats that the same as a transport failure.
// Transport-level and upstream problems come back as a failure outcome with
// a reason, a 409 as a conflict, and a 2xx as a success.
func (c *Client) Submit(ctx context.Context, task *types.Task) (*types.SubmissionResult, error) {
	details, err := c.details.GetSubmissionDetails(ctx, task.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("submit: fetching details for %s: %w", task.ResourceID, err)
	}
	if len(details) == 0 {
		// Nothing extracted yet; retry later once the extraction pipeline
		// has caught up.
		return &types.SubmissionResult{
			Outcome: types.SubmissionOutcomeFailure,
			Detail:  fmt.Sprintf("no extracted resource found for %s", task.ResourceID),
		}, nil
	}

	// A published resource yields one extracted resource; submit the first.
	p, err := c.buildPayload(ctx, details[0])
	if err != nil {
		return nil, fmt.Errorf("submit: building payload for %s: %w", task.ResourceID, err)
	}

	if reason, ok := c.preflight(ctx, p.Href); !ok {
		return &types.SubmissionResult{Outcome: types.SubmissionOutcomeFailure, Detail: reason}, nil
	}

	return c.post(ctx, p)
}

// buildPayload assembles the submission payload from the extracted resource's
// attributes. Excerpts get special treatment: they are published under
// per-document URLs and are not a decision type themselves, so the contained
// decision is passed as the submitted resource.
func (c *Client) buildPayload(ctx context.Context, d *types.SubmissionDetails) (*payload, error) {
	segment, ok := urlSegments[d.DocumentType]
	if !ok {
		return nil, fmt.Errorf("no public URL segment for document type %s", d.DocumentType)
	}

	href := fmt.Sprintf("%s/%s/%s/%s/%s",
		c.cfg.SourceHost, d.BodyLabel, d.ClassificationLabel, d.SessionID, segment)
	submitted := d.ExtractedResource

	if segment == excerptSegment {
		uuid, err := c.details.GetExtractedUUID(ctx, d.ExtractedResource)
		if err != nil {
			return nil, fmt.Errorf("resolving excerpt uuid: %w", err)
		}
		href = fmt.Sprintf("%s/%s", href, uuid)

		decision, err := c.details.GetContainedDecision(ctx, d.ExtractedResource)
		if err != nil {
			return nil, fmt.Errorf("resolving contained decision: %w", err)
		}
		submitted = decision
	}

	return &payload{
		Href:         href,
		Organization: d.Body,
		Publisher: publisher{
			URI: c.cfg.PublisherURI,
			Key: c.cfg.Key,
		},
		SubmittedResource: submitted,
	}, nil
}

// preflight verifies the public href answers 200 before submitting it to the
// authority. Submitting a dead link would be rejected downstream anyway, so a
// failed preflight is a retryable failure here.
func (c *Client) preflight(ctx context.Context, href string) (reason string, ok bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return fmt.Sprintf("preflight request for %s: %v", href, err), false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("preflight check failed", "href", href, "error", err)
		return fmt.Sprintf("preflight check failed: %s is unreachable: %v", href, err), false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("preflight check failed", "href", href, "status", resp.StatusCode)
		return fmt.Sprintf("preflight check failed: %s returned %d instead of 200", href, resp.StatusCode), false
	}
	return "", true
}

// post sends the payload to the submission endpoint through the circuit
// breaker and maps the response to an Outcome.
func (c *Client) post(ctx context.Context, p *payload) (*types.SubmissionResult, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("submit: marshaling payload: %w", err)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		r, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// 5xx trips the breaker; everything else is a valid answer.
		if r.StatusCode >= 500 {
			r.Body.Close()
			return nil, fmt.Errorf("submission endpoint returned %d", r.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &types.SubmissionResult{
				Outcome: types.SubmissionOutcomeFailure,
				Detail:  "circuit breaker open; submission endpoint unavailable",
			}, nil
		}
		return &types.SubmissionResult{Outcome: types.SubmissionOutcomeFailure, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()

	detail := readBody(resp.Body)

	switch {
	case resp.StatusCode == http.StatusConflict:
		return &types.SubmissionResult{Outcome: types.SubmissionOutcomeConflict, Detail: detail}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &types.SubmissionResult{Outcome: types.SubmissionOutcomeSuccess, Detail: detail}, nil
	default:
		return &types.SubmissionResult{
			Outcome: types.SubmissionOutcomeFailure,
			Detail:  fmt.Sprintf("submission endpoint returned %d: %s", resp.StatusCode, detail),
		}, nil
	}
}

// readBody drains up to 8 KiB of a response body for logging. Larger bodies
// are truncated; the authority's responses are short JSON documents.
func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil {
		return ""
	}
	return string(b)
}
