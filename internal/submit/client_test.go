package submit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melding/internal/config"
	"melding/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

type fakeDetails struct {
	details  []*types.SubmissionDetails
	err      error
	uuid     string
	decision string
}

func (f *fakeDetails) GetSubmissionDetails(context.Context, string) ([]*types.SubmissionDetails, error) {
	return f.details, f.err
}

func (f *fakeDetails) GetExtractedUUID(context.Context, string) (string, error) {
	return f.uuid, nil
}

func (f *fakeDetails) GetContainedDecision(context.Context, string) (string, error) {
	return f.decision, nil
}

func listDetails() *types.SubmissionDetails {
	return &types.SubmissionDetails{
		ExtractedResource:   "http://data.example.org/id/besluitenlijst/123",
		DocumentType:        "http://mu.semte.ch/vocabularies/ext/Besluitenlijst",
		SessionID:           "session-9",
		Body:                "http://data.example.org/id/bestuurseenheid/gent",
		BodyLabel:           "Gent",
		ClassificationLabel: "Gemeente",
	}
}

// newTestClient wires a client against a preflight source server and an
// endpoint handler.
func newTestClient(t *testing.T, preflightStatus int, endpoint http.HandlerFunc, details *fakeDetails) (*Client, *httptest.Server) {
	t.Helper()

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(preflightStatus)
	}))
	t.Cleanup(source.Close)

	endpointSrv := httptest.NewServer(endpoint)
	t.Cleanup(endpointSrv.Close)

	cfg := config.SubmissionConfig{
		Endpoint:     endpointSrv.URL,
		Key:          "secret-key",
		PublisherURI: "http://data.example.org/id/publisher/gent",
		SourceHost:   source.URL,
		Timeout:      5 * time.Second,
	}
	return NewClient(cfg, details, nopLogger{}), endpointSrv
}

func task() *types.Task {
	return &types.Task{ID: "task-1", ResourceID: "res-1", Status: types.TaskPending}
}

func TestSubmit_Success(t *testing.T) {
	var got payload
	client, _ := newTestClient(t, http.StatusOK, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}, &fakeDetails{details: []*types.SubmissionDetails{listDetails()}})

	result, err := client.Submit(context.Background(), task())
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionOutcomeSuccess, result.Outcome)

	assert.Equal(t, "http://data.example.org/id/bestuurseenheid/gent", got.Organization)
	assert.Equal(t, "http://data.example.org/id/besluitenlijst/123", got.SubmittedResource)
	assert.Equal(t, "http://data.example.org/id/publisher/gent", got.Publisher.URI)
	assert.Equal(t, "secret-key", got.Publisher.Key)
	assert.Contains(t, got.Href, "/Gent/Gemeente/session-9/besluitenlijst")
}

func TestSubmit_ConflictOutcomeCarriesResponseBody(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"reason":"already submitted via manual upload"}`))
	}, &fakeDetails{details: []*types.SubmissionDetails{listDetails()}})

	result, err := client.Submit(context.Background(), task())
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionOutcomeConflict, result.Outcome)
	assert.Contains(t, result.Detail, "manual upload")
}

func TestSubmit_ServerErrorIsRetryableFailure(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, &fakeDetails{details: []*types.SubmissionDetails{listDetails()}})

	result, err := client.Submit(context.Background(), task())
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionOutcomeFailure, result.Outcome)
	assert.Contains(t, result.Detail, "502")
}

func TestSubmit_ClientErrorIsFailureWithStatus(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("malformed payload"))
	}, &fakeDetails{details: []*types.SubmissionDetails{listDetails()}})

	result, err := client.Submit(context.Background(), task())
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionOutcomeFailure, result.Outcome)
	assert.Contains(t, result.Detail, "400")
	assert.Contains(t, result.Detail, "malformed payload")
}

func TestSubmit_PreflightFailureSkipsEndpoint(t *testing.T) {
	posted := false
	client, _ := newTestClient(t, http.StatusNotFound, func(w http.ResponseWriter, _ *http.Request) {
		posted = true
		w.WriteHeader(http.StatusCreated)
	}, &fakeDetails{details: []*types.SubmissionDetails{listDetails()}})

	result, err := client.Submit(context.Background(), task())
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionOutcomeFailure, result.Outcome)
	assert.Contains(t, result.Detail, "404")
	assert.False(t, posted, "a dead public link must never be submitted")
}

func TestSubmit_NoExtractedResourceIsRetryableFailure(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}, &fakeDetails{})

	result, err := client.Submit(context.Background(), task())
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionOutcomeFailure, result.Outcome)
	assert.Contains(t, result.Detail, "no extracted resource")
}

func TestSubmit_DetailsLookupErrorPropagates(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}, &fakeDetails{err: errors.New("store unavailable")})

	_, err := client.Submit(context.Background(), task())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestSubmit_ExcerptUsesUUIDHrefAndContainedDecision(t *testing.T) {
	details := listDetails()
	details.DocumentType = "http://mu.semte.ch/vocabularies/ext/Uittreksel"
	details.ExtractedResource = "http://data.example.org/id/uittreksel/77"

	var got payload
	client, _ := newTestClient(t, http.StatusOK, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}, &fakeDetails{
		details:  []*types.SubmissionDetails{details},
		uuid:     "abc-123",
		decision: "http://data.example.org/id/besluit/42",
	})

	result, err := client.Submit(context.Background(), task())
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionOutcomeSuccess, result.Outcome)

	assert.Contains(t, got.Href, "/uittreksels/abc-123")
	assert.Equal(t, "http://data.example.org/id/besluit/42", got.SubmittedResource)
}

func TestSubmit_UnknownDocumentTypeFailsPayloadAssembly(t *testing.T) {
	details := listDetails()
	details.DocumentType = "http://example.org/unknown-type"

	client, _ := newTestClient(t, http.StatusOK, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}, &fakeDetails{details: []*types.SubmissionDetails{details}})

	_, err := client.Submit(context.Background(), task())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no public URL segment")
}

func TestSubmit_BreakerOpensAfterConsecutiveServerErrors(t *testing.T) {
	failures := 0
	client, _ := newTestClient(t, http.StatusOK, func(w http.ResponseWriter, _ *http.Request) {
		failures++
		w.WriteHeader(http.StatusInternalServerError)
	}, &fakeDetails{details: []*types.SubmissionDetails{listDetails()}})

	// Six consecutive 5xx responses trip the breaker.
	for i := 0; i < 6; i++ {
		result, err := client.Submit(context.Background(), task())
		require.NoError(t, err)
		require.Equal(t, types.SubmissionOutcomeFailure, result.Outcome)
	}

	result, err := client.Submit(context.Background(), task())
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionOutcomeFailure, result.Outcome)
	assert.Contains(t, result.Detail, "circuit breaker open")
	assert.Equal(t, 6, failures, "open breaker must not reach the endpoint")
}
