// Package batchapi implements the client side of the asynchronous
// batch-processing API that riposte drives: credential acquisition,
// file upload, upload verification, job creation, status polling and
// artifact retrieval. Each operation performs one request/response
// exchange and classifies the outcome; sequencing and retries belong
// to the load-test engine.
package batchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Default API paths, matching the target platform's layout.
const (
	DefaultCredentialPath = "/admin/api/v1/users/current/api-keys"
	filesPath             = "/ai/v1/files"
	batchesPath           = "/ai/v1/batches"
)

// Credential is the shared bearer token used by every workflow request.
// Exactly one is created per test run.
type Credential struct {
	Token      string
	AcquiredAt time.Time
}

// JobStatus is the server-reported state of a batch job.
type JobStatus string

const (
	StatusPending       JobStatus = "pending"
	StatusRunning       JobStatus = "running"
	StatusSucceeded     JobStatus = "succeeded"
	StatusFailedPartial JobStatus = "failed-partial"
	StatusFailed        JobStatus = "failed"
)

// Terminal reports whether the job will not transition further.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailedPartial, StatusFailed:
		return true
	}
	return false
}

// JobHandle identifies a batch job and carries its last-known status.
// Only PollOnce mutates it.
type JobHandle struct {
	ID           string
	Status       JobStatus
	OutputFileID string
	ErrorFileID  string
}

// VerifyMode selects how an upload is confirmed server-side.
type VerifyMode int

const (
	// VerifyMetadata confirms the upload via a metadata lookup.
	VerifyMetadata VerifyMode = iota
	// VerifyContent confirms the upload by fetching its content.
	VerifyContent
)

func (m VerifyMode) String() string {
	if m == VerifyContent {
		return "content"
	}
	return "metadata"
}

// Result describes one request/response exchange. Err is nil on
// success and a *StepError otherwise; Duration is always populated so
// failures are measurable too.
type Result struct {
	Start      time.Time
	Duration   time.Duration
	StatusCode int
	Err        error
}

// Client talks to one target API host. It is safe for concurrent use
// by many virtual users; the underlying http.Client pools connections
// across all of them.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	credentialPath string
	username       string
	password       string
	userAgent      string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCredentialPath overrides the credential endpoint path.
func WithCredentialPath(path string) ClientOption {
	return func(c *Client) {
		if path != "" {
			c.credentialPath = path
		}
	}
}

// WithBasicAuth sets the credentials used for credential acquisition.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithUserAgent sets the User-Agent header on all requests.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	client := &Client{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		baseURL:        baseURL,
		credentialPath: DefaultCredentialPath,
		userAgent:      "riposte-loadtest/1.0",
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// AcquireCredential POSTs to the credential endpoint using basic auth
// and extracts the issued token. Callers must not invoke this
// concurrently for the same run; the engine's credential gate
// guarantees that.
func (c *Client) AcquireCredential(ctx context.Context) (*Credential, Result) {
	const op = "acquire-credential"

	payload := []byte(`{"name":"load-test","description":"load test","purpose":"platform","requests_per_second":0,"burst_size":0}`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.credentialPath, bytes.NewReader(payload))
	if err != nil {
		return nil, failed(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.SetBasicAuth(c.username, c.password)

	body, res := c.do(op, req)
	if res.Err != nil {
		return nil, res
	}

	key := gjson.GetBytes(body, "key")
	if !key.Exists() || key.String() == "" {
		res.Err = protocolError(op, res.StatusCode, "no credential in response")
		return nil, res
	}

	return &Credential{Token: key.String(), AcquiredAt: time.Now()}, res
}

// Upload sends the dataset payload as a multipart body and returns the
// server-assigned file identifier.
func (c *Client) Upload(ctx context.Context, cred *Credential, payload []byte) (string, Result) {
	const op = "upload"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "batch_input.jsonl")
	if err != nil {
		return "", failed(op, err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", failed(op, err)
	}
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", failed(op, err)
	}
	if err := mw.Close(); err != nil {
		return "", failed(op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, filesPath, &buf, cred)
	if err != nil {
		return "", failed(op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, res := c.do(op, req)
	if res.Err != nil {
		return "", res
	}

	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.String() == "" {
		res.Err = protocolError(op, res.StatusCode, "no file id in response")
		return "", res
	}

	return id.String(), res
}

// Verify confirms the uploaded file is visible server-side, either by
// metadata lookup or by content fetch.
func (c *Client) Verify(ctx context.Context, cred *Credential, fileID string, mode VerifyMode) Result {
	op := "verify-" + mode.String()

	path := filesPath + "/" + fileID
	if mode == VerifyContent {
		path += "/content"
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil, cred)
	if err != nil {
		return failed(op, err)
	}

	_, res := c.do(op, req)
	return res
}

// createJobRequest is the job submission body.
type createJobRequest struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata"`
}

// CreateJob submits a batch job referencing the uploaded file and
// returns its handle in pending state.
func (c *Client) CreateJob(ctx context.Context, cred *Credential, fileID string) (*JobHandle, Result) {
	const op = "create-job"

	payload, err := json.Marshal(createJobRequest{
		InputFileID:      fileID,
		Endpoint:         "/v1/chat/completions",
		CompletionWindow: "24h",
		Metadata:         map[string]string{"test_run": "riposte"},
	})
	if err != nil {
		return nil, failed(op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, batchesPath, bytes.NewReader(payload), cred)
	if err != nil {
		return nil, failed(op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, res := c.do(op, req)
	if res.Err != nil {
		return nil, res
	}

	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.String() == "" {
		res.Err = protocolError(op, res.StatusCode, "no job id in response")
		return nil, res
	}

	return &JobHandle{ID: id.String(), Status: StatusPending}, res
}

// PollOnce fetches the job's current status and updates the handle.
// It never loops; backoff and deadlines are the poller's concern.
func (c *Client) PollOnce(ctx context.Context, cred *Credential, job *JobHandle) Result {
	const op = "poll"

	req, err := c.newRequest(ctx, http.MethodGet, batchesPath+"/"+job.ID, nil, cred)
	if err != nil {
		return failed(op, err)
	}

	body, res := c.do(op, req)
	if res.Err != nil {
		return res
	}

	status := JobStatus(gjson.GetBytes(body, "status").String())
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailedPartial, StatusFailed:
		job.Status = status
	default:
		res.Err = protocolError(op, res.StatusCode, "unknown job status "+string(status))
		return res
	}

	if status.Terminal() {
		job.OutputFileID = gjson.GetBytes(body, "output_file_id").String()
		job.ErrorFileID = gjson.GetBytes(body, "error_file_id").String()
	}

	return res
}

// RetrieveOutput fetches the job's output artifact.
func (c *Client) RetrieveOutput(ctx context.Context, cred *Credential, job *JobHandle) Result {
	const op = "retrieve-output"

	if job.OutputFileID == "" {
		return Result{Start: time.Now(), Err: protocolError(op, 0, "job has no output file")}
	}

	req, err := c.newRequest(ctx, http.MethodGet, filesPath+"/"+job.OutputFileID+"/content", nil, cred)
	if err != nil {
		return failed(op, err)
	}

	_, res := c.do(op, req)
	return res
}

// RetrieveErrors fetches the job's error artifact. The caller records
// a failure here as a distinct outcome, never as a workflow abort.
func (c *Client) RetrieveErrors(ctx context.Context, cred *Credential, job *JobHandle) Result {
	const op = "retrieve-errors"

	if job.ErrorFileID == "" {
		return Result{Start: time.Now(), Err: protocolError(op, 0, "job has no error file")}
	}

	req, err := c.newRequest(ctx, http.MethodGet, filesPath+"/"+job.ErrorFileID+"/content", nil, cred)
	if err != nil {
		return failed(op, err)
	}

	_, res := c.do(op, req)
	return res
}

// newRequest builds an authenticated request against the base URL.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, cred *Credential) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	if cred != nil {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	return req, nil
}

// do executes the request, drains the body, and classifies the result.
// 2xx is success; anything else is a protocol error.
func (c *Client) do(op string, req *http.Request) ([]byte, Result) {
	res := Result{Start: time.Now()}

	resp, err := c.httpClient.Do(req)
	res.Duration = time.Since(res.Start)
	if err != nil {
		res.Err = transportError(op, err)
		return nil, res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Err = transportError(op, err)
		return nil, res
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Err = protocolError(op, resp.StatusCode, "unexpected status")
		return body, res
	}

	return body, res
}

// failed builds a zero-duration transport result for request-build
// errors (bad URL, cancelled context).
func failed(op string, err error) Result {
	return Result{Start: time.Now(), Err: transportError(op, err)}
}
