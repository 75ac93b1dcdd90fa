package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.replicate.com/v1"
	// IDM-VTON virtual try-on model.
	defaultVersion = "c871bb9b046607b680449ecbae55fd8c6d945e0a1948644bf2361b3d021d3ff4"
)

// Terminal prediction statuses reported by the API. Anything else
// (starting, processing, queued) is in flight.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// SubmissionError reports a rejected prediction submission. The provider's
// response text is preserved so it can be recorded on the job verbatim.
type SubmissionError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("replicate: http %d: %s", e.StatusCode, e.Message)
}

// TransientError wraps a failure while querying a prediction that the caller
// should retry on the next poll tick.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "replicate: query prediction: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable query failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Options configures the prediction client.
type Options struct {
	BaseURL    string
	Token      string
	Version    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client is a thin wrapper over the hosted asynchronous prediction API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	version    string
}

// NewClient builds a prediction client with sane defaults.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = defaultVersion
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.Token),
		version:    version,
	}
}

// PredictionInput carries the try-on submission payload. Category is the
// garment taxonomy value (shirt, dress, ...), mapped to the provider's
// taxonomy on submission.
type PredictionInput struct {
	GarmentURL string
	HumanURL   string
	Category   string
}

// Prediction is the provider's view of one generation run.
type Prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

// Terminal reports whether the prediction reached a final status.
func (p *Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// categoryMapping translates garment categories into the provider's fixed
// taxonomy. Unknown categories fall back to upper_body.
var categoryMapping = map[string]string{
	"shirt":       "upper_body",
	"coat":        "upper_body",
	"accessories": "upper_body",
	"other":       "upper_body",
	"dress":       "dresses",
	"pants":       "lower_body",
	"shoes":       "lower_body",
}

// CategoryFor maps a garment category onto the provider taxonomy.
func CategoryFor(garment string) string {
	if mapped, ok := categoryMapping[strings.ToLower(strings.TrimSpace(garment))]; ok {
		return mapped
	}
	return "upper_body"
}

type createRequest struct {
	Version string `json:"version"`
	Input   struct {
		GarmImg    string `json:"garm_img"`
		HumanImg   string `json:"human_img"`
		GarmentDes string `json:"garment_des"`
		Category   string `json:"category"`
	} `json:"input"`
}

// CreatePrediction submits the try-on inputs and returns the provider's
// prediction handle. A non-2xx response yields a *SubmissionError.
func (c *Client) CreatePrediction(ctx context.Context, input PredictionInput) (*Prediction, error) {
	if c == nil {
		return nil, errors.New("replicate: client not configured")
	}
	if c.token == "" {
		return nil, errors.New("replicate: API token is missing")
	}

	var payload createRequest
	payload.Version = c.version
	payload.Input.GarmImg = input.GarmentURL
	payload.Input.HumanImg = input.HumanURL
	payload.Input.GarmentDes = "clothing item"
	payload.Input.Category = CategoryFor(input.Category)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replicate: submit prediction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &SubmissionError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var out Prediction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("replicate: decode submission response: %w", err)
	}
	if out.ID == "" {
		return nil, errors.New("replicate: response missing prediction id")
	}
	return &out, nil
}

// GetPrediction queries the status of a prediction. Network failures and
// non-2xx responses are wrapped in *TransientError: the poller retries them
// on the next tick and only the attempt cap bounds total wait time.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if c == nil {
		return nil, errors.New("replicate: client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransientError{Err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}

	var out Prediction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}
