package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/pkg/circuitbreaker"
	"github.com/dialtone-ai/dialtone/pkg/logger"
	"github.com/dialtone-ai/dialtone/pkg/metrics"
	"github.com/dialtone-ai/dialtone/pkg/retry"
	"github.com/dialtone-ai/dialtone/pkg/utils"
)

// CallRef identifies a placed call on the provider side
type CallRef struct {
	Ref    string
	Status string
}

// Client talks to the telephony provider's REST API. When the account
// SID or API key is empty the client runs in dry-run mode and returns
// synthetic call references without touching the network.
type Client struct {
	baseURL    string
	accountSID string
	apiKey     string
	apiToken   string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL, accountSID, apiKey, apiToken string) *Client {
	return &Client{
		baseURL:    baseURL,
		accountSID: accountSID,
		apiKey:     apiKey,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
}

// DryRun reports whether the client is running without provider credentials
func (c *Client) DryRun() bool {
	return c.accountSID == "" || c.apiKey == ""
}

// PlaceCallRequest holds the parameters for an outbound call
type PlaceCallRequest struct {
	To          string
	CallerID    string
	CallbackURL string
	StreamURL   string
}

type callResponse struct {
	Call struct {
		Sid    string `json:"Sid"`
		Status string `json:"Status"`
	} `json:"Call"`
}

// PlaceCall dials an outbound call and returns the provider call reference
func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (*CallRef, error) {
	if c.DryRun() {
		ref := &CallRef{Ref: "dry-" + uuid.NewString(), Status: "queued"}
		logger.Log.Info("dry-run call placed",
			zap.String("to", utils.MaskPhoneNumber(req.To)),
			zap.String("call_ref", ref.Ref),
		)
		return ref, nil
	}

	data := url.Values{}
	data.Set("From", req.CallerID)
	data.Set("To", req.To)
	data.Set("CallerId", req.CallerID)
	data.Set("CallType", "trans")
	if req.CallbackURL != "" {
		data.Set("StatusCallback", req.CallbackURL)
	}
	if req.StreamURL != "" {
		data.Set("Url", req.StreamURL)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/connect.json", c.baseURL, c.accountSID)

	var result callResponse
	if err := c.doForm(ctx, "place_call", endpoint, data, &result); err != nil {
		return nil, err
	}

	return &CallRef{Ref: result.Call.Sid, Status: result.Call.Status}, nil
}

// EndCall terminates an ongoing call on the provider side
func (c *Client) EndCall(ctx context.Context, callRef string) error {
	if c.DryRun() {
		logger.Log.Info("dry-run call ended", zap.String("call_ref", callRef))
		return nil
	}

	data := url.Values{}
	data.Set("Status", "completed")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callRef)
	return c.doForm(ctx, "end_call", endpoint, data, nil)
}

// TransferCall redirects an ongoing call to another number
func (c *Client) TransferCall(ctx context.Context, callRef, toNumber string) error {
	if c.DryRun() {
		logger.Log.Info("dry-run call transferred",
			zap.String("call_ref", callRef),
			zap.String("to", utils.MaskPhoneNumber(toNumber)),
		)
		return nil
	}

	data := url.Values{}
	data.Set("To", toNumber)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s/transfer.json", c.baseURL, c.accountSID, callRef)
	return c.doForm(ctx, "transfer_call", endpoint, data, nil)
}

// SendDTMF plays a DTMF digit sequence into an ongoing call
func (c *Client) SendDTMF(ctx context.Context, callRef, digits string) error {
	if c.DryRun() {
		logger.Log.Info("dry-run DTMF sent",
			zap.String("call_ref", callRef),
			zap.String("digits", digits),
		)
		return nil
	}

	data := url.Values{}
	data.Set("Digits", digits)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s/dtmf.json", c.baseURL, c.accountSID, callRef)
	return c.doForm(ctx, "send_dtmf", endpoint, data, nil)
}

// doForm posts form data with basic auth, retry and circuit breaking.
// result may be nil when the response body is not needed.
func (c *Client) doForm(ctx context.Context, operation, endpoint string, data url.Values, result interface{}) error {
	start := time.Now()

	err := c.breaker.Execute(func() error {
		return retry.Do(ctx, retry.DefaultConfig(), func() error {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(data.Encode()))
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}

			httpReq.SetBasicAuth(c.apiKey, c.apiToken)
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := c.httpClient.Do(httpReq)
			if err != nil {
				return fmt.Errorf("failed to execute request: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}

			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
				return fmt.Errorf("telephony API error: %s (status %d)", string(body), resp.StatusCode)
			}

			if result != nil {
				if err := json.Unmarshal(body, result); err != nil {
					return fmt.Errorf("failed to parse response: %w", err)
				}
			}
			return nil
		})
	})

	metrics.RecordServiceCall("telephony_"+operation, err == nil, time.Since(start))

	if err != nil {
		logger.Log.Error("telephony request failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
	return err
}
