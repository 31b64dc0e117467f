package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"swiftdrop/internal/common/metrics"
	"swiftdrop/internal/config"
)

// PaystackClient talks to a Paystack-shaped REST API: bearer secret key,
// JSON envelopes with a boolean "status" and a "data" object.
type PaystackClient struct {
	baseURL    string
	secretKey  string
	maxRetries int
	client     *http.Client
}

func NewPaystackClient(cfg config.GatewayConfig) *PaystackClient {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PaystackClient{
		baseURL:    cfg.BaseURL,
		secretKey:  cfg.SecretKey,
		maxRetries: retries,
		client:     &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type chargeData struct {
	Reference string `json:"reference"`
}

type verifyData struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Customer  struct {
		Code string `json:"customer_code"`
	} `json:"customer"`
}

type transferData struct {
	TransferCode string `json:"transfer_code"`
}

type refundData struct {
	ID int64 `json:"id"`
}

func (c *PaystackClient) Charge(ctx context.Context, amount int64, payerRef string) (string, error) {
	body := map[string]any{"amount": amount, "customer": payerRef}
	var data chargeData
	if err := c.call(ctx, "charge", http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return "", err
	}
	return data.Reference, nil
}

func (c *PaystackClient) Verify(ctx context.Context, reference string) (VerifyResult, error) {
	var data verifyData
	if err := c.call(ctx, "verify", http.MethodGet, "/transaction/verify/"+reference, nil, &data); err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{
		Reference: data.Reference,
		Status:    data.Status,
		Amount:    data.Amount,
		PayerRef:  data.Customer.Code,
	}, nil
}

func (c *PaystackClient) Transfer(ctx context.Context, amount int64, payeeRef, reason string) (string, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    amount,
		"recipient": payeeRef,
		"reason":    reason,
	}
	var data transferData
	if err := c.call(ctx, "transfer", http.MethodPost, "/transfer", body, &data); err != nil {
		return "", err
	}
	return data.TransferCode, nil
}

func (c *PaystackClient) Refund(ctx context.Context, reference string, amount int64) (string, error) {
	body := map[string]any{"transaction": reference, "amount": amount}
	var data refundData
	if err := c.call(ctx, "refund", http.MethodPost, "/refund", body, &data); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", data.ID), nil
}

// call performs one gateway request with bounded retries on transport
// errors and 5xx responses. 4xx responses are terminal.
func (c *PaystackClient) call(ctx context.Context, op, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("gateway %s: status %d", op, resp.StatusCode)
			continue
		}

		var env envelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			metrics.GatewayRequestsTotal.WithLabelValues(op, "error").Inc()
			return fmt.Errorf("gateway %s: decode response: %w", op, err)
		}
		if resp.StatusCode >= 400 || !env.Status {
			metrics.GatewayRequestsTotal.WithLabelValues(op, "rejected").Inc()
			return fmt.Errorf("gateway %s: %s (status %d)", op, env.Message, resp.StatusCode)
		}
		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				metrics.GatewayRequestsTotal.WithLabelValues(op, "error").Inc()
				return fmt.Errorf("gateway %s: decode data: %w", op, err)
			}
		}
		metrics.GatewayRequestsTotal.WithLabelValues(op, "ok").Inc()
		return nil
	}

	metrics.GatewayRequestsTotal.WithLabelValues(op, "error").Inc()
	return fmt.Errorf("gateway %s failed after %d attempts: %w", op, c.maxRetries, lastErr)
}
