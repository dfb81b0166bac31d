package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/HSouheill/enrollment_backend/models"
	"github.com/HSouheill/enrollment_backend/utils"
)

type GatewayConfig struct {
	BaseURL     string
	ScriptURL   string
	MerchantKey string
	PublicKey   string
	TerminalID  string
	Debug       bool
	Timeout     time.Duration
}

// GatewaySession is the descriptor returned by the hosted checkout API
type GatewaySession struct {
	SessionToken string
	ScriptURL    string
	PublicKey    string
	TerminalID   string
}

// Transaction statuses reported by the gateway
const (
	TransactionApproved = "approved"
	TransactionDeclined = "declined"
	TransactionPending  = "pending"
	TransactionUnknown  = "unknown"
)

// GatewayTransaction is the gateway's own record of a charge
type GatewayTransaction struct {
	TransactionID          string
	Status                 string
	Amount                 float64
	Currency               string
	AuthorizationReference string
}

func (t *GatewayTransaction) Approved() bool {
	return t != nil && t.Status == TransactionApproved
}

// GatewayService talks to the hosted checkout API
type GatewayService struct {
	cfg    GatewayConfig
	client *http.Client
}

func NewGatewayService(cfg GatewayConfig) *GatewayService {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"

	if cfg.MerchantKey == "" || cfg.PublicKey == "" {
		log.Printf("WARNING: payment gateway credentials not fully configured:")
		if cfg.MerchantKey == "" {
			log.Printf("  - GATEWAY_MERCHANT_KEY is missing")
		}
		if cfg.PublicKey == "" {
			log.Printf("  - GATEWAY_PUBLIC_KEY is missing")
		}
	} else {
		log.Printf("Payment gateway configuration:")
		log.Printf("  Base URL: %s", cfg.BaseURL)
		log.Printf("  Script URL: %s", cfg.ScriptURL)
		log.Printf("  Terminal: %s", cfg.TerminalID)
		log.Printf("  Merchant key: [CONFIGURED]")
	}

	return &GatewayService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *GatewayService) headers() map[string]string {
	return map[string]string{
		"Content-Type":   "application/json",
		"Accept":         "application/json",
		"X-Merchant-Key": s.cfg.MerchantKey,
	}
}

// makeRequest performs one call and unwraps the response envelope
func (s *GatewayService) makeRequest(ctx context.Context, method, endpoint string, payload interface{}) (*models.GatewayResponse, error) {
	if s.cfg.MerchantKey == "" {
		return nil, fmt.Errorf("missing gateway credentials, set GATEWAY_MERCHANT_KEY")
	}
	url := s.cfg.BaseURL + endpoint

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	headers := s.headers()
	if s.cfg.Debug {
		log.Printf("Gateway API Request: %s %s", method, url)
		for key, value := range headers {
			if key == "X-Merchant-Key" {
				log.Printf("  %s: [HIDDEN]", key)
			} else {
				log.Printf("  %s: %s", key, value)
			}
		}
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if s.cfg.Debug {
		log.Printf("Gateway API Response (%d): %s", resp.StatusCode, string(respBody))
	}

	var gwResp models.GatewayResponse
	if err := json.Unmarshal(respBody, &gwResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (HTTP %d): %w", resp.StatusCode, err)
	}

	if !gwResp.Status || resp.StatusCode >= http.StatusBadRequest {
		code := "unknown"
		if gwResp.Code != nil {
			code = fmt.Sprintf("%v", gwResp.Code)
		}
		errorMsg := fmt.Sprintf("gateway API error: %s", code)
		if msg, ok := gwResp.Message.(string); ok && msg != "" {
			errorMsg = fmt.Sprintf("gateway API error: %s - %s", code, msg)
		} else if m, ok := gwResp.Message.(map[string]interface{}); ok {
			if msg, ok := m["message"].(string); ok {
				errorMsg = fmt.Sprintf("gateway API error: %s - %s", code, msg)
			}
		}
		log.Printf("Gateway API error details: HTTP=%d Code=%s Message=%v", resp.StatusCode, code, gwResp.Message)
		return &gwResp, fmt.Errorf("%s", errorMsg)
	}
	return &gwResp, nil
}

// CreateSession requests a hosted checkout session
func (s *GatewayService) CreateSession(ctx context.Context, req models.GatewaySessionRequest) (*GatewaySession, error) {
	if req.TerminalID == "" {
		req.TerminalID = s.cfg.TerminalID
	}
	resp, err := s.makeRequest(ctx, http.MethodPost, "checkout/sessions", req)
	if err != nil {
		return nil, err
	}

	session := &GatewaySession{
		ScriptURL:  s.cfg.ScriptURL,
		PublicKey:  s.cfg.PublicKey,
		TerminalID: req.TerminalID,
	}
	if token, ok := resp.Data["sessionToken"].(string); ok {
		session.SessionToken = token
	}
	if v, ok := resp.Data["scriptUrl"].(string); ok && v != "" {
		session.ScriptURL = v
	}
	if v, ok := resp.Data["publicKey"].(string); ok && v != "" {
		session.PublicKey = v
	}
	if v, ok := resp.Data["terminalId"].(string); ok && v != "" {
		session.TerminalID = v
	}

	if session.SessionToken == "" {
		return nil, fmt.Errorf("failed to parse session token from response")
	}
	if session.ScriptURL == "" {
		return nil, fmt.Errorf("gateway returned no script URL and GATEWAY_SCRIPT_URL is not set")
	}
	return session, nil
}

// GetTransactionStatus asks the gateway whether a transaction was charged and
// for how much
func (s *GatewayService) GetTransactionStatus(ctx context.Context, transactionID string) (*GatewayTransaction, error) {
	resp, err := s.makeRequest(ctx, http.MethodPost, "checkout/transactions/status", models.GatewayStatusRequest{
		TransactionID: transactionID,
		TerminalID:    s.cfg.TerminalID,
	})
	if err != nil {
		return nil, err
	}

	tx := &GatewayTransaction{TransactionID: transactionID, Status: TransactionUnknown}
	if v, ok := resp.Data["status"].(string); ok {
		tx.Status = normalizeTransactionStatus(v)
	}
	switch v := resp.Data["amount"].(type) {
	case float64:
		tx.Amount = utils.RoundMoney(v)
	case string:
		amount, err := utils.ParseAmount(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transaction amount %q: %w", v, err)
		}
		tx.Amount = amount
	}
	if v, ok := resp.Data["currency"].(string); ok {
		tx.Currency = v
	}
	if v, ok := resp.Data["authorizationReference"].(string); ok {
		tx.AuthorizationReference = v
	}
	return tx, nil
}

func normalizeTransactionStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "success", "captured", "settled":
		return TransactionApproved
	case "declined", "failed", "voided", "refunded":
		return TransactionDeclined
	case "pending", "processing":
		return TransactionPending
	default:
		return TransactionUnknown
	}
}
