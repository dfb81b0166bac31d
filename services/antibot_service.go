package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultAntiBotTTL = 2 * time.Minute

type AntiBotConfig struct {
	VerifyURL   string
	Secret      string
	TokenTTL    time.Duration
	Development bool
}

type antiBotResponse struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// AntiBotVerifier checks that an anti-bot token is present, fresh and used
// once per session attempt.
type AntiBotVerifier struct {
	cfg    AntiBotConfig
	redis  *redis.Client
	client *http.Client

	mu   sync.Mutex
	used map[string]time.Time // only when redis is nil
}

func NewAntiBotVerifier(cfg AntiBotConfig, rdb *redis.Client) *AntiBotVerifier {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaultAntiBotTTL
	}
	if cfg.Secret == "" {
		log.Printf("WARNING: ANTIBOT_SECRET is not set, remote anti-bot verification is disabled")
	}
	return &AntiBotVerifier{
		cfg:    cfg,
		redis:  rdb,
		client: &http.Client{Timeout: 10 * time.Second},
		used:   make(map[string]time.Time),
	}
}

// Verify consumes the token. A missing token is ErrAntiBotTokenMissing; a
// reused or expired one is ErrAntiBotTokenStale. Both mean the client must
// obtain a new token and retry.
func (v *AntiBotVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrAntiBotTokenMissing
	}

	fresh, err := v.consume(ctx, token)
	if err != nil {
		return fmt.Errorf("anti-bot token store unavailable: %w", err)
	}
	if !fresh {
		return ErrAntiBotTokenStale
	}

	if v.cfg.Secret == "" {
		if v.cfg.Development {
			return nil
		}
		return fmt.Errorf("anti-bot verification is not configured")
	}
	return v.verifyRemote(ctx, token, remoteIP)
}

func (v *AntiBotVerifier) consume(ctx context.Context, token string) (bool, error) {
	sum := sha256.Sum256([]byte(token))
	key := "antibot:used:" + hex.EncodeToString(sum[:])

	if v.redis != nil {
		return v.redis.SetNX(ctx, key, time.Now().Unix(), v.cfg.TokenTTL).Result()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	for k, until := range v.used {
		if now.After(until) {
			delete(v.used, k)
		}
	}
	if _, seen := v.used[key]; seen {
		return false, nil
	}
	v.used[key] = now.Add(v.cfg.TokenTTL)
	return true, nil
}

func (v *AntiBotVerifier) verifyRemote(ctx context.Context, token, remoteIP string) error {
	form := url.Values{}
	form.Set("secret", v.cfg.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create anti-bot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("anti-bot verifier unreachable: %w", err)
	}
	defer resp.Body.Close()

	var result antiBotResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse anti-bot response: %w", err)
	}
	if result.Success {
		return nil
	}
	for _, code := range result.ErrorCodes {
		if code == "timeout-or-duplicate" {
			return ErrAntiBotTokenStale
		}
	}
	return fmt.Errorf("anti-bot verification rejected: %s", strings.Join(result.ErrorCodes, ", "))
}
