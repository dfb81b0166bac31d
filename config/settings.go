package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HSouheill/enrollment_backend/services"
)

// Storage drivers
const (
	StorageMongo  = "mongo"
	StorageMemory = "memory"
)

// Settings holds everything read from the environment at startup
type Settings struct {
	Port          string
	Env           string
	StorageDriver string
	JWTSecret     string

	// CORSOrigins are the front ends allowed to call the API from a browser
	CORSOrigins []string
	Redis       RedisSettings

	Gateway services.GatewayConfig
	AntiBot services.AntiBotConfig
	Mail    services.MailConfig

	RatesFile  string
	NoticeDays int
	Timezone   *time.Location

	PayoutCron    string
	ReconcileCron string
}

// IsDevelopment reports whether ENV names a development environment
func (s *Settings) IsDevelopment() bool {
	return s.Env == "development" || s.Env == "dev"
}

// LoadSettings reads the environment. Call after godotenv.Load.
func LoadSettings() (*Settings, error) {
	s := &Settings{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", StorageMongo)),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RatesFile:     os.Getenv("COMMISSION_RATES_FILE"),
		NoticeDays:    getEnvInt("COMMISSION_NOTICE_DAYS", services.DefaultNoticeDays),
		PayoutCron:    getEnv("PAYOUT_CRON", "0 6 * * 5"),
		ReconcileCron: getEnv("RECONCILE_CRON", "30 * * * *"),
	}
	if s.StorageDriver != StorageMongo && s.StorageDriver != StorageMemory {
		return nil, fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageMongo, StorageMemory, s.StorageDriver)
	}
	if s.NoticeDays < 0 {
		return nil, fmt.Errorf("COMMISSION_NOTICE_DAYS must not be negative")
	}

	tz := getEnv("COMMISSION_TIMEZONE", "America/Chicago")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid COMMISSION_TIMEZONE %q: %w", tz, err)
	}
	s.Timezone = loc

	s.CORSOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if s.IsDevelopment() {
		// enrollment wizard dev servers
		s.CORSOrigins = appendMissing(s.CORSOrigins, "http://localhost:3000", "http://localhost:8080")
	}

	s.Redis = RedisSettings{
		URL:      os.Getenv("REDIS_URL"),
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvInt("REDIS_DB", 0),
		Required: getEnvBool("REDIS_REQUIRED", false),
	}
	if s.Redis.DB < 0 {
		return nil, fmt.Errorf("REDIS_DB must not be negative")
	}

	s.Gateway = services.GatewayConfig{
		BaseURL:     os.Getenv("GATEWAY_BASE_URL"),
		ScriptURL:   os.Getenv("GATEWAY_SCRIPT_URL"),
		MerchantKey: os.Getenv("GATEWAY_MERCHANT_KEY"),
		PublicKey:   os.Getenv("GATEWAY_PUBLIC_KEY"),
		TerminalID:  os.Getenv("GATEWAY_TERMINAL_ID"),
		Debug:       getEnvBool("GATEWAY_DEBUG", false),
		Timeout:     30 * time.Second,
	}
	s.AntiBot = services.AntiBotConfig{
		VerifyURL:   getEnv("ANTIBOT_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
		Secret:      os.Getenv("ANTIBOT_SECRET"),
		TokenTTL:    time.Duration(getEnvInt("ANTIBOT_TOKEN_TTL_SECONDS", 120)) * time.Second,
		Development: s.IsDevelopment(),
	}
	s.Mail = services.MailConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     getEnvInt("SMTP_PORT", 2525),
		User:     os.Getenv("SMTP_USER"),
		Password: os.Getenv("SMTP_PASS"),
		From:     os.Getenv("SMTP_FROM"),
		To:       os.Getenv("OPS_ALERT_EMAIL"),
	}

	if s.JWTSecret == "" {
		log.Printf("Warning: JWT_SECRET environment variable is not set, authenticated routes will reject every request")
	}
	return s, nil
}

// LoadRateTable loads the commission rate table from path, or the built-in
// defaults when path is empty.
func LoadRateTable(path string) (*services.RateTable, error) {
	if path == "" {
		log.Println("COMMISSION_RATES_FILE not set, using built-in commission rates")
		return services.NewRateTable(services.DefaultRateConfig())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open commission rates: %w", err)
	}
	defer f.Close()

	table, err := services.LoadRateTable(f)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded commission rates from %s", path)
	return table, nil
}

// splitList parses a comma separated list, dropping blanks
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func appendMissing(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, have := range list {
			if have == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
