package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"gopkg.in/gomail.v2"
)

// Alert kinds raised for operators
const (
	AlertOrphanedSuccess    = "orphaned_success"
	AlertTokenExtraction    = "token_extraction"
	AlertConfigurationGap   = "configuration_gap"
	AlertDuplicateCharge    = "duplicate_charge"
	AlertReconciliationGaps = "reconciliation_gaps"
)

// Alert is an operator-visible notification
type Alert struct {
	Kind    string
	Subject string
	Fields  map[string]string
}

// Body renders the alert fields one per line, sorted by name
func (a Alert) Body() string {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", a.Subject)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, a.Fields[k])
	}
	return b.String()
}

type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// LogAlerter writes alerts to the process log
type LogAlerter struct{}

func (LogAlerter) Send(ctx context.Context, alert Alert) error {
	log.Printf("[ALERT] %s: %s %v", alert.Kind, alert.Subject, alert.Fields)
	return nil
}

type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

// MailAlerter mails alerts to the operations inbox and always logs them, so
// an alert survives an SMTP outage in the log.
type MailAlerter struct {
	cfg MailConfig
}

func NewMailAlerter(cfg MailConfig) *MailAlerter {
	if cfg.Port == 0 {
		cfg.Port = 2525
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &MailAlerter{cfg: cfg}
}

func (m *MailAlerter) Send(ctx context.Context, alert Alert) error {
	LogAlerter{}.Send(ctx, alert)

	if m.cfg.Host == "" || m.cfg.To == "" || m.cfg.From == "" {
		log.Println("SMTP configuration is incomplete, alert was only logged")
		return nil
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", m.cfg.To)
	msg.SetHeader("Subject", "[enrollment] "+alert.Subject)
	msg.SetBody("text/plain", alert.Body())

	d := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.User, m.cfg.Password)
	if err := d.DialAndSend(msg); err != nil {
		log.Printf("Failed to send alert email: %v", err)
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}
