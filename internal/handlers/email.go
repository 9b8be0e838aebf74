package handlers

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/errcode"
	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/pkg/logger"
)

// EmailHandler sends mail over SMTP.
type EmailHandler struct {
	logger logger.Logger

	// send is swappable so tests do not need a mail server.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

type emailConfig struct {
	SMTPHost string   `json:"smtpHost"`
	SMTPPort string   `json:"smtpPort"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
}

// NewEmailHandler creates an email handler using net/smtp delivery.
func NewEmailHandler(log logger.Logger) *EmailHandler {
	return &EmailHandler{logger: log, send: smtp.SendMail}
}

func (h *EmailHandler) Execute(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
	var cfg emailConfig
	if err := parseConfig(nc.Config, &cfg); err != nil {
		return invalidConfig(fmt.Sprintf("invalid email config: %v", err)), nil
	}
	if cfg.From == "" {
		return missingConfig("email node requires a from address"), nil
	}
	if len(cfg.To) == 0 {
		return missingConfig("email node requires at least one recipient"), nil
	}
	if cfg.SMTPHost == "" {
		cfg.SMTPHost = "localhost"
	}
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "587"
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		cfg.From, strings.Join(cfg.To, ", "), cfg.Subject, cfg.Body)

	addr := cfg.SMTPHost + ":" + cfg.SMTPPort
	if err := h.send(addr, auth, cfg.From, cfg.To, []byte(msg)); err != nil {
		return workflow.Failure(errcode.Runtime(errcode.ConnectionFailed,
			fmt.Sprintf("failed to send mail via %s: %v", addr, err), true)), nil
	}

	if nc.Log != nil {
		nc.Log("info", "Email sent", map[string]interface{}{
			"to":      cfg.To,
			"subject": cfg.Subject,
		})
	}

	return workflow.Ok(map[string]interface{}{
		"sent":       true,
		"recipients": len(cfg.To),
	}), nil
}
