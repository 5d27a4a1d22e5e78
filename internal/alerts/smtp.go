package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"time"
)

// SMTPBackend emails alerts at or above a minimum severity. It is optional:
// a repository running in SIM_CLOSED/SIM_OPEN modes typically has no SMTP
// configured and this backend is simply never registered.
type SMTPBackend struct {
	host     string
	port     int
	from     string
	to       []string
	minLevel string
}

func severityRank(s string) int {
	switch s {
	case "CRITICAL":
		return 3
	case "WARNING":
		return 2
	default:
		return 1
	}
}

// NewSMTPBackend constructs a backend that only emails alerts at or above
// minSeverity ("INFO", "WARNING", "CRITICAL").
func NewSMTPBackend(host string, port int, from string, to []string, minSeverity string) *SMTPBackend {
	return &SMTPBackend{host: host, port: port, from: from, to: to, minLevel: minSeverity}
}

func (s *SMTPBackend) Name() string { return "smtp" }

func (s *SMTPBackend) SendAlert(ctx context.Context, a Alert) (bool, error) {
	if severityRank(string(a.Severity)) < severityRank(s.minLevel) {
		return false, nil
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	msg := fmt.Sprintf("Subject: [%s] %s\r\n\r\n%s\r\n\nsource=%s\ntimestamp=%s\n",
		a.Severity, a.Type, a.Message, a.Source, a.Timestamp.Format(time.RFC3339))

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, nil, s.from, s.to, []byte(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return false, fmt.Errorf("send alert email: %w", err)
		}
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
