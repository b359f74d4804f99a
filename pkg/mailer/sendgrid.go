package mailer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	defaultHost = "https://api.sendgrid.com"
	endpoint    = "/v3/mail/send"
)

// Config holds SendGrid credentials and the sender identity.
type Config struct {
	APIKey      string
	FromAddress string
	FromName    string
	// Host overrides the SendGrid API host. Empty uses the public API.
	Host string
	// SubjectPrefix is prepended to every subject line.
	SubjectPrefix string
}

// SendGrid delivers transactional email through the SendGrid v3 API.
type SendGrid struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
	logger     zerolog.Logger
}

// NewSendGrid builds a mailer. Both the API key and the sender address are required.
func NewSendGrid(cfg Config, logger zerolog.Logger) (*SendGrid, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.FromAddress) == "" {
		return nil, fmt.Errorf("sendgrid api key and sender address must be provided")
	}

	host := cfg.Host
	if host == "" {
		host = defaultHost
	}

	return &SendGrid{
		key:        cfg.APIKey,
		host:       strings.TrimRight(host, "/"),
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromAddress),
		subjPrefix: cfg.SubjectPrefix,
		logger:     logger.With().Str("component", "sendgrid").Logger(),
	}, nil
}

// Send delivers one HTML message to one recipient.
func (s *SendGrid) Send(ctx context.Context, toEmail, toName, subject, htmlBody string) error {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + subject
	p.AddTos(sgmail.NewEmail(toName, toEmail))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/html", htmlBody))

	req := sendgrid.GetRequest(s.key, endpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email: status %d: %s", res.StatusCode, res.Body)
	}

	s.logger.Debug().Str("to", MaskAddress(toEmail)).Int("status", res.StatusCode).Msg("email accepted by sendgrid")
	return nil
}
