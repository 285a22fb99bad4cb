// Package notifier dispatches capsule emails.
package notifier

import (
	"bytes"
	"context"
	"html"
	"strings"
	"time"

	"github.com/mdouchement/timecapsule/internal/tcerror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
	"github.com/yuin/goldmark"
)

type (
	// A Message is an email addressed to a capsule owner.
	// Body is plain text, an HTML alternative is rendered from it when the transport supports it.
	Message struct {
		To      string
		Subject string
		Body    string
	}

	// A Notifier sends messages.
	// Failures are reported as *tcerror.ProviderError.
	Notifier interface {
		Send(ctx context.Context, m Message) error
	}

	// SMTPConfig holds the outgoing mail server settings.
	SMTPConfig struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
		Timeout  time.Duration
	}

	// SMTP sends messages through an SMTP relay.
	SMTP struct {
		from     string
		markdown goldmark.Markdown
		client   *mail.Client
	}

	// Log only logs messages. It is used when no SMTP relay is configured.
	Log struct {
		logger logrus.FieldLogger
	}
)

// New returns a SMTP notifier when a host is configured, otherwise a Log notifier.
func New(cfg SMTPConfig, logger logrus.FieldLogger) (Notifier, error) {
	if cfg.Host == "" {
		logger.Warn("No SMTP host configured, emails will only be logged")
		return NewLog(logger), nil
	}
	return NewSMTP(cfg)
}

// NewSMTP returns a new SMTP notifier.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.From == "" {
		return nil, errors.New("smtp sender not found")
	}

	options := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Port > 0 {
		options = append(options, mail.WithPort(cfg.Port))
	}
	if cfg.Timeout > 0 {
		options = append(options, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, options...)
	if err != nil {
		return nil, errors.Wrap(err, "could not create smtp client")
	}

	return &SMTP{
		from:     cfg.From,
		markdown: goldmark.New(),
		client:   client,
	}, nil
}

// Send implements Notifier.
func (n *SMTP) Send(ctx context.Context, m Message) error {
	msg, err := n.compose(m)
	if err != nil {
		return tcerror.NewProviderError("smtp", err)
	}

	if err = n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return tcerror.NewProviderError("smtp", err)
	}
	return nil
}

func (n *SMTP) compose(m Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat("Time Capsule", n.from); err != nil {
		return nil, errors.Wrap(err, "invalid sender")
	}
	if err := msg.To(m.To); err != nil {
		return nil, errors.Wrap(err, "invalid recipient")
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	msg.AddAlternativeString(mail.TypeTextHTML, HTML(n.markdown, m.Body))
	return msg, nil
}

// HTML renders the given plain text body as HTML.
// Line breaks are kept, the text is rendered as Markdown.
func HTML(md goldmark.Markdown, body string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(hardBreaks(body)), &buf); err != nil {
		return "<pre>" + html.EscapeString(body) + "</pre>"
	}
	return buf.String()
}

// hardBreaks turns single newlines into Markdown hard line breaks.
func hardBreaks(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")
	for i := 0; i < len(lines)-1; i++ {
		if lines[i] != "" && lines[i+1] != "" {
			lines[i] += "\\"
		}
	}
	return strings.Join(lines, "\n")
}

// NewLog returns a new Log notifier.
func NewLog(logger logrus.FieldLogger) *Log {
	return &Log{logger: logger}
}

// Send implements Notifier.
func (n *Log) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return tcerror.NewProviderError("log", err)
	}

	n.logger.WithFields(logrus.Fields{
		"to":      m.To,
		"subject": m.Subject,
		"preview": preview(m.Body, 100),
	}).Info("Email not sent (no SMTP relay)")
	return nil
}

// preview returns the first n runes of s.
func preview(s string, n int) string {
	var count int
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
