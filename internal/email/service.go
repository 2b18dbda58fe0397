// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text alternative
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", headerSafe(s.config.FromName), s.config.From)
	}

	boundary := "boundary-halalchat"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", headerSafe(strings.Join(to, ", ")))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", headerSafe(subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// ContactData holds a contact form submission for email templates
type ContactData struct {
	AppName string
	Name    string
	Email   string
	Message string
}

// SendContactForward delivers a contact form submission to the support inbox.
func (s *Service) SendContactForward(support string, data ContactData) error {
	data.AppName = "Halal AI Chat"
	html, err := renderTemplate(contactForwardTemplate, data)
	if err != nil {
		return fmt.Errorf("render contact template: %w", err)
	}
	text := fmt.Sprintf("From: %s <%s>\n\n%s", data.Name, data.Email, data.Message)
	return s.SendHTMLEmail([]string{support}, "New contact message from "+data.Name, text, html)
}

// SendContactAcknowledgement confirms receipt to the person who wrote in.
func (s *Service) SendContactAcknowledgement(data ContactData) error {
	data.AppName = "Halal AI Chat"
	html, err := renderTemplate(acknowledgementTemplate, data)
	if err != nil {
		return fmt.Errorf("render acknowledgement template: %w", err)
	}
	text := fmt.Sprintf("Assalamu alaikum %s,\n\nThank you for contacting %s. We received your message and will reply soon.", data.Name, data.AppName)
	return s.SendHTMLEmail([]string{data.Email}, "We received your message", text, html)
}

func headerSafe(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

func renderTemplate(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var contactForwardTemplate = template.Must(template.New("contact").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New contact message</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0f766e; padding-bottom: 10px; margin-bottom: 20px; }
        .message { background: #f5f7fa; padding: 12px; border-radius: 4px; white-space: pre-wrap; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>
    <p><strong>{{.Name}}</strong> &lt;{{.Email}}&gt; wrote:</p>
    <div class="message">{{.Message}}</div>
</body>
</html>`))

var acknowledgementTemplate = template.Must(template.New("ack").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>We received your message</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0f766e; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>
    <p>Assalamu alaikum {{.Name}},</p>
    <p>Thank you for contacting us. We received your message and will reply as soon as we can.</p>
    <div class="footer">
        <p>You are receiving this email because this address was entered in the {{.AppName}} contact form.</p>
    </div>
</body>
</html>`))
