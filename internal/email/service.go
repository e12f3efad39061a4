// Package email sends jotlog's transactional mail: the confirmation link a
// fresh workspace owner gets and password reset links. Anything heavier
// than plain SMTP (providers, queues, digests) lives outside this package.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	texttemplate "text/template"
)

// Config holds the SMTP settings. All fields come from the environment;
// with an empty Host or From the service stays disabled and the API hands
// verification tokens back in responses instead.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	cfg  Config
	addr string
}

func NewService(cfg Config) *Service {
	return &Service{cfg: cfg, addr: cfg.Host + ":" + cfg.Port}
}

// IsConfigured reports whether enough SMTP settings are present to send.
func (s *Service) IsConfigured() bool {
	return s.cfg.Host != "" && s.cfg.Port != "" && s.cfg.From != ""
}

// message carries everything the templates need. Expiry is spelled out in
// the copy because the link stops working without any further notice.
type message struct {
	UserName  string
	ActionURL string
	Expiry    string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	return s.send([]string{to}, "Confirm your Jotlog email",
		message{UserName: userName, ActionURL: verificationURL, Expiry: "24 hours"},
		verifyText, verifyHTML)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	return s.send([]string{to}, "Reset your Jotlog password",
		message{UserName: userName, ActionURL: resetURL, Expiry: "1 hour"},
		resetText, resetHTML)
}

// send renders both parts and delivers one multipart/alternative message.
// The plain text part comes first and carries the full copy, so text-only
// clients get the link rather than a pointer at the HTML part.
func (s *Service) send(to []string, subject string, data message, textTmpl *texttemplate.Template, htmlTmpl *template.Template) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	var textBody, htmlBody bytes.Buffer
	if err := textTmpl.Execute(&textBody, data); err != nil {
		return fmt.Errorf("render text part: %w", err)
	}
	if err := htmlTmpl.Execute(&htmlBody, data); err != nil {
		return fmt.Errorf("render html part: %w", err)
	}

	var body bytes.Buffer
	alt := multipart.NewWriter(&body)
	part, err := alt.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
	if err != nil {
		return fmt.Errorf("text part: %w", err)
	}
	if _, err := part.Write(textBody.Bytes()); err != nil {
		return fmt.Errorf("text part: %w", err)
	}
	part, err = alt.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
	if err != nil {
		return fmt.Errorf("html part: %w", err)
	}
	if _, err := part.Write(htmlBody.Bytes()); err != nil {
		return fmt.Errorf("html part: %w", err)
	}
	if err := alt.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", alt.Boundary())
	msg.Write(body.Bytes())

	return smtp.SendMail(s.addr, s.auth(), s.cfg.From, to, msg.Bytes())
}

// auth returns nil when no username is set; a local dev mailcatcher takes
// unauthenticated relay and rejects a blank PLAIN exchange.
func (s *Service) auth() smtp.Auth {
	if s.cfg.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
}

var verifyText = texttemplate.Must(texttemplate.New("verify-text").Parse(`Hi {{.UserName}},

Your Jotlog workspace is ready. Confirm your email address and start
capturing notes:

{{.ActionURL}}

The link works for {{.Expiry}}. If you did not sign up for Jotlog, ignore
this message and the account stays inactive.
`))

var resetText = texttemplate.Must(texttemplate.New("reset-text").Parse(`Hi {{.UserName}},

Someone asked to reset the password for your Jotlog account. If that was
you, pick a new one here:

{{.ActionURL}}

The link works for {{.Expiry}} and only once. If you did not ask for a
reset, your password is unchanged and nothing needs doing.
`))

var verifyHTML = template.Must(template.New("verify-html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2430; max-width: 560px; margin: 0 auto; padding: 24px;">
  <p style="font-size: 18px; font-weight: 600;">Jotlog</p>
  <p>Hi {{.UserName}},</p>
  <p>Your workspace is ready. Confirm your email address and start capturing notes.</p>
  <p><a href="{{.ActionURL}}" style="display: inline-block; padding: 10px 20px; background: #2563eb; color: #fff; text-decoration: none; border-radius: 6px;">Confirm email</a></p>
  <p style="font-size: 13px; color: #6b7280;">Or open this link: <span style="word-break: break-all;">{{.ActionURL}}</span></p>
  <p style="font-size: 13px; color: #6b7280;">The link works for {{.Expiry}}. If you did not sign up for Jotlog, ignore this message and the account stays inactive.</p>
</body>
</html>`))

var resetHTML = template.Must(template.New("reset-html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2430; max-width: 560px; margin: 0 auto; padding: 24px;">
  <p style="font-size: 18px; font-weight: 600;">Jotlog</p>
  <p>Hi {{.UserName}},</p>
  <p>Someone asked to reset the password for your Jotlog account. If that was you, pick a new one below.</p>
  <p><a href="{{.ActionURL}}" style="display: inline-block; padding: 10px 20px; background: #2563eb; color: #fff; text-decoration: none; border-radius: 6px;">Reset password</a></p>
  <p style="font-size: 13px; color: #6b7280;">Or open this link: <span style="word-break: break-all;">{{.ActionURL}}</span></p>
  <p style="font-size: 13px; color: #6b7280;">The link works for {{.Expiry}} and only once. If you did not ask for a reset, your password is unchanged.</p>
</body>
</html>`))
