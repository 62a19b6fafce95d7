// Package email provides email sending capabilities via SMTP.
package email

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service.
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email.
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendGroupInvitation sends an invitation email to a prospective member.
func (s *Service) SendGroupInvitation(to, inviterName, groupName, publicURL string) error {
	subject := fmt.Sprintf("%s invited you to join %q on Roomly", inviterName, groupName)
	body := fmt.Sprintf(
		"%s invited you to join the group %q.\n\n"+
			"Open your invitations to accept or decline:\n%s/invitations\n",
		inviterName, groupName, publicURL,
	)
	return s.SendEmail([]string{to}, subject, body)
}

// SendGroupExpired tells a member their group expired before reaching its
// formation threshold.
func (s *Service) SendGroupExpired(to, groupName, publicURL string) error {
	subject := fmt.Sprintf("Your group %q has expired", groupName)
	body := fmt.Sprintf(
		"The group %q did not reach enough members before its deadline and has expired.\n\n"+
			"You can create or join another group here:\n%s/groups\n",
		groupName, publicURL,
	)
	return s.SendEmail([]string{to}, subject, body)
}

// SendVerification sends the email-verification link after sign-up.
func (s *Service) SendVerification(to, token, publicURL string) error {
	subject := "Verify your Roomly account"
	body := fmt.Sprintf(
		"Welcome to Roomly!\n\n"+
			"Verify your email address to finish setting up your account:\n"+
			"%s/verify-email?token=%s\n",
		publicURL, token,
	)
	return s.SendEmail([]string{to}, subject, body)
}

// SendPasswordReset sends a password reset link.
func (s *Service) SendPasswordReset(to, token, publicURL string) error {
	subject := "Reset your Roomly password"
	body := fmt.Sprintf(
		"A password reset was requested for your account.\n\n"+
			"Reset your password here (link expires in 1 hour):\n"+
			"%s/reset-password?token=%s\n\n"+
			"If you did not request this, you can ignore this email.\n",
		publicURL, token,
	)
	return s.SendEmail([]string{to}, subject, body)
}
