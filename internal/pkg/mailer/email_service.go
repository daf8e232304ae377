package mailer

import (
	"fmt"
	"html"
	"strings"

	"gopkg.in/gomail.v2"
)

type IEmailService interface {
	SendCleanupAlert(user string, keys []string, attempts int, lastErr string) error
}

type emailService struct {
	dialer      *gomail.Dialer
	senderEmail string
	senderName  string
	alertEmail  string
}

func NewEmailService(host string, port int, username, password, senderName, alertEmail string) IEmailService {
	return &emailService{
		dialer:      gomail.NewDialer(host, port, username, password),
		senderEmail: username,
		senderName:  senderName,
		alertEmail:  alertEmail,
	}
}

// SendCleanupAlert tells the operator that vector keys of a reset user could
// not be deleted and need manual attention.
func (s *emailService) SendCleanupAlert(user string, keys []string, attempts int, lastErr string) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.senderEmail, s.senderName)
	m.SetHeader("To", s.alertEmail)
	m.SetHeader("Subject", fmt.Sprintf("[ragout] orphaned document index for user %s", user))

	items := make([]string, len(keys))
	for i, k := range keys {
		items[i] = "<li><code>" + html.EscapeString(k) + "</code></li>"
	}

	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>Reset cleanup gave up</h2>
			<p>User <b>%s</b> reset their data, but these vector keys could not be deleted after %d attempts:</p>
			<ul>%s</ul>
			<p>Last error: <code>%s</code></p>
			<p>Delete them by hand or restart the bot to run the orphan sweep.</p>
		</div>
	`, html.EscapeString(user), attempts, strings.Join(items, ""), html.EscapeString(lastErr))
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send cleanup alert: %w", err)
	}
	return nil
}
