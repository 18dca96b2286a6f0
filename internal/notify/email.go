package notify

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/models"
)

// SMTPConfig holds outbound mail settings. Recipients are per form kind.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients map[models.FormKind]string
}

// EmailSender delivers the acknowledgement email for a committed
// submission over SMTP with STARTTLS.
type EmailSender struct {
	cfg    SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger *zap.Logger
}

// NewEmailSender creates an SMTP sender.
func NewEmailSender(cfg SMTPConfig, logger *zap.Logger) *EmailSender {
	return &EmailSender{cfg: cfg, send: smtp.SendMail, logger: logger}
}

// Send mails the submission summary to the form kind's recipient.
func (s *EmailSender) Send(kind models.FormKind, sub *models.Submission, links []string) error {
	recipient := s.cfg.Recipients[kind]
	if recipient == "" || s.cfg.Host == "" {
		return fmt.Errorf("email channel not configured for %s", kind)
	}

	subject := fmt.Sprintf("New %s - %s %s", kind, sub.FirstName, sub.LastName)
	body := buildEmailBody(kind, sub, links)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	if err := s.send(addr, auth, s.cfg.From, []string{recipient}, []byte(msg.String())); err != nil {
		s.logger.Error("Failed to send acknowledgement email",
			zap.String("recipient", recipient),
			zap.Error(err))
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.Info("Acknowledgement email sent",
		zap.String("form_kind", string(kind)),
		zap.String("id", sub.ID.String()),
		zap.String("recipient", recipient))
	return nil
}

func buildEmailBody(kind models.FormKind, sub *models.Submission, links []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><body><h2>New %s</h2>", kind)
	fmt.Fprintf(&b, "<p><strong>ID:</strong> %s<br>", sub.ID)
	fmt.Fprintf(&b, "<strong>Submitted by:</strong> %s %s<br>", sub.FirstName, sub.LastName)
	fmt.Fprintf(&b, "<strong>Email:</strong> %s<br>", sub.Email)
	fmt.Fprintf(&b, "<strong>Date:</strong> %s</p>", time.Now().Format("2006-01-02 15:04:05"))

	b.WriteString("<h3>Expenses</h3><table border=\"1\" cellpadding=\"6\"><tr>")
	if kind == models.ReimbursementRequest {
		b.WriteString("<th>Approval/Project</th><th>Vendor</th><th>Description</th><th>Amount</th><th>HST</th></tr>")
		for _, line := range sub.Expenses {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>$%s</td><td>%s</td></tr>",
				line.Approval, line.Vendor, line.Description, line.Amount, line.HSTOption)
		}
	} else {
		b.WriteString("<th>Vendor</th><th>Description</th><th>Amount</th></tr>")
		for _, line := range sub.Expenses {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>$%s</td></tr>",
				line.Vendor, line.Description, line.Amount)
		}
	}
	b.WriteString("</table>")
	fmt.Fprintf(&b, "<p><strong>Total:</strong> $%s</p>", totalAmount(sub.Expenses))

	if sub.Comments != "" {
		fmt.Fprintf(&b, "<h3>Comments</h3><p>%s</p>", sub.Comments)
	}

	if len(links) > 0 {
		b.WriteString("<h3>Attached Files</h3><ul>")
		for _, link := range links {
			fmt.Fprintf(&b, "<li><a href=\"%s\">View File</a></li>", link)
		}
		b.WriteString("</ul>")
	} else {
		b.WriteString("<p><em>No files attached.</em></p>")
	}

	b.WriteString("</body></html>")
	return b.String()
}
