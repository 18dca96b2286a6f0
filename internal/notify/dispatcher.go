// Package notify fans out best-effort notifications after a submission has
// committed. Delivery failures are logged and reported as flags, never
// escalated: by the time a notification runs, the ledger row exists and
// nothing here may undo it.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/models"
	"github.com/kwartzlab/forms-service/internal/orchestrator"
)

// ChatSender posts submission notices to the treasury chat channel.
type ChatSender interface {
	Send(ctx context.Context, kind models.FormKind, sub *models.Submission, links []string) error
}

// MailSender sends the acknowledgement email.
type MailSender interface {
	Send(kind models.FormKind, sub *models.Submission, links []string) error
}

// DispatcherImpl implements orchestrator.Dispatcher over the chat and
// email channels.
type DispatcherImpl struct {
	chat   ChatSender
	mail   MailSender
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. Either channel may be nil, in which
// case it reports as not sent (except the chat default below).
func NewDispatcher(chat ChatSender, mail MailSender, logger *zap.Logger) *DispatcherImpl {
	return &DispatcherImpl{chat: chat, mail: mail, logger: logger}
}

// Notify delivers the success fan-out for one committed submission.
// Reimbursement requests skip the chat channel and mark it sent; only
// purchase approvals are posted to the chat.
func (d *DispatcherImpl) Notify(ctx context.Context, kind models.FormKind, sub *models.Submission, links []string) orchestrator.Receipt {
	receipt := orchestrator.Receipt{}

	if kind == models.ReimbursementRequest {
		receipt.ChatSent = true
	} else if d.chat != nil {
		if err := d.chat.Send(ctx, kind, sub, links); err != nil {
			d.logger.Warn("Chat notification failed",
				zap.String("id", sub.ID.String()),
				zap.Error(err))
		} else {
			receipt.ChatSent = true
		}
	}

	if d.mail != nil {
		if err := d.mail.Send(kind, sub, links); err != nil {
			d.logger.Warn("Acknowledgement email failed",
				zap.String("id", sub.ID.String()),
				zap.Error(err))
		} else {
			receipt.EmailSent = true
		}
	}

	return receipt
}
