package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/models"
)

// LarkConfig holds the chat channel's bot credentials and target chat.
type LarkConfig struct {
	AppID     string
	AppSecret string
	ChatID    string
}

// auth-related error codes from the Lark open platform; any of these means
// the cached client state is stale and must be rebuilt.
var larkAuthErrorCodes = map[int]bool{
	99991661: true, // app_access_token invalid
	99991663: true, // tenant_access_token invalid
	99991668: true, // token expired
}

// ChatChannel posts submission notices to a Lark group chat. The
// authenticated SDK client is process-wide, lazily initialized on first
// send, and invalidated on authentication failure so the next send rebuilds
// it instead of failing forever on stale credentials.
type ChatChannel struct {
	cfg    LarkConfig
	logger *zap.Logger

	mu     sync.Mutex
	client *lark.Client
}

// NewChatChannel creates the chat channel. No connection is made until the
// first send.
func NewChatChannel(cfg LarkConfig, logger *zap.Logger) *ChatChannel {
	return &ChatChannel{cfg: cfg, logger: logger}
}

func (c *ChatChannel) getClient() *lark.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		c.client = lark.NewClient(c.cfg.AppID, c.cfg.AppSecret,
			lark.WithLogLevel(larkcore.LogLevelWarn),
			lark.WithEnableTokenCache(true),
		)
	}
	return c.client
}

func (c *ChatChannel) invalidate() {
	c.mu.Lock()
	c.client = nil
	c.mu.Unlock()
}

// Send posts one text message describing the committed submission.
func (c *ChatChannel) Send(ctx context.Context, kind models.FormKind, sub *models.Submission, links []string) error {
	content, err := json.Marshal(map[string]string{
		"text": buildChatText(kind, sub, links),
	})
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(c.cfg.ChatID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := c.getClient().Im.Message.Create(ctx, req)
	if err != nil {
		c.logger.Error("Failed to send chat notification",
			zap.String("chat_id", c.cfg.ChatID),
			zap.Error(err))
		return fmt.Errorf("send chat message: %w", err)
	}
	if !resp.Success() {
		if larkAuthErrorCodes[resp.Code] {
			c.logger.Warn("Chat client authentication stale, invalidating",
				zap.Int("code", resp.Code))
			c.invalidate()
		}
		c.logger.Error("Chat API returned failure",
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("chat API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

func buildChatText(kind models.FormKind, sub *models.Submission, links []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New %s %s from %s %s <%s>\n",
		kind, sub.ID, sub.FirstName, sub.LastName, sub.Email)
	for _, line := range sub.Expenses {
		fmt.Fprintf(&b, "- %s: $%s (%s)\n", line.Description, line.Amount, line.Vendor)
	}
	fmt.Fprintf(&b, "Total: $%s\n", totalAmount(sub.Expenses))
	if sub.Comments != "" {
		fmt.Fprintf(&b, "Comments: %s\n", sub.Comments)
	}
	for _, link := range links {
		fmt.Fprintf(&b, "File: %s\n", link)
	}
	return b.String()
}

func totalAmount(lines []models.ExpenseLine) string {
	var total float64
	for _, line := range lines {
		amount, err := strconv.ParseFloat(line.Amount, 64)
		if err != nil {
			continue
		}
		total += amount
	}
	return strconv.FormatFloat(total, 'f', 2, 64)
}
