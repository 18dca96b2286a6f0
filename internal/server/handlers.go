package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kwartzlab/forms-service/internal/journal"
	"github.com/kwartzlab/forms-service/internal/models"
	"github.com/kwartzlab/forms-service/internal/validation"
)

// Submitter runs the submission saga for one validated request.
type Submitter interface {
	Submit(ctx context.Context, kind models.FormKind, sub *models.Submission, atts []models.Attachment) models.SubmissionResult
}

// CaptchaVerifier checks client captcha tokens.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// JournalReader serves the reconciliation endpoint.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Handlers holds the HTTP handlers for the submission endpoints.
type Handlers struct {
	submitter Submitter
	captcha   CaptchaVerifier
	journal   JournalReader
	logger    *zap.Logger
}

// NewHandlers creates the handler set. journal may be nil.
func NewHandlers(submitter Submitter, captcha CaptchaVerifier, journalReader JournalReader, logger *zap.Logger) *Handlers {
	return &Handlers{
		submitter: submitter,
		captcha:   captcha,
		journal:   journalReader,
		logger:    logger,
	}
}

// SubmitReimbursement handles POST /submit.
func (h *Handlers) SubmitReimbursement(c *gin.Context) {
	h.handleSubmission(c, models.ReimbursementRequest)
}

// SubmitPurchaseApproval handles POST /submit-PA.
func (h *Handlers) SubmitPurchaseApproval(c *gin.Context) {
	h.handleSubmission(c, models.PurchaseApproval)
}

func (h *Handlers) handleSubmission(c *gin.Context, kind models.FormKind) {
	ctx := c.Request.Context()

	// Captcha first, before any other work on the request.
	token := c.PostForm("captchaToken")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Captcha token missing"})
		return
	}
	ok, err := h.captcha.Verify(ctx, token)
	if err != nil || !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Captcha verification failed. Please try again."})
		return
	}

	raw, err := parseFormFields(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := validation.ValidateSubmission(kind, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	atts, err := readAttachments(c)
	if err != nil {
		h.logger.Error("Failed to read uploaded files", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded files"})
		return
	}
	if err := validation.ValidateTotalSize(atts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.submitter.Submit(ctx, kind, sub, atts)
	if !result.OK {
		c.JSON(result.StatusCode, gin.H{"error": result.Message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": successMessage(kind, result),
		"details": gin.H{
			"id":             result.ID.String(),
			"files_uploaded": result.FileLinks,
			"ledger":         result.LedgerAdded,
			"chat":           result.ChatSent,
			"email":          result.EmailSent,
		},
	})
}

// Health handles GET /health, reporting process liveness only. It
// deliberately checks no dependencies.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "forms-service"})
}

// JournalRecent handles GET /api/v1/journal for operator reconciliation.
func (h *Handlers) JournalRecent(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	entries, err := h.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read journal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func successMessage(kind models.FormKind, result models.SubmissionResult) string {
	message := string(kind) + " Submission Succeeded"
	if !result.ChatSent || !result.EmailSent {
		message += ", but one or more integrations failed. Please contact the treasurer"
	}
	return message + "."
}

func parseFormFields(c *gin.Context) (validation.RawSubmission, error) {
	raw := validation.RawSubmission{
		FirstName: c.PostForm("firstName"),
		LastName:  c.PostForm("lastName"),
		Email:     c.PostForm("email"),
		Comments:  c.PostForm("comments"),
	}

	expensesJSON := c.PostForm("expenses")
	if expensesJSON == "" {
		return raw, errNoExpenses
	}
	if err := json.Unmarshal([]byte(expensesJSON), &raw.Expenses); err != nil {
		return raw, errBadExpenses
	}
	return raw, nil
}

var (
	errNoExpenses  = &formError{"No expenses provided"}
	errBadExpenses = &formError{"Invalid expenses data format"}
)

type formError struct{ msg string }

func (e *formError) Error() string { return e.msg }

// readAttachments collects every file part of the multipart form, in a
// stable order across field names.
func readAttachments(c *gin.Context) ([]models.Attachment, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if err == http.ErrNotMultipart {
			return nil, nil
		}
		return nil, err
	}

	keys := make([]string, 0, len(form.File))
	for key := range form.File {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var atts []models.Attachment
	for _, key := range keys {
		for _, header := range form.File[key] {
			if header.Filename == "" {
				continue
			}
			f, err := header.Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(io.LimitReader(f, validation.MaxFileSize+1))
			f.Close()
			if err != nil {
				return nil, err
			}
			atts = append(atts, models.Attachment{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        int64(len(data)),
				Data:        data,
			})
		}
	}
	return atts, nil
}
