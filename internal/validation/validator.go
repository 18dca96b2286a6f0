package validation

import (
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kwartzlab/forms-service/internal/models"
)

// Field length and size limits applied to every submission.
const (
	MaxNameLength     = 100
	MaxEmailLength    = 255
	MaxTextLength     = 500
	MaxCommentsLength = 2000

	MaxAmount = 1_000_000 // sanity ceiling, no single expense over $1M

	MaxFileSize  = 10 * 1024 * 1024 // per file
	MaxTotalSize = 50 * 1024 * 1024 // per batch
)

var allowedExtensions = map[string]bool{
	"pdf": true, "png": true, "jpg": true, "jpeg": true, "gif": true,
	"bmp": true, "tiff": true, "xlsx": true, "xls": true, "csv": true,
	"doc": true, "docx": true, "txt": true,
}

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true, "image/jpeg": true, "image/gif": true,
	"image/bmp": true, "image/tiff": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-excel":                                          true,
	"text/csv":          true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
}

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	htmlTagRegex = regexp.MustCompile(`<[^>]*>`)
	jsURLRegex   = regexp.MustCompile(`(?i)javascript:`)
	onAttrRegex  = regexp.MustCompile(`(?i)on\w+\s*=`)
	unsafeName   = regexp.MustCompile(`[^a-zA-Z0-9.\-_]`)
)

// FieldError reports a client-fixable problem with a single field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func fieldErr(field, format string, args ...interface{}) *FieldError {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SanitizeText strips HTML tags and common XSS vectors and normalizes
// whitespace.
func SanitizeText(text string) string {
	text = htmlTagRegex.ReplaceAllString(text, "")
	text = jsURLRegex.ReplaceAllString(text, "")
	text = onAttrRegex.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// RawSubmission carries unvalidated form fields as received from the client.
type RawSubmission struct {
	FirstName string
	LastName  string
	Email     string
	Comments  string
	Expenses  []RawExpense
}

// RawExpense is one unvalidated expense line.
type RawExpense struct {
	Approval    string `json:"approval"`
	Vendor      string `json:"vendor"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	HST         string `json:"hst"`
}

// ValidateSubmission sanitizes and type-checks every field of a raw
// submission for the given form kind. It returns a clean Submission or the
// first field-level error found. Validation is never retried.
func ValidateSubmission(kind models.FormKind, raw RawSubmission) (*models.Submission, error) {
	first, err := textField("First name", raw.FirstName, MaxNameLength, true)
	if err != nil {
		return nil, err
	}
	last, err := textField("Last name", raw.LastName, MaxNameLength, true)
	if err != nil {
		return nil, err
	}

	email := strings.TrimSpace(raw.Email)
	if email == "" || len(email) > MaxEmailLength || !emailRegex.MatchString(email) {
		return nil, fieldErr("Email", "invalid email address")
	}

	comments, err := textField("Comments", raw.Comments, MaxCommentsLength, false)
	if err != nil {
		return nil, err
	}

	if len(raw.Expenses) == 0 {
		return nil, fieldErr("Expenses", "at least one expense is required")
	}

	expenses := make([]models.ExpenseLine, 0, len(raw.Expenses))
	for i, exp := range raw.Expenses {
		line, err := validateExpense(kind, i+1, exp)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, line)
	}

	return &models.Submission{
		Kind:      kind,
		FirstName: first,
		LastName:  last,
		Email:     email,
		Comments:  comments,
		Expenses:  expenses,
	}, nil
}

func validateExpense(kind models.FormKind, n int, exp RawExpense) (models.ExpenseLine, error) {
	var line models.ExpenseLine
	var err error

	if line.Vendor, err = textField(fmt.Sprintf("Vendor (expense %d)", n), exp.Vendor, MaxTextLength, true); err != nil {
		return line, err
	}
	if line.Description, err = textField(fmt.Sprintf("Description (expense %d)", n), exp.Description, MaxTextLength, true); err != nil {
		return line, err
	}
	if line.Amount, err = validateAmount(fmt.Sprintf("Amount (expense %d)", n), exp.Amount); err != nil {
		return line, err
	}

	if kind == models.ReimbursementRequest {
		if line.Approval, err = textField(fmt.Sprintf("Approval/Project (expense %d)", n), exp.Approval, MaxTextLength, true); err != nil {
			return line, err
		}
		switch exp.HST {
		case models.HSTIncluded, models.HSTExcluded, models.HSTNotCharged:
			line.HSTOption = exp.HST
		default:
			return line, fieldErr(fmt.Sprintf("HST (expense %d)", n), "invalid HST value")
		}
	}

	return line, nil
}

func textField(name, value string, maxLen int, required bool) (string, error) {
	if strings.TrimSpace(value) == "" {
		if required {
			return "", fieldErr(name, "is required")
		}
		return "", nil
	}
	sanitized := SanitizeText(value)
	if len(sanitized) > maxLen {
		return "", fieldErr(name, "exceeds maximum length of %d characters", maxLen)
	}
	return sanitized, nil
}

func validateAmount(name, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", fieldErr(name, "is required")
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return "", fieldErr(name, "must be a valid number")
	}
	if amount < 0 {
		return "", fieldErr(name, "cannot be negative")
	}
	if amount > MaxAmount {
		return "", fieldErr(name, "exceeds maximum allowed value")
	}
	return strconv.FormatFloat(amount, 'f', -1, 64), nil
}

// SanitizeFilename returns a filesystem- and key-safe version of an uploaded
// filename, or "" when nothing safe remains. The base name is capped at 200
// characters, keeping the extension.
func SanitizeFilename(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "")
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return ""
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if len(base) > 200 {
		base = base[:200]
	}
	return base + ext
}

// ValidateFile checks one attachment against the size cap and the extension
// and MIME allow-lists without touching the network. It returns the
// sanitized filename to upload under.
func ValidateFile(att models.Attachment) (string, error) {
	if att.Filename == "" {
		return "", fieldErr("File", "no file provided")
	}

	safe := SanitizeFilename(att.Filename)
	if safe == "" {
		return "", fieldErr("File", "invalid filename: %s", att.Filename)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(safe)), ".")
	if !allowedExtensions[ext] {
		return "", fieldErr("File", "file type not allowed: .%s", ext)
	}

	contentType := att.ContentType
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if !allowedMimeTypes[contentType] {
		// Fall back to a guess from the filename before rejecting.
		guessed := mime.TypeByExtension("." + ext)
		if i := strings.Index(guessed, ";"); i >= 0 {
			guessed = strings.TrimSpace(guessed[:i])
		}
		if !allowedMimeTypes[guessed] {
			return "", fieldErr("File", "file MIME type not allowed: %s", att.ContentType)
		}
	}

	if att.Size == 0 {
		return "", fieldErr("File", "file is empty: %s", att.Filename)
	}
	if att.Size > MaxFileSize {
		return "", fieldErr("File", "file too large: %s (%.1fMB), maximum is %dMB",
			att.Filename, float64(att.Size)/1024/1024, MaxFileSize/1024/1024)
	}

	return safe, nil
}

// ValidateTotalSize enforces the aggregate batch cap.
func ValidateTotalSize(atts []models.Attachment) error {
	var total int64
	for _, att := range atts {
		total += att.Size
	}
	if total > MaxTotalSize {
		return fieldErr("Files", "total file size too large (%.1fMB), maximum is %dMB",
			float64(total)/1024/1024, MaxTotalSize/1024/1024)
	}
	return nil
}
