package models

// FormKind identifies which of the two web forms produced a submission.
// The values double as the human-readable form names used in ledger
// configuration and notification subjects.
type FormKind string

const (
	ReimbursementRequest FormKind = "Reimbursement Request"
	PurchaseApproval     FormKind = "Purchase Approval"
)

// Valid reports whether the kind is one of the two known forms.
func (k FormKind) Valid() bool {
	return k == ReimbursementRequest || k == PurchaseApproval
}

// Identifier is the per-FormKind sequential submission identifier as it
// appears in the ledger: "20260042" for reimbursement requests
// (year*10000 + sequence), "PA0042" for purchase approvals.
type Identifier string

func (id Identifier) String() string { return string(id) }

// HST option literals accepted on reimbursement expense lines.
const (
	HSTIncluded   = "HST included in amount"
	HSTExcluded   = "HST excluded from amount"
	HSTNotCharged = "HST not charged"
)

// ExpenseLine is one line item of a submission. Approval and HSTOption are
// only populated for ReimbursementRequest submissions.
type ExpenseLine struct {
	Approval    string
	Vendor      string
	Description string
	Amount      string
	HSTOption   string
}

// Submission is one validated user request. ID is empty until the
// orchestrator allocates it and immutable afterwards; a submission is
// uniquely identified by (Kind, ID).
type Submission struct {
	Kind      FormKind
	ID        Identifier
	FirstName string
	LastName  string
	Email     string
	Comments  string
	Expenses  []ExpenseLine
}

// Attachment is a raw uploaded file as received from the form, prior to
// validation and upload.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// FileAsset is an attachment that has been uploaded to the remote store.
// RemoteID is the handle needed to delete the object during compensating
// rollback; Link is the shareable URL recorded in the ledger and sent to
// notification channels.
type FileAsset struct {
	Filename string
	RemoteID string
	Link     string
}

// SubmissionResult is the outcome handed back to the HTTP layer.
type SubmissionResult struct {
	OK          bool
	ID          Identifier
	FileLinks   []string
	LedgerAdded bool
	ChatSent    bool
	EmailSent   bool

	// Failure details; only meaningful when OK is false.
	FailureKind string
	Message     string
	StatusCode  int
}

// Failure builds a failed result with a caller-facing message and the
// HTTP-equivalent status the handler should return.
func Failure(kind, message string, status int) SubmissionResult {
	return SubmissionResult{
		OK:          false,
		FailureKind: kind,
		Message:     message,
		StatusCode:  status,
	}
}
