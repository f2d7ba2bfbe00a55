package domain

import "time"

// TemplateStatus is the lifecycle state of a template index entry.
type TemplateStatus string

const (
	TemplateStatusActive  TemplateStatus = "active"
	TemplateStatusDeleted TemplateStatus = "deleted"
)

// TemplateFields are the user-editable fields of a payment template.
type TemplateFields struct {
	Name          string `json:"template_name"`
	PayeeName     string `json:"payee_name"`
	PayeeAccount  string `json:"payee_account"`
	DefaultAmount string `json:"default_amount"`
	Description   string `json:"description"`
}

// TemplateUpdate is a partial update of TemplateFields. A nil field is left
// unchanged; a non-nil field replaces the current value, so an empty string
// clears it.
type TemplateUpdate struct {
	Name          *string `json:"template_name"`
	PayeeName     *string `json:"payee_name"`
	PayeeAccount  *string `json:"payee_account"`
	DefaultAmount *string `json:"default_amount"`
	Description   *string `json:"description"`
}

// Apply returns f with every field set in u replaced.
func (u TemplateUpdate) Apply(f TemplateFields) TemplateFields {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&f.Name, u.Name)
	set(&f.PayeeName, u.PayeeName)
	set(&f.PayeeAccount, u.PayeeAccount)
	set(&f.DefaultAmount, u.DefaultAmount)
	set(&f.Description, u.Description)
	return f
}

// Template is an index entry in LedgerDocument.TemplatesIndex.
// Full content lives in the content store under ContentRef; the index keeps
// a copy of the fields for listing. BackupPayload holds the serialized
// content while PendingStore is set.
type Template struct {
	ID    string `json:"template_id"`
	Owner string `json:"owner"`
	TemplateFields
	ContentRef    string         `json:"cid,omitempty"`
	Status        TemplateStatus `json:"status"`
	PendingStore  bool           `json:"pending_ipfs"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
	BackupPayload string         `json:"_backup_data,omitempty"`
}

// Active reports whether the template is visible to its owner.
func (t *Template) Active() bool {
	return t.Status != TemplateStatusDeleted
}

// TemplateContent is the document stored in the content store.
type TemplateContent struct {
	Type       string `json:"type"`
	TemplateID string `json:"template_id"`
	Owner      string `json:"owner"`
	TemplateFields
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TemplateContentType tags template documents in the content store.
const TemplateContentType = "payment_template"

// TemplateView is a template as returned to callers: index metadata merged
// with the content-store document (or the backup payload when unavailable).
type TemplateView struct {
	ID    string `json:"template_id"`
	Owner string `json:"owner"`
	TemplateFields
	ContentRef   string         `json:"cid,omitempty"`
	Status       TemplateStatus `json:"status"`
	PendingStore bool           `json:"pending_ipfs"`
	FromBackup   bool           `json:"from_backup,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
