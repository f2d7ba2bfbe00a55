// Package template manages owner-scoped payment templates. Template content
// lives in the content store; the ledger document keeps the index.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/idhash"
	"dtl-ledger-indexer/internal/ledger"
	"dtl-ledger-indexer/internal/observability"
	"dtl-ledger-indexer/internal/storage"
)

// ErrNameRequired is returned when a template is created without a name.
var ErrNameRequired = fmt.Errorf("%w: template_name is required", ledger.ErrValidation)

// Service implements the template operations.
//
// Content-store calls never happen while the ledger lock is held: content is
// uploaded first and the resulting reference is committed in a short update.
type Service struct {
	store   *ledger.Store
	content storage.ContentStore
	logger  *log.Logger
	metrics *observability.Metrics
}

// Options configures a Service.
type Options struct {
	Store   *ledger.Store
	Content storage.ContentStore
	Logger  *log.Logger
	Metrics *observability.Metrics
}

// NewService creates a template service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:   opts.Store,
		content: opts.Content,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// WriteResult is returned by Create and Update.
type WriteResult struct {
	TemplateID string `json:"template_id"`
	ContentRef string `json:"cid,omitempty"`
	Pending    bool   `json:"pending_ipfs"`
}

// Create stores a new template. A content-store failure does not fail the
// call: the entry is created as pending with the payload kept inline.
func (s *Service) Create(ctx context.Context, owner string, fields domain.TemplateFields) (*WriteResult, error) {
	owner = domain.NormalizeAddress(owner)
	if !domain.ValidAddress(owner) {
		return nil, ledger.ErrInvalidAddress
	}
	if fields.Name == "" {
		return nil, ErrNameRequired
	}

	now := s.store.Now()
	id := idhash.NewTemplateID()
	payload, err := json.Marshal(domain.TemplateContent{
		Type:           domain.TemplateContentType,
		TemplateID:     id,
		Owner:          owner,
		TemplateFields: fields,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}

	ref, pending := s.put(ctx, "create", payload)

	err = s.store.Update(ctx, func(doc *domain.LedgerDocument) error {
		tpl := &domain.Template{
			ID:             id,
			Owner:          owner,
			TemplateFields: fields,
			ContentRef:     ref,
			Status:         domain.TemplateStatusActive,
			PendingStore:   pending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if pending {
			tpl.BackupPayload = string(payload)
		}
		doc.TemplatesIndex[id] = tpl
		s.metrics.SetPendingTemplates(countPending(doc))
		return nil
	})
	s.metrics.RecordMutation("template_create", err)
	if err != nil {
		return nil, err
	}
	return &WriteResult{TemplateID: id, ContentRef: ref, Pending: pending}, nil
}

// Get returns the template merged with its stored content. Deleted
// templates are reported as not found.
func (s *Service) Get(ctx context.Context, id string) (*domain.TemplateView, error) {
	tpl, err := s.store.Template(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tpl.Active() {
		return nil, fmt.Errorf("%s: %w", id, ledger.ErrTemplateNotFound)
	}

	view := newView(tpl)
	if content, ok := s.fetch(ctx, tpl.ContentRef); ok {
		view.TemplateFields = content.TemplateFields
		return view, nil
	}
	if tpl.BackupPayload != "" {
		var content domain.TemplateContent
		if err := json.Unmarshal([]byte(tpl.BackupPayload), &content); err == nil {
			view.TemplateFields = content.TemplateFields
			view.FromBackup = true
		} else {
			s.logger.Printf("template %s: unreadable backup payload: %v", id, err)
		}
	}
	return view, nil
}

// ListByOwner returns the owner's active templates, newest first. Only
// index fields are returned; the content store is not consulted.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]*domain.TemplateView, error) {
	owner = domain.NormalizeAddress(owner)
	doc, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.TemplateView, 0)
	for _, tpl := range doc.TemplatesIndex {
		if tpl.Owner == owner && tpl.Active() {
			out = append(out, newView(tpl))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Update applies the fields set in update to the template and stores the
// result as a new content document. A field set to "" is cleared, except the
// name, which stays required. CreatedAt is preserved.
func (s *Service) Update(ctx context.Context, id, owner string, update domain.TemplateUpdate) (*WriteResult, error) {
	owner = domain.NormalizeAddress(owner)

	current, err := s.store.Template(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkEditable(current, id, owner); err != nil {
		return nil, err
	}

	merged := update.Apply(current.TemplateFields)
	if merged.Name == "" {
		return nil, ErrNameRequired
	}

	now := s.store.Now()
	payload, err := json.Marshal(domain.TemplateContent{
		Type:           domain.TemplateContentType,
		TemplateID:     id,
		Owner:          owner,
		TemplateFields: merged,
		CreatedAt:      current.CreatedAt,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}

	ref, pending := s.put(ctx, "update", payload)

	err = s.store.Update(ctx, func(doc *domain.LedgerDocument) error {
		tpl := doc.TemplatesIndex[id]
		if err := checkEditable(tpl, id, owner); err != nil {
			return err
		}
		tpl.TemplateFields = merged
		tpl.ContentRef = ref
		tpl.PendingStore = pending
		tpl.BackupPayload = ""
		if pending {
			tpl.BackupPayload = string(payload)
		}
		tpl.UpdatedAt = now
		s.metrics.SetPendingTemplates(countPending(doc))
		return nil
	})
	s.metrics.RecordMutation("template_update", err)
	if err != nil {
		return nil, err
	}
	return &WriteResult{TemplateID: id, ContentRef: ref, Pending: pending}, nil
}

// Delete soft-deletes a template. The index entry stays in the document
// with status deleted.
func (s *Service) Delete(ctx context.Context, id, owner string) error {
	owner = domain.NormalizeAddress(owner)
	err := s.store.Update(ctx, func(doc *domain.LedgerDocument) error {
		tpl := doc.TemplatesIndex[id]
		if err := checkEditable(tpl, id, owner); err != nil {
			return err
		}
		now := s.store.Now()
		tpl.Status = domain.TemplateStatusDeleted
		tpl.DeletedAt = &now
		tpl.UpdatedAt = now
		s.metrics.SetPendingTemplates(countPending(doc))
		return nil
	})
	s.metrics.RecordMutation("template_delete", err)
	return err
}

// RetryPending uploads the backup payload of every pending template and
// commits the new references. It returns the number of templates resolved.
// Templates changed since the upload are left for the next attempt.
func (s *Service) RetryPending(ctx context.Context) (int, error) {
	doc, err := s.store.Load(ctx)
	if err != nil {
		return 0, err
	}

	uploaded := make(map[string]pendingUpload)
	for id, tpl := range doc.TemplatesIndex {
		if !tpl.PendingStore || tpl.BackupPayload == "" {
			continue
		}
		ref, err := s.content.Put(ctx, []byte(tpl.BackupPayload))
		if err != nil {
			s.metrics.RecordContentStoreError("retry")
			s.logger.Printf("template %s: retry upload failed: %v", id, err)
			continue
		}
		uploaded[id] = pendingUpload{ref: ref, payload: tpl.BackupPayload}
	}
	if len(uploaded) == 0 {
		return 0, nil
	}

	resolved := 0
	err = s.store.Update(ctx, func(doc *domain.LedgerDocument) error {
		resolved = 0
		for id, up := range uploaded {
			tpl, ok := doc.TemplatesIndex[id]
			if !ok || !tpl.PendingStore || tpl.BackupPayload != up.payload {
				continue
			}
			tpl.ContentRef = up.ref
			tpl.PendingStore = false
			tpl.BackupPayload = ""
			resolved++
		}
		s.metrics.SetPendingTemplates(countPending(doc))
		return nil
	})
	s.metrics.RecordMutation("template_retry", err)
	if err != nil {
		return 0, err
	}
	if resolved > 0 {
		s.logger.Printf("resolved %d pending templates", resolved)
	}
	return resolved, nil
}

type pendingUpload struct {
	ref     string
	payload string
}

// put uploads payload, reporting pending on failure.
func (s *Service) put(ctx context.Context, op string, payload []byte) (string, bool) {
	ref, err := s.content.Put(ctx, payload)
	if err != nil {
		s.metrics.RecordContentStoreError(op)
		s.logger.Printf("content store %s failed, template kept pending: %v", op, err)
		return "", true
	}
	return ref, false
}

// fetch loads template content; any failure is reported as absence.
func (s *Service) fetch(ctx context.Context, ref string) (*domain.TemplateContent, bool) {
	if ref == "" {
		return nil, false
	}
	data, err := s.content.Get(ctx, ref)
	if err != nil {
		s.metrics.RecordContentStoreError("get")
		return nil, false
	}
	var content domain.TemplateContent
	if err := json.Unmarshal(data, &content); err != nil {
		s.logger.Printf("content %s is not a template: %v", ref, err)
		return nil, false
	}
	return &content, true
}

func checkEditable(tpl *domain.Template, id, owner string) error {
	switch {
	case tpl == nil:
		return fmt.Errorf("%s: %w", id, ledger.ErrTemplateNotFound)
	case tpl.Owner != owner:
		return fmt.Errorf("template %s: %w", id, ledger.ErrPermissionDenied)
	case !tpl.Active():
		return fmt.Errorf("template %s: %w", id, ledger.ErrAlreadyDeleted)
	}
	return nil
}

func newView(tpl *domain.Template) *domain.TemplateView {
	return &domain.TemplateView{
		ID:             tpl.ID,
		Owner:          tpl.Owner,
		TemplateFields: tpl.TemplateFields,
		ContentRef:     tpl.ContentRef,
		Status:         tpl.Status,
		PendingStore:   tpl.PendingStore,
		CreatedAt:      tpl.CreatedAt,
		UpdatedAt:      tpl.UpdatedAt,
	}
}

func countPending(doc *domain.LedgerDocument) int {
	n := 0
	for _, tpl := range doc.TemplatesIndex {
		if tpl.PendingStore && tpl.Active() {
			n++
		}
	}
	return n
}

// Label formats a template for display next to a transfer:
// "name / payee", or whichever of the two is set.
func Label(fields domain.TemplateFields) string {
	switch {
	case fields.Name != "" && fields.PayeeName != "":
		return fields.Name + " / " + fields.PayeeName
	case fields.Name != "":
		return fields.Name
	default:
		return fields.PayeeName
	}
}

// ResolveLabel loads the template content stored under ref and returns its
// display label. ok is false when the content is unavailable.
func (s *Service) ResolveLabel(ctx context.Context, ref string) (string, bool) {
	content, ok := s.fetch(ctx, ref)
	if !ok {
		return "", false
	}
	label := Label(content.TemplateFields)
	return label, label != ""
}
