package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
)

type inboxFake struct {
	mu        sync.Mutex
	rows      map[string]*domain.InboxDocument
	documents []domain.Document
	createErr error
	assignErr error
	creates   int
	// onCreate runs before Create returns, e.g. to cancel the job context.
	onCreate func()
}

func newInboxFake() *inboxFake {
	return &inboxFake{rows: make(map[string]*domain.InboxDocument)}
}

func (f *inboxFake) Create(_ context.Context, doc *domain.InboxDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.onCreate != nil {
		f.onCreate()
	}
	if f.createErr != nil {
		return f.createErr
	}
	for _, row := range f.rows {
		if row.Filename == doc.Filename && row.DeletedAt == nil {
			return domain.WrapError(domain.ErrDuplicate, "create inbox document", errors.New(doc.Filename))
		}
	}
	copyDoc := *doc
	f.rows[doc.ID] = &copyDoc
	return nil
}

func (f *inboxFake) ExistsByFilename(_ context.Context, filename string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Filename == filename {
			return true, nil
		}
	}
	return false, nil
}

func (f *inboxFake) HasLiveFilename(_ context.Context, filename string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Filename == filename && row.DeletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (f *inboxFake) GetByID(_ context.Context, id string) (*domain.InboxDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.DeletedAt != nil {
		return nil, domain.WrapError(domain.ErrInboxNotFound, "get inbox document", errors.New(id))
	}
	copyDoc := *row
	return &copyDoc, nil
}

func (f *inboxFake) ListPending(_ context.Context, limit, offset int) ([]domain.InboxDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.InboxDocument, 0, len(f.rows))
	for _, row := range f.rows {
		if !row.Processed && row.DeletedAt == nil {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *inboxFake) Assign(_ context.Context, req domain.AssignRequest, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return f.assignErr
	}
	row, ok := f.rows[req.InboxID]
	if !ok || row.Processed || row.DeletedAt != nil {
		return domain.WrapError(domain.ErrNotFoundOrProcessed, "assign inbox document", errors.New(req.InboxID))
	}
	now := time.Now().UTC()
	row.Processed = true
	row.ProcessedAt = &now
	doc.FileURL = row.FileURL
	doc.Content = row.Content
	f.documents = append(f.documents, *doc)
	return nil
}

func (f *inboxFake) SoftDelete(_ context.Context, id string) (*domain.InboxDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.DeletedAt != nil {
		return nil, domain.WrapError(domain.ErrInboxNotFound, "soft delete inbox document", errors.New(id))
	}
	if row.Processed {
		return nil, domain.WrapError(domain.ErrNotFoundOrProcessed, "soft delete inbox document", errors.New(id))
	}
	now := time.Now().UTC()
	row.DeletedAt = &now
	copyDoc := *row
	return &copyDoc, nil
}

func (f *inboxFake) only() *domain.InboxDocument {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		return row
	}
	return nil
}

type mappingFake struct {
	rules map[string]domain.FileMapping
	err   error
}

func newMappingFake() *mappingFake {
	rules := make(map[string]domain.FileMapping)
	for _, m := range domain.DefaultFileMappings() {
		rules[m.QRType] = m
	}
	return &mappingFake{rules: rules}
}

func (f *mappingFake) FindByTag(_ context.Context, qrType string) (*domain.FileMapping, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.rules[qrType]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *mappingFake) List(context.Context) ([]domain.FileMapping, error) {
	out := make([]domain.FileMapping, 0, len(f.rules))
	for _, m := range f.rules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QRType < out[j].QRType })
	return out, nil
}

func (f *mappingFake) SeedDefaults(context.Context, []domain.FileMapping) (int, error) {
	return 0, nil
}

type blobFake struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	saveErr   error
	signedURL string
	saves     int
}

func newBlobFake() *blobFake {
	return &blobFake{objects: make(map[string][]byte)}
}

func (f *blobFake) Save(_ context.Context, folder, originalName string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return "", f.saveErr
	}
	key := fmt.Sprintf("%s/%d_%s", folder, f.saves, originalName)
	f.objects[key] = append([]byte(nil), data...)
	return key, nil
}

func (f *blobFake) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func (f *blobFake) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *blobFake) SignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if f.signedURL == "" {
		return "", false, nil
	}
	return f.signedURL + "/" + key, true, nil
}

type extractorFake struct {
	result domain.Extraction
	// untilCancel makes Extract wait for ctx, like a slow OCR call.
	untilCancel bool
}

func (f *extractorFake) Extract(ctx context.Context, _ string, _ []byte) domain.Extraction {
	if f.untilCancel {
		<-ctx.Done()
	}
	return f.result
}

type notification struct {
	title     string
	message   string
	actionURL string
}

type notifierFake struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (f *notifierFake) NotifyAdmins(_ context.Context, title, message, actionURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{title: title, message: message, actionURL: actionURL})
	return f.err
}

type leaseFake struct {
	mu        sync.Mutex
	held      map[string]string
	acquired  []string
	extends   int
	err       error
	extendErr error
}

func newLeaseFake() *leaseFake {
	return &leaseFake{held: make(map[string]string)}
}

func (f *leaseFake) Acquire(_ context.Context, name string, _ time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	if _, busy := f.held[name]; busy {
		return "", false, nil
	}
	token := fmt.Sprintf("token-%d", len(f.acquired)+1)
	f.held[name] = token
	f.acquired = append(f.acquired, name)
	return token, true, nil
}

func (f *leaseFake) Extend(_ context.Context, name, token string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extends++
	if f.extendErr != nil {
		return f.extendErr
	}
	if f.held[name] != token {
		return domain.WrapError(domain.ErrLeaseLost, "extend lease", errors.New(name))
	}
	return nil
}

func (f *leaseFake) Release(_ context.Context, name, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[name] == token {
		delete(f.held, name)
	}
	return nil
}

func (f *leaseFake) heldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

type queueFake struct {
	mu        sync.Mutex
	published []domain.IngestJob
	err       error
}

func (f *queueFake) Publish(_ context.Context, job domain.IngestJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, job)
	return nil
}

func (f *queueFake) Consume(context.Context, func(context.Context, domain.IngestJob) error) error {
	return errors.New("not implemented")
}

// dropDirFake is a real temp directory so processor stat/read paths work.
type dropDirFake struct {
	dir      string
	writeErr error
}

func (f *dropDirFake) Path() string { return f.dir }

func (f *dropDirFake) Write(name string, data []byte) (string, error) {
	if f.writeErr != nil {
		return "", f.writeErr
	}
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *dropDirFake) List() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (f *dropDirFake) Remove(name string) error {
	return os.Remove(filepath.Join(f.dir, name))
}

type failedLogFake struct {
	jobs []domain.FailedJob
}

func (f *failedLogFake) Record(_ context.Context, failed domain.FailedJob) error {
	f.jobs = append([]domain.FailedJob{failed}, f.jobs...)
	return nil
}

func (f *failedLogFake) List(context.Context) ([]domain.FailedJob, error) {
	return f.jobs, nil
}

var (
	_ ports.InboxRepository   = (*inboxFake)(nil)
	_ ports.MappingRepository = (*mappingFake)(nil)
	_ ports.BlobStore         = (*blobFake)(nil)
	_ ports.MetadataExtractor = (*extractorFake)(nil)
	_ ports.Notifier          = (*notifierFake)(nil)
	_ ports.LeaseManager      = (*leaseFake)(nil)
	_ ports.JobQueue          = (*queueFake)(nil)
	_ ports.DropFolder        = (*dropDirFake)(nil)
	_ ports.FailedJobLog      = (*failedLogFake)(nil)
)
