package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

const inboxColumns = `id, filename, original_name, source, file_url, mime_type, size_bytes, content, ocr_status, processed, processed_at, received_at, deleted_at`

type InboxRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewInboxRepository(db *sql.DB) *InboxRepository {
	return &InboxRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *InboxRepository) Create(ctx context.Context, doc *domain.InboxDocument) error {
	result, err := r.db.ExecContext(ctx, `
INSERT INTO inbox_documents (`+inboxColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (filename) WHERE deleted_at IS NULL DO NOTHING
`,
		doc.ID, doc.Filename, doc.OriginalName, string(doc.Source), doc.FileURL, doc.MimeType, doc.SizeBytes,
		doc.Content, string(doc.OCRStatus), doc.Processed, doc.ProcessedAt, doc.ReceivedAt, doc.DeletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrDuplicate, "insert inbox document", err)
		}
		return fmt.Errorf("insert inbox document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert inbox document rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDuplicate, "insert inbox document", fmt.Errorf("filename=%s", doc.Filename))
	}
	return nil
}

// ExistsByFilename includes discarded rows so a discarded file is never
// re-ingested by a rescan.
func (r *InboxRepository) ExistsByFilename(ctx context.Context, filename string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM inbox_documents WHERE filename = $1)
`, filename).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check inbox filename: %w", err)
	}
	return exists, nil
}

// HasLiveFilename ignores discarded rows, matching the partial unique index.
func (r *InboxRepository) HasLiveFilename(ctx context.Context, filename string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM inbox_documents WHERE filename = $1 AND deleted_at IS NULL)
`, filename).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check live inbox filename: %w", err)
	}
	return exists, nil
}

func (r *InboxRepository) GetByID(ctx context.Context, id string) (*domain.InboxDocument, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+inboxColumns+`
FROM inbox_documents
WHERE id = $1 AND deleted_at IS NULL
`, id)

	doc, err := scanInbox(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrInboxNotFound, "get inbox document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan inbox document: %w", err)
	}
	return &doc, nil
}

func (r *InboxRepository) ListPending(ctx context.Context, limit, offset int) ([]domain.InboxDocument, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+inboxColumns+`
FROM inbox_documents
WHERE processed = false AND deleted_at IS NULL
ORDER BY received_at DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pending inbox documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.InboxDocument, 0)
	for rows.Next() {
		doc, err := scanInbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inbox document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbox documents: %w", err)
	}
	return out, nil
}

// Assign flips the inbox row to processed and inserts the archive document
// in one transaction. The conditional update is what makes it single-use.
func (r *InboxRepository) Assign(ctx context.Context, req domain.AssignRequest, doc *domain.Document) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assign tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now()
	err = tx.QueryRowContext(ctx, `
UPDATE inbox_documents
SET processed = true, processed_at = $2
WHERE id = $1 AND processed = false AND deleted_at IS NULL
RETURNING file_url, content
`, req.InboxID, now).Scan(&doc.FileURL, &doc.Content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WrapError(domain.ErrNotFoundOrProcessed, "assign inbox document", fmt.Errorf("id=%s", req.InboxID))
		}
		return fmt.Errorf("mark inbox document processed: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO documents (id, inbox_id, employee_id, name, category, file_url, content, expiry_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, doc.ID, req.InboxID, doc.EmployeeID, doc.Name, doc.Category, doc.FileURL, doc.Content, doc.ExpiryDate, doc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrNotFoundOrProcessed, "insert document", err)
		}
		return fmt.Errorf("insert document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assign tx: %w", err)
	}
	return nil
}

func (r *InboxRepository) SoftDelete(ctx context.Context, id string) (*domain.InboxDocument, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE inbox_documents
SET deleted_at = $2
WHERE id = $1 AND processed = false AND deleted_at IS NULL
RETURNING `+inboxColumns, id, r.now())

	doc, err := scanInbox(row)
	if err == nil {
		return &doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("soft delete inbox document: %w", err)
	}

	var processed bool
	err = r.db.QueryRowContext(ctx, `
SELECT processed FROM inbox_documents WHERE id = $1 AND deleted_at IS NULL
`, id).Scan(&processed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, domain.WrapError(domain.ErrInboxNotFound, "soft delete inbox document", fmt.Errorf("id=%s", id))
	case err != nil:
		return nil, fmt.Errorf("check inbox document state: %w", err)
	default:
		return nil, domain.WrapError(domain.ErrNotFoundOrProcessed, "soft delete inbox document", fmt.Errorf("id=%s", id))
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInbox(row rowScanner) (domain.InboxDocument, error) {
	var doc domain.InboxDocument
	var source, ocrStatus string
	err := row.Scan(
		&doc.ID,
		&doc.Filename,
		&doc.OriginalName,
		&source,
		&doc.FileURL,
		&doc.MimeType,
		&doc.SizeBytes,
		&doc.Content,
		&ocrStatus,
		&doc.Processed,
		&doc.ProcessedAt,
		&doc.ReceivedAt,
		&doc.DeletedAt,
	)
	if err != nil {
		return domain.InboxDocument{}, err
	}
	doc.Source = domain.Source(source)
	doc.OCRStatus = domain.OCRStatus(ocrStatus)
	return doc, nil
}
