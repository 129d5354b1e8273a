package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/pkg/crypto"
)

// Upload is one file received with a check-in.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// SaveUploadedFiles writes each upload under a fresh key of the project
// and returns the resulting file records in upload order. If any write
// fails the files already written are removed before returning.
func SaveUploadedFiles(ctx context.Context, b Backend, projectID, uploaderID string, uploads []Upload, now time.Time) ([]domain.FileRecord, error) {
	records := make([]domain.FileRecord, 0, len(uploads))
	for _, u := range uploads {
		id := uuid.NewString()
		key := ComputeDefaultKey(projectID, id)

		hr := crypto.NewHashReader(u.Content)
		n, err := b.Put(ctx, key, hr, u.Size)
		if err != nil {
			_ = DeleteFiles(context.WithoutCancel(ctx), b, records)
			return nil, fmt.Errorf("store %s: %w", u.Name, err)
		}

		contentType := u.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		records = append(records, domain.FileRecord{
			ID:          id,
			Name:        u.Name,
			Size:        n,
			ContentType: contentType,
			Hash:        hr.SHA256(),
			StorageKey:  key,
			UploadedBy:  uploaderID,
			UploadedAt:  now,
		})
	}
	return records, nil
}

// DeleteFiles removes the stored objects of records. Missing objects are
// ignored; other failures are joined.
func DeleteFiles(ctx context.Context, b Backend, records []domain.FileRecord) error {
	var errs []error
	for _, r := range records {
		if err := b.Delete(ctx, r.StorageKey); err != nil && !errors.Is(err, ErrObjectNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", r.StorageKey, err))
		}
	}
	return errors.Join(errs...)
}
