package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/troveview/internal/domain"
)

const (
	// partSize is the S3 multipart minimum of 5 MiB.
	partSize int64 = 5 << 20
	// DefaultMultipartAbove is the body size above which Put switches to a
	// multipart upload.
	DefaultMultipartAbove = 16 << 20
)

// Writer implements domain.BlobWriter.
type Writer struct {
	c              *Client
	multipartAbove int
}

// NewWriter creates a Writer on c.
func NewWriter(c *Client) *Writer {
	return &Writer{c: c, multipartAbove: DefaultMultipartAbove}
}

// Put uploads body to key. Bodies above the multipart threshold go through
// the upload manager in 5 MiB parts.
func (w *Writer) Put(ctx context.Context, key string, body []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         aws.String(w.c.Key(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}

	if len(body) <= w.multipartAbove {
		if _, err := w.c.s3.PutObject(ctx, in); err != nil {
			return fmt.Errorf("s3blob: put %s: %w", key, err)
		}
		return nil
	}

	uploader := manager.NewUploader(w.c.s3, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if _, err := uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3blob: multipart put %s (%d bytes): %w", key, len(body), err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
