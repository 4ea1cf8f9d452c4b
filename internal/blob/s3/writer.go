package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

// partSize is the multipart part size used by the upload manager (5 MiB, the
// S3 minimum). Smaller payloads go out as a single PutObject.
const partSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter with the S3 upload manager.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

// NewWriter uploads into c's bucket.
func NewWriter(c *Client) *Writer {
	return newWriter(c.S3(), c.Bucket())
}

func newWriter(api manager.UploadAPIClient, bucket string) *Writer {
	return &Writer{
		uploader: manager.NewUploader(api, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket: bucket,
	}
}

// Put uploads data to path.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
