package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/faceid/internal/config"
)

// ReportStore archives job reports (clustering summaries, reconcile audits)
// as JSON objects in MinIO. Keys are prefixed by report kind and dated so
// operators can browse runs chronologically.
type ReportStore struct {
	client *minio.Client
	bucket string
}

func NewReportStore(cfg config.MinIOConfig) (*ReportStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &ReportStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *ReportStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// PutReport marshals the report and stores it under <kind>/<timestamp>.json.
// Returns the object key.
func (s *ReportStore) PutReport(ctx context.Context, kind string, report any) (string, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal %s report: %w", kind, err)
	}

	key := fmt.Sprintf("%s/%s.json", kind, time.Now().UTC().Format("2006-01-02T15-04-05.000"))
	reader := bytes.NewReader(data)
	_, err = s.client.PutObject(ctx, s.bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put report %s: %w", key, err)
	}
	return key, nil
}

// GetReport retrieves a stored report by key and unmarshals it into out.
func (s *ReportStore) GetReport(ctx context.Context, key string, out any) error {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get report %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return fmt.Errorf("read report %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal report %s: %w", key, err)
	}
	return nil
}

// ListReports returns all report keys of the given kind, in the order MinIO
// returns them (lexicographic, which is chronological for our key format).
func (s *ReportStore) ListReports(ctx context.Context, kind string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    kind + "/",
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list reports %s: %w", kind, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
