package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver writes exported snapshots to S3 under dated keys so history
// survives beyond what the table retains. Archival is best-effort and
// optional; a nil *Archiver is a no-op.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver builds an S3 archiver for the given bucket, or nil when no
// bucket is configured.
func NewArchiver(ctx context.Context, bucket, region, profile string) (*Archiver, error) {
	if bucket == "" {
		return nil, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &Archiver{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// ArchiveSnapshot stores the snapshot JSON under exports/<date>/<time>.json.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snapshot any) error {
	if a == nil {
		return nil
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	now := time.Now().UTC()
	key := fmt.Sprintf("exports/%s/%s.json", now.Format("2006/01/02"), now.Format("15-04-05"))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting snapshot to S3: %w", err)
	}
	return nil
}
