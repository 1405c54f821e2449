package artifacts

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the S3 uploader.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader uploads the captured CLI output to AWS S3.
type S3Uploader struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Uploader loads AWS config and prepares an uploader.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return newS3Uploader(s3.NewFromConfig(awsCfg), cfg), nil
}

func newS3Uploader(client objectPutter, cfg S3Config) *S3Uploader {
	return &S3Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
}

// UploadLog uploads the log file and returns a s3:// URI. The key is
// <prefix>/<owner>/<repo>/runs/<run id>/<ref>/treebeard.log.
func (u *S3Uploader) UploadLog(ctx context.Context, repository, runID, ref, logPath string) (string, error) {
	key := u.objectKey(repository, "runs", runID, sanitizeRef(ref), "treebeard.log")
	file, err := os.Open(logPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.bucket,
		Key:         &key,
		Body:        file,
		ContentType: ptr("text/plain"),
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

func (u *S3Uploader) objectKey(parts ...string) string {
	if u.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{u.prefix}, parts...)...)
}

// sanitizeRef flattens a ref into one key segment.
func sanitizeRef(ref string) string {
	ref = strings.TrimPrefix(ref, "refs/")
	ref = strings.ReplaceAll(ref, "/", "_")
	if ref == "" {
		return "unknown"
	}
	return ref
}

func ptr[T any](v T) *T {
	return &v
}
