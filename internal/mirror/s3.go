package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"hoard-go/internal/checksum"
	"hoard-go/internal/config"
	"hoard-go/internal/hoard"
)

// checksumMetaKey is the user metadata key holding the artifact SHA-256.
const checksumMetaKey = "sha256"

// S3API is the subset of the S3 client used by the mirror.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Uploader streams an object to S3, splitting it into parts when large.
type Uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Mirror stores artifacts as objects under <prefix>/<subdir>/<name>.
type S3Mirror struct {
	client   S3API
	uploader Uploader
	bucket   string
	prefix   string
}

// NewS3Mirror builds an S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain applies.
func NewS3Mirror(ctx context.Context, cfg config.MirrorConfig) (*S3Mirror, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	})
	return NewS3MirrorWithClient(client, manager.NewUploader(client), cfg.S3Bucket, cfg.S3Prefix), nil
}

// NewS3MirrorWithClient wires an S3Mirror to an existing client.
func NewS3MirrorWithClient(client S3API, uploader Uploader, bucket, prefix string) *S3Mirror {
	return &S3Mirror{client: client, uploader: uploader, bucket: bucket, prefix: prefix}
}

func (m *S3Mirror) key(subdir, name string) string {
	return path.Join(m.prefix, subdir, name)
}

// Sync uploads localPath unless an object with the same size and checksum
// metadata already exists.
func (m *S3Mirror) Sync(ctx context.Context, subdir, localPath string) (bool, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", localPath, err)
	}
	sum, err := checksum.Compute(localPath)
	if err != nil {
		return false, err
	}
	key := m.key(subdir, filepath.Base(localPath))

	head, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		if aws.ToInt64(head.ContentLength) == info.Size() && head.Metadata[checksumMetaKey] == sum {
			return false, nil
		}
	case isNotFound(err):
	default:
		return false, fmt.Errorf("checking s3://%s/%s: %w", m.bucket, key, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(m.bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: map[string]string{checksumMetaKey: sum},
	})
	if err != nil {
		return false, fmt.Errorf("uploading s3://%s/%s: %w", m.bucket, key, err)
	}
	return true, nil
}

func (m *S3Mirror) Delete(ctx context.Context, subdir, name string) error {
	key := m.key(subdir, name)
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting s3://%s/%s: %w", m.bucket, key, err)
	}
	return nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (m *S3Mirror) ValidateSetup(ctx context.Context) error {
	if _, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(m.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", m.bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

// Compile-time check that S3Mirror implements hoard.Mirror interface
var _ hoard.Mirror = (*S3Mirror)(nil)
