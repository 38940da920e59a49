package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"drive-go/internal/drive"
)

const defaultS3Region = "us-east-1"

// S3Options configures an S3Vault.
type S3Options struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint points the client at an S3-compatible server and switches to
	// path-style addressing.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Vault stores snapshots as objects under <prefix>/snapshots/ in a bucket.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Vault creates an S3 vault. Credentials come from opts when set and
// from the default AWS chain otherwise.
func NewS3Vault(ctx context.Context, name string, opts S3Options) (*S3Vault, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}
	region := opts.Region
	if region == "" {
		region = defaultS3Region
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3Vault{
		name:     name,
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (v *S3Vault) Name() string { return v.name }

func (v *S3Vault) snapshotPrefix() string {
	return path.Join(v.prefix, "snapshots") + "/"
}

func (v *S3Vault) key(name string) string {
	return v.snapshotPrefix() + name
}

// PutSnapshot uploads a snapshot. The body is checked against size while it
// streams, so a mismatch aborts the upload.
func (v *S3Vault) PutSnapshot(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := drive.ValidateSnapshotName(name); err != nil {
		return err
	}

	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(v.bucket),
		Key:         aws.String(v.key(name)),
		Body:        &exactReader{r: r, want: size},
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	return nil
}

// GetSnapshot downloads a snapshot and writes it to w.
func (v *S3Vault) GetSnapshot(ctx context.Context, name string, w io.Writer) error {
	if err := drive.ValidateSnapshotName(name); err != nil {
		return err
	}

	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", drive.ErrSnapshotNotFound, name)
		}
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	return nil
}

// ListSnapshots lists the snapshot objects, newest first. Objects whose key
// is not a snapshot name are skipped.
func (v *S3Vault) ListSnapshots(ctx context.Context) ([]drive.SnapshotInfo, error) {
	prefix := v.snapshotPrefix()
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(prefix),
	})

	var infos []drive.SnapshotInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			created, ok := drive.SnapshotTime(name)
			if !ok {
				continue
			}
			infos = append(infos, drive.SnapshotInfo{Name: name, Size: aws.ToInt64(obj.Size), CreatedAt: created})
		}
	}
	sortNewestFirst(infos)
	return infos, nil
}

// ValidateSetup checks that the bucket exists and the credentials can reach it.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

// exactReader fails the read that proves the stream is not exactly want bytes.
type exactReader struct {
	r    io.Reader
	want int64
	n    int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	e.n += int64(n)
	if e.n > e.want {
		return n, fmt.Errorf("size mismatch: expected %d bytes, got more", e.want)
	}
	if err == io.EOF && e.n != e.want {
		return n, fmt.Errorf("size mismatch: expected %d bytes, got %d", e.want, e.n)
	}
	return n, err
}

// Compile-time check that S3Vault implements drive.Vault interface
var _ drive.Vault = (*S3Vault)(nil)
