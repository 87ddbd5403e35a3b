package locator

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"parcelhub/pkg/errors"
)

const (
	s3Scheme     = "s3://"
	s3PartSize   = 10 * 1024 * 1024
	s3ListPageSz = 1000
)

// S3Options configures access to an s3:// data root. Empty fields fall back to
// the default AWS credential chain and region resolution.
type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// s3Client is the subset of *s3.Client the source uses
type s3Client interface {
	s3.ListObjectsV2APIClient
	manager.DownloadAPIClient
}

// S3Source reads files stored under one bucket prefix
type S3Source struct {
	client s3Client
	bucket string
	prefix string
}

// NewS3Source resolves AWS configuration and returns a source for uri
func NewS3Source(ctx context.Context, uri string, opts S3Options) (*S3Source, error) {
	bucket, prefix, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to load AWS configuration").
			WithSuggestions("Set AWS_REGION and AWS credentials, or PARCELHUB_S3_REGION")
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Source(client, bucket, prefix), nil
}

func newS3Source(client s3Client, bucket, prefix string) *S3Source {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(uri, s3Scheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errors.ConfigError(fmt.Sprintf("invalid S3 data location %q", uri), "data_dir")
	}
	return bucket, prefix, nil
}

// List returns object names directly under the prefix
func (s *S3Source) List(ctx context.Context) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.prefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(s3ListPageSz),
	})

	var names []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to list S3 objects").
				WithContext("bucket", s.bucket).
				WithContext("prefix", s.prefix)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Open downloads the object into memory
func (s *S3Source) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	downloader := manager.NewDownloader(s.client, func(d *manager.Downloader) {
		d.PartSize = s3PartSize
	})
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + name),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if stderrors.As(err, &noKey) {
			return nil, errors.PathNotFound(s.Location(name), err)
		}
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to download "+s.Location(name)).
			WithContext("bucket", s.bucket)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func (s *S3Source) Location(name string) string {
	return s3Scheme + path.Join(s.bucket, s.prefix, name)
}
