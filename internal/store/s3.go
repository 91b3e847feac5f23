package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"pgdr-go/internal/config"
	"pgdr-go/internal/dr"
)

// S3 is the artifact store on an object-storage bucket. Uploads stream
// through the transfer manager, so multi-gigabyte dumps never load into
// memory.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3FromConfig builds the object-storage store from configuration.
// Empty credentials fall back to the SDK's default chain; a custom
// endpoint switches to path-style addressing for MinIO-style servers.
func NewS3FromConfig(ctx context.Context, cfg *config.S3Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading object storage config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3) Tier() dr.Tier { return dr.TierS3 }

func (s *S3) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Put uploads the content read from r under name. The byte count is
// checked after the upload; a mismatched object is removed again so a
// truncated source never masquerades as a replica.
func (s *S3) Put(name string, r io.Reader, size int64) error {
	cr := &countingReader{r: r}
	_, err := s.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   cr,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	if cr.n != size {
		_ = s.Delete(name)
		return fmt.Errorf("uploading %s: size mismatch: expected %d bytes, got %d", name, size, cr.n)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Open streams the named object and reports its size.
func (s *S3) Open(name string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("downloading %s: %w", name, err)
	}
	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// List returns every object under the store prefix.
func (s *S3) List() ([]dr.StoredFile, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	var out []dr.StoredFile
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(context.Background())
		if err != nil {
			return nil, fmt.Errorf("listing bucket: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			f := dr.StoredFile{Name: name}
			if obj.Size != nil {
				f.Size = *obj.Size
			}
			if obj.LastModified != nil {
				f.ModTime = *obj.LastModified
			}
			out = append(out, f)
		}
	}
	return out, nil
}

// Delete removes the named object. Object storage treats deleting a
// missing key as success.
func (s *S3) Delete(name string) error {
	_, err := s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the named object is present.
func (s *S3) Exists(name string) (bool, error) {
	_, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", name, err)
	}
	return true, nil
}

// Compile-time check that S3 implements dr.ArtifactStore
var _ dr.ArtifactStore = (*S3)(nil)
