package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const minMultipartSize = 12 << 20

// S3Store keeps objects in an S3 compatible bucket. Cloudflare R2 is served by
// the same implementation with a custom endpoint
type S3Store struct {
	c       *s3.Client
	bucket  *string
	baseURL string
}

// NewS3 connects to the bucket configured under aws.* and checks that it exists
func NewS3(ctx context.Context) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			viper.GetString("aws.access_key"),
			viper.GetString("aws.secret_access_key"),
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Region = viper.GetString("aws.region")
		if ep := viper.GetString("aws.endpoint"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
			o.UsePathStyle = true
		}
	})

	st := NewS3FromClient(client, viper.GetString("aws.bucket"), viper.GetString("aws.public_url"))
	if err := st.checkBucket(ctx); err != nil {
		return nil, err
	}

	return st, nil
}

// NewR2 connects to the Cloudflare R2 bucket configured under cloudflare.*
func NewR2(ctx context.Context) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			viper.GetString("cloudflare.access_key_id"),
			viper.GetString("cloudflare.secret_access_key"),
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", viper.GetString("cloudflare.account_id")))
		o.Region = "auto"
	})

	st := NewS3FromClient(client, viper.GetString("cloudflare.bucket"), viper.GetString("cloudflare.public_url"))
	if err := st.checkBucket(ctx); err != nil {
		return nil, err
	}

	return st, nil
}

// NewS3FromClient wraps an already configured client. baseURL is the public
// address objects are reachable at and may be empty
func NewS3FromClient(c *s3.Client, bucket, baseURL string) *S3Store {
	return &S3Store{
		c:       c,
		bucket:  aws.String(bucket),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *S3Store) checkBucket(ctx context.Context) error {
	_, err := s.c.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: s.bucket,
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" {
				return fmt.Errorf("bucket '%s' does not exist", *s.bucket)
			}
		}

		return fmt.Errorf("failed to check if bucket exists, %w", err)
	}

	return nil
}

func (s *S3Store) locator(key string) Locator {
	if s.baseURL != "" {
		return Locator{Key: key, URL: s.baseURL + "/" + key}
	}

	return Locator{Key: key, URL: "s3://" + *s.bucket + "/" + key}
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Locator, error) {
	if err := checkKey(key); err != nil {
		return Locator{}, err
	}

	uploader := manager.NewUploader(s.c)
	if size > minMultipartSize {
		uploader = manager.NewUploader(s.c, func(u *manager.Uploader) {
			u.Concurrency = 5
			u.PartSize = 6 << 20
		})
	}

	input := &s3.PutObjectInput{
		Bucket:       s.bucket,
		Key:          aws.String(key),
		Body:         r,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("private, no-store"),
	}

	if _, err := uploader.Upload(ctx, input); err != nil {
		return Locator{}, fmt.Errorf("%w: failed to upload %s, %w", ErrUnavailable, key, err)
	}

	zap.L().Debug("Object uploaded", zap.String("key", key), zap.Int64("size", size))
	return s.locator(key), nil
}

func (s *S3Store) Get(ctx context.Context, key string) (*Object, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	out, err := s.c.GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return &Object{
		Body:        out.Body,
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	_, err := s.c.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: s.bucket,
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}

	return false
}
