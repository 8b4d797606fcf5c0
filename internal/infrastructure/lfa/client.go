package lfa

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // checksum, not security
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/config"
)

// ObjectPutter is the part of the S3 API the client uses. *s3.S3 satisfies it.
type ObjectPutter interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

var _ ObjectPutter = (*s3.S3)(nil)

// Object describes an uploaded file.
type Object struct {
	Bucket   string
	Key      string
	URL      string
	ByteSize int64
	MD5      string
}

// Client uploads to one bucket.
type Client struct {
	api    ObjectPutter
	bucket string
}

// Connect creates a client for bucket from cfg. Credentials come from the
// usual AWS environment, shared config files and cfg.Profile.
func Connect(cfg config.LFAConfig, bucket string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	awsCfg := aws.Config{}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            awsCfg,
		Profile:           cfg.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return New(s3.New(sess), bucket), nil
}

// New creates a client on an existing S3 API.
func New(api ObjectPutter, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// URL returns the s3:// URL of key.
func (c *Client) URL(key string) string {
	return "s3://" + c.bucket + "/" + key
}

// Upload stores data under key.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	sum := md5.Sum(data) //nolint:gosec // checksum, not security
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}
	if _, err := c.api.PutObjectWithContext(ctx, input); err != nil {
		return Object{}, fmt.Errorf("%w: %s: %w", ErrUploadFailed, c.URL(key), err)
	}
	return Object{
		Bucket:   c.bucket,
		Key:      key,
		URL:      c.URL(key),
		ByteSize: int64(len(data)),
		MD5:      hex.EncodeToString(sum[:]),
	}, nil
}

// Key builds the object key for a file produced by the script at index:
//
//	Script:{index}/{generator}/YYYY/MM/DD/Script:{index}_{generator}_{other}{suffix}
//
// An empty other is replaced by the UTC timestamp of date.
func Key(index int, generator string, date time.Time, other, suffix string) string {
	date = date.UTC()
	if other == "" {
		other = date.Format("2006-01-02T15:04:05.000")
	}
	name := fmt.Sprintf("Script:%d", index)
	return fmt.Sprintf("%s/%s/%s/%s_%s_%s%s",
		name, generator, date.Format("2006/01/02"), name, generator, other, suffix)
}
