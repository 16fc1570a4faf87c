// Package s3 publishes QR images to an S3 bucket, optionally fronted by CloudFront.
package s3

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"coffee-trace-api-server/config"
)

// putter is the slice of the S3 client the uploader uses.
type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Uploader struct {
	client           putter
	Bucket           string
	Region           string
	CloudFrontDomain string
}

// NewUploader builds an uploader from static credentials when they are set,
// otherwise from the default AWS credential chain.
func NewUploader(ctx context.Context, cfg config.S3Config) (*Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Uploader{
		client:           s3.NewFromConfig(sdkConfig),
		Bucket:           cfg.Bucket,
		Region:           cfg.Region,
		CloudFrontDomain: cfg.CloudFrontDomain,
	}, nil
}

// QRObjectKey is where the PNG for a batch is published.
func QRObjectKey(batchCode string) string {
	return "qr/" + batchCode + ".png"
}

// PublishQR uploads a batch's QR PNG and returns its public URL.
func (u *Uploader) PublishQR(ctx context.Context, batchCode string, png []byte) (string, error) {
	return u.Upload(ctx, png, QRObjectKey(batchCode), "image/png")
}

// Upload stores body under objectKey and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, body []byte, objectKey, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.Bucket),
		Key:          aws.String(objectKey),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", objectKey, err)
	}
	return u.URL(objectKey), nil
}

// URL prefers the CloudFront domain and falls back to the bucket endpoint.
func (u *Uploader) URL(objectKey string) string {
	if u.CloudFrontDomain != "" {
		return fmt.Sprintf("https://%s/%s", u.CloudFrontDomain, objectKey)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.Bucket, u.Region, objectKey)
}
