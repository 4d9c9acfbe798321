package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/parafetch/internal/manager"
)

const presignExpiry = 6 * time.Hour

type headObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type s3Source struct {
	client    headObjectAPI
	presigner presignAPI
}

func newS3Source(ctx context.Context, profile string) (*s3Source, error) {
	opts := []func(*config.LoadOptions) error{config.WithRetryMode(aws.RetryModeAdaptive)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &s3Source{client: client, presigner: s3.NewPresignClient(client)}, nil
}

// resolve reads the object's metadata and hands the engine a presigned GET,
// so S3 objects go through the same ranged fetch as any other URL.
func (s *s3Source) resolve(ctx context.Context, link string) (Target, error) {
	bucket, key, err := parseS3URL(link)
	if err != nil {
		return Target{}, err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return Target{}, fmt.Errorf("s3://%s/%s is a prefix, only single objects can be fetched", bucket, key)
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Target{}, fmt.Errorf("error getting S3 object info: %w", err)
	}
	signed, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return Target{}, fmt.Errorf("error presigning s3://%s/%s: %w", bucket, key, err)
	}

	meta := manager.Metadata{
		URL:           signed.URL,
		ContentLength: -1,
		AcceptRanges:  "bytes",
		Header:        http.Header{},
	}
	if head.ContentLength != nil {
		meta.ContentLength = *head.ContentLength
	}
	if head.ContentType != nil {
		meta.ContentType = *head.ContentType
		meta.Header.Set("Content-Type", *head.ContentType)
	}
	if head.ContentDisposition != nil {
		meta.Header.Set("Content-Disposition", *head.ContentDisposition)
	}
	if head.AcceptRanges != nil {
		meta.AcceptRanges = *head.AcceptRanges
	}
	log.Debug().Str("op", "source/s3").Str("bucket", bucket).Str("key", key).Int64("size", meta.ContentLength).Msg("object resolved")
	return Target{
		Link:    link,
		URL:     signed.URL,
		Options: []manager.TaskOption{manager.WithMetadata(meta)},
	}, nil
}

func parseS3URL(link string) (string, string, error) {
	rest := link
	if IsS3(link) {
		rest = link[len("s3://"):]
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid S3 URL format: %q", link)
	}
	return bucket, key, nil
}
