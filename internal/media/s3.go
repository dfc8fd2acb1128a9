package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf/internal/config"
)

// S3Store serves media objects from an S3-compatible object store.
// Objects are keyed {prefix}/{sourceId}/{relativePath}.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewS3Store creates an S3 media store from config.
func NewS3Store(cfg config.S3Config, log zerolog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log.With().Str("component", "s3-store").Logger(),
	}, nil
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (s *S3Store) HeadBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	return err
}

func (s *S3Store) LocalPath(item Item) string {
	return ""
}

func (s *S3Store) Open(ctx context.Context, item Item, byteRange string) (*Stream, error) {
	rel, err := CleanRelative(item.RelativePath)
	if err != nil {
		return nil, err
	}
	key := s.objectKey(item.SourceID, rel)
	in := &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}
	if byteRange != "" {
		in.Range = aws.String(byteRange)
	}

	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, item.Key())
		}
		return nil, err
	}

	stream := &Stream{
		Body:          out.Body,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: -1,
		ContentRange:  aws.ToString(out.ContentRange),
	}
	if out.ContentLength != nil {
		stream.ContentLength = *out.ContentLength
	}
	if stream.ContentType == "" || stream.ContentType == "binary/octet-stream" {
		stream.ContentType = ContentType(rel)
	}
	stream.Partial = stream.ContentRange != ""
	return stream, nil
}

func (s *S3Store) Type() string { return "s3" }

// objectKey maps an item to its key in the bucket.
func (s *S3Store) objectKey(sourceID, rel string) string {
	if s.prefix != "" {
		return s.prefix + "/" + sourceID + "/" + rel
	}
	return sourceID + "/" + rel
}
