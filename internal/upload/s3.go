package upload

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/matheus3301/tribe/internal/content"
)

// S3Config configures the S3 backend. Endpoint switches to path-style
// addressing for S3-compatible stores such as MinIO.
type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Gateway uploads payloads with PutObject.
type S3Gateway struct {
	cfg S3Config
	api putObjectAPI
	log *zap.Logger
}

// NewS3Gateway builds an S3 client from cfg.
func NewS3Gateway(ctx context.Context, cfg S3Config, log *zap.Logger) (*S3Gateway, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("upload: s3 region and bucket are required")
	}
	if cfg.PublicBase == "" {
		return nil, errors.New("upload: s3 public base url is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Gateway(cfg, client, log), nil
}

func newS3Gateway(cfg S3Config, api putObjectAPI, log *zap.Logger) *S3Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &S3Gateway{cfg: cfg, api: api, log: log}
}

// Upload stores payload under kind/id and returns its public URL.
func (g *S3Gateway) Upload(ctx context.Context, kind content.Kind, id string, payload []byte) (string, error) {
	key := ObjectKey(kind, id)
	_, err := g.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(g.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		uerr := &Error{Temporary: true, Err: err}
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			uerr.Status = re.HTTPStatusCode()
			uerr.Temporary = temporaryStatus(uerr.Status)
		}
		g.log.Warn("s3 upload failed",
			zap.String("key", key),
			zap.Int("status", uerr.Status),
			zap.Bool("temporary", uerr.Temporary),
			zap.Error(err),
		)
		return "", uerr
	}
	g.log.Debug("s3 upload complete", zap.String("key", key), zap.Int("bytes", len(payload)))
	return strings.TrimRight(g.cfg.PublicBase, "/") + "/" + key, nil
}
