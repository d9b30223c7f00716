package mirroring

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/logging"
)

// s3Pusher mirrors dump files into an S3 bucket, keyed by file name under
// the configured prefix.
type s3Pusher struct {
	client *s3.Client
	cfg    icatapi.S3Push
}

// Errors:
//
//    - icat-error-io -- when credentials cannot be loaded or the bucket
//        cannot be reached
func newS3Pusher(ctx context.Context, cfg icatapi.S3Push) (*s3Pusher, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					SigningRegion:     cfg.Region,
				}, nil
			})),
	)
	if err != nil {
		return nil, icatapi.ErrorIo("loading aws configuration", "", err)
	}
	client := s3.NewFromConfig(awsConfig)

	// make sure we can access the specified bucket
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, icatapi.ErrorIo("checking mirror bucket", cfg.Bucket, err)
	}

	return &s3Pusher{client: client, cfg: cfg}, nil
}

func (p *s3Pusher) key(localPath string) string {
	base := filepath.Base(localPath)
	if p.cfg.Prefix != nil {
		return path.Join(*p.cfg.Prefix, base)
	}
	return base
}

// has probes for one object.  A 404 means absent; anything else the probe
// cannot answer is an error.
func (p *s3Pusher) has(ctx context.Context, key string) (bool, error) {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var responseError *awshttp.ResponseError
		if errors.As(err, &responseError) && responseError.ResponseError.HTTPStatusCode() == http.StatusNotFound {
			return false, nil
		}
		return false, icatapi.ErrorIo("probing mirror object", key, err)
	}
	return true, nil
}

// Errors:
//
//    - icat-error-io -- when the file cannot be read or the transfer fails
func (p *s3Pusher) Push(ctx context.Context, localPath string) error {
	log := logging.Ctx(ctx)
	key := p.key(localPath)
	present, err := p.has(ctx, key)
	if err != nil {
		return err
	}
	if present {
		log.Debug(LOG_TAG, "bucket already has %q, skipping", key)
		return nil
	}
	f, err := os.Open(localPath)
	if err != nil {
		return icatapi.ErrorIo("opening a dump file", localPath, err)
	}
	defer f.Close()

	uploader := manager.NewUploader(p.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return icatapi.ErrorIo("uploading a dump file", key, err)
	}
	return nil
}
