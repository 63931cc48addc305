package storageadapter

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/log"
)

// S3Options configures the S3Adapter alternative backend, for deployments
// that write straight to a bucket rather than through the generic HTTP PUT
// contract (§4.6: "object-store-agnostic").
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// S3Adapter satisfies the same shape as Adapter but uploads via the AWS
// SDK's managed multipart uploader instead of a raw HTTP PUT.
type S3Adapter struct {
	opts     S3Options
	uploader *manager.Uploader
	cdnBase  string
}

func NewS3Adapter(ctx context.Context, opts S3Options, cdnBaseURL string) (*S3Adapter, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Adapter{
		opts:     opts,
		uploader: manager.NewUploader(client),
		cdnBase:  cdnBaseURL,
	}, nil
}

func (a *S3Adapter) Upload(ctx context.Context, renderID, finalPath, thumbPath, publicID string) (finalURL, thumbURL string, err error) {
	videoKey := a.key(fmt.Sprintf("renders/videos/%s.mp4", publicID))
	thumbKey := a.key(fmt.Sprintf("renders/thumbs/%s.jpg", publicID))

	if err := a.uploadOne(ctx, finalPath, videoKey, "video/mp4"); err != nil {
		return "", "", renderworkererrors.NewTransientError(fmt.Errorf("uploading final artifact to s3: %w", err))
	}
	if err := a.uploadOne(ctx, thumbPath, thumbKey, "image/jpeg"); err != nil {
		return "", "", renderworkererrors.NewTransientError(fmt.Errorf("uploading thumbnail to s3: %w", err))
	}

	log.Log(renderID, "uploaded render artifacts to s3", "bucket", a.opts.Bucket, "video_key", videoKey)
	return a.cdnBase + "/" + videoKey, a.cdnBase + "/" + thumbKey, nil
}

func (a *S3Adapter) key(suffix string) string {
	if a.opts.Prefix == "" {
		return suffix
	}
	return a.opts.Prefix + "/" + suffix
}

func (a *S3Adapter) uploadOne(ctx context.Context, localPath, key, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.opts.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	return err
}
