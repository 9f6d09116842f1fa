package artifacts

import (
	"context"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Syncer pushes finished artifacts to an S3-compatible bucket, modeling
// the pipeline's GCS_DATA_BUCKET/GCS_WEBSITE_BUCKET sync parameters
// against the S3 SDK already in the dependency set, since no GCS SDK is
// available here. Any S3-compatible endpoint (including GCS's
// interoperability XML API) can be targeted via the client's custom
// endpoint resolver at construction time.
type Syncer struct {
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// NewSyncer builds a Syncer against bucket using the default AWS SDK
// credential chain (environment, shared config, or an assumed role),
// matching how the teacher's deployment tooling resolves credentials.
func NewSyncer(ctx context.Context, bucket string, log zerolog.Logger) (*Syncer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return &Syncer{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		log:      log.With().Str("component", "artifact_sync").Logger(),
	}, nil
}

// SyncFile uploads the file at localPath to key in the configured
// bucket, used after each stage writes its artifacts to disk.
func (s *Syncer) SyncFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("local_path", localPath).Str("key", key).Msg("artifact synced")
	return nil
}

// SyncDir uploads every regular file directly under dir, keyed by its
// base name, used for a one-shot full sync of the findb/ directory.
func (s *Syncer) SyncDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := s.SyncFile(ctx, path, e.Name()); err != nil {
			return err
		}
	}
	return nil
}
