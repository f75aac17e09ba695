package runstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"incident-agent/internal/config"
)

// ErrArtifactNotFound is returned when a run has no artifact with the
// requested name.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore persists named blobs per run. Put overwrites.
type ArtifactStore interface {
	Put(ctx context.Context, runID, name string, content []byte) error
	Get(ctx context.Context, runID, name string) ([]byte, error)
}

// pgArtifacts keeps artifact blobs in the run_artifacts table. This is the
// default backend; artifacts here are small JSON and text documents.
type pgArtifacts struct {
	pool *pgxpool.Pool
}

func (a *pgArtifacts) Put(ctx context.Context, runID, name string, content []byte) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO run_artifacts (run_id, name, content, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (run_id, name) DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, runID, name, content)
	if err != nil {
		return fmt.Errorf("store artifact %s: %w", name, err)
	}
	return nil
}

func (a *pgArtifacts) Get(ctx context.Context, runID, name string) ([]byte, error) {
	var content []byte
	err := a.pool.QueryRow(ctx, `
		SELECT content FROM run_artifacts WHERE run_id = $1 AND name = $2
	`, runID, name).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", name, err)
	}
	return content, nil
}

// S3Artifacts offloads artifact blobs to an S3-compatible object store under
// runs/<run_id>/<name>.
type S3Artifacts struct {
	client *s3.Client
	bucket string
}

// NewS3Artifacts builds the S3 backend from config.
func NewS3Artifacts(ctx context.Context, cfg config.Config) (*S3Artifacts, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Artifacts{client: client, bucket: cfg.ArtifactS3Bucket}, nil
}

// NewS3Client creates an S3 client honoring a custom endpoint (minio and
// friends) when configured.
func NewS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArtifactS3Region),
	}
	if cfg.ArtifactS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArtifactS3Endpoint,
					HostnameImmutable: cfg.ArtifactS3PathStyle,
					SigningRegion:     cfg.ArtifactS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArtifactS3PathStyle
	}), nil
}

func (a *S3Artifacts) key(runID, name string) string {
	return path.Join("runs", runID, name)
}

func (a *S3Artifacts) Put(ctx context.Context, runID, name string, content []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key(runID, name)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentTypeFor(name)),
	})
	if err != nil {
		return fmt.Errorf("upload artifact %s: %w", name, err)
	}
	return nil
}

func (a *S3Artifacts) Get(ctx context.Context, runID, name string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(runID, name)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("download artifact %s: %w", name, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func contentTypeFor(name string) string {
	if path.Ext(name) == ".json" {
		return "application/json"
	}
	return "text/plain"
}
