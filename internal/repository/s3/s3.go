// Package s3 serves a package index from an S3 or MinIO bucket laid out as
// <prefix><project>/<file>. Resources are delivered as presigned GET URLs,
// so clients in redirect mode download straight from the bucket.
package s3

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wheelhouse/wheelhouse/internal/logging"
	"github.com/wheelhouse/wheelhouse/internal/metrics"
	"github.com/wheelhouse/wheelhouse/internal/repository"
)

const presignExpiry = 15 * time.Minute

// Config holds bucket location and credentials. Endpoint and the static
// keys are optional; without them the default AWS resolution chain is used.
type Config struct {
	Bucket       string
	Prefix       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
}

type Repository struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

// New creates a repository serving cfg.Bucket. The bucket is probed once at
// startup; a failed probe is logged but not fatal, the bucket may only
// allow object reads.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
				}, nil
			},
		)
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	repo := &Repository{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  prefix,
	}

	start := time.Now()
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		metrics.RecordS3Operation("head_bucket", time.Since(start), false)
		logging.Error("bucket check failed",
			logging.String("bucket", cfg.Bucket), logging.Err(err))
	} else {
		metrics.RecordS3Operation("head_bucket", time.Since(start), true)
	}

	return repo, nil
}

func (r *Repository) GetProjectList(ctx context.Context, _ *repository.RequestContext) (repository.ProjectList, error) {
	start := time.Now()
	defer func() { metrics.ObserveBackendLookup("list", time.Since(start)) }()

	seen := make(map[string]struct{})
	var projects []repository.ProjectEntry

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(r.bucket),
		Prefix:    aws.String(r.prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		opStart := time.Now()
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordS3Operation("list_projects", time.Since(opStart), false)
			metrics.RecordBackendError("s3")
			return repository.ProjectList{}, fmt.Errorf("failed to list bucket %s: %w", r.bucket, err)
		}
		metrics.RecordS3Operation("list_projects", time.Since(opStart), true)

		for _, cp := range page.CommonPrefixes {
			dir := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), r.prefix), "/")
			if dir == "" {
				continue
			}
			name := repository.CanonicalizeName(dir)
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			projects = append(projects, repository.ProjectEntry{Name: name})
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })

	return repository.ProjectList{
		Meta:     repository.Meta{APIVersion: repository.RepositoryVersion},
		Projects: projects,
	}, nil
}

func (r *Repository) GetProjectPage(ctx context.Context, project string, _ *repository.RequestContext) (repository.ProjectDetail, error) {
	start := time.Now()
	defer func() { metrics.ObserveBackendLookup("page", time.Since(start)) }()

	keyPrefix := r.prefix + project + "/"
	var files []repository.File

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		opStart := time.Now()
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.RecordS3Operation("list_objects", time.Since(opStart), false)
			metrics.RecordBackendError("s3")
			return repository.ProjectDetail{}, fmt.Errorf("failed to list objects for %s: %w", project, err)
		}
		metrics.RecordS3Operation("list_objects", time.Since(opStart), true)

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := path.Base(key)
			if name == "" || strings.HasSuffix(key, "/") {
				continue
			}
			files = append(files, repository.File{
				Filename: name,
				URL:      "s3://" + r.bucket + "/" + key,
				Size:     aws.ToInt64(obj.Size),
			})
		}
	}
	if len(files) == 0 {
		return repository.ProjectDetail{}, &repository.PackageNotFoundError{Package: project}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })

	return repository.ProjectDetail{
		Meta:  repository.Meta{APIVersion: repository.RepositoryVersion},
		Name:  project,
		Files: files,
	}, nil
}

func (r *Repository) GetResource(ctx context.Context, project, resource string, _ *repository.RequestContext) (repository.Resource, error) {
	start := time.Now()
	defer func() { metrics.ObserveBackendLookup("resource", time.Since(start)) }()

	if strings.Contains(resource, "/") {
		return nil, &repository.ResourceUnavailableError{Resource: resource}
	}
	key := r.prefix + project + "/" + resource

	opStart := time.Now()
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordS3Operation("head_object", time.Since(opStart), false)
		return nil, &repository.ResourceUnavailableError{Resource: resource}
	}
	metrics.RecordS3Operation("head_object", time.Since(opStart), true)

	opStart = time.Now()
	signed, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		metrics.RecordS3Operation("presign", time.Since(opStart), false)
		metrics.RecordBackendError("s3")
		return nil, fmt.Errorf("failed to presign %s: %w", key, err)
	}
	metrics.RecordS3Operation("presign", time.Since(opStart), true)

	return &repository.HttpResource{URL: signed.URL}, nil
}
