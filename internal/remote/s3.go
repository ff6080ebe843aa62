package remote

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

// S3API is the subset of the S3 client the syncer needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Syncer mirrors a local index directory to and from a bucket prefix.
type Syncer struct {
	client S3API
	bucket string
	prefix string
}

// New builds a syncer from the default AWS credential chain.
func New(ctx context.Context, cfg config.RemoteConfig) (*Syncer, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return NewSyncer(client, cfg.Bucket, cfg.Prefix), nil
}

func NewSyncer(client S3API, bucket, prefix string) *Syncer {
	return &Syncer{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *Syncer) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}

func (s *Syncer) key(rel string) string {
	rel = filepath.ToSlash(rel)
	if s.prefix == "" {
		return rel
	}
	return s.prefix + "/" + rel
}

func (s *Syncer) listPrefix() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + "/"
}

// Upload puts every file under localDir below the prefix, then deletes remote
// objects with no local counterpart so the prefix mirrors localDir.
func (s *Syncer) Upload(ctx context.Context, localDir string) (int, error) {
	var uploaded []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		key := s.key(rel)
		if err := s.putFile(ctx, p, key); err != nil {
			return err
		}
		uploaded = append(uploaded, key)
		return nil
	})
	if err != nil {
		return 0, err
	}

	remote, err := s.List(ctx)
	if err != nil {
		return len(uploaded), err
	}
	for _, key := range remote {
		if slices.Contains(uploaded, key) {
			continue
		}
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return len(uploaded), &models.RemoteTransportError{Op: "s3 delete " + key, Err: err}
		}
		log.Debug().Str("key", key).Msg("Deleted stale remote object")
	}

	log.Info().Str("remote", s.String()).Int("files", len(uploaded)).Msg("Uploaded index")
	return len(uploaded), nil
}

func (s *Syncer) putFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return &models.RemoteTransportError{Op: "s3 put " + key, Err: err}
	}
	return nil
}

// List returns every object key below the prefix in lexical order.
func (s *Syncer) List(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.listPrefix()),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &models.RemoteTransportError{Op: "s3 list " + s.String(), Err: err}
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			keys = append(keys, *obj.Key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Download writes every object below the prefix into localDir, keeping the
// relative layout. It fails with models.ErrNotFound when the prefix is empty.
func (s *Syncer) Download(ctx context.Context, localDir string) (int, error) {
	keys, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, models.NotFoundf("no objects under %s", s.String())
	}

	for _, key := range keys {
		rel := strings.TrimPrefix(key, s.listPrefix())
		dst, err := safeJoin(localDir, rel)
		if err != nil {
			return 0, err
		}
		if err := s.getFile(ctx, key, dst); err != nil {
			return 0, err
		}
	}

	log.Info().Str("remote", s.String()).Int("files", len(keys)).Msg("Downloaded index")
	return len(keys), nil
}

func (s *Syncer) getFile(ctx context.Context, key, dst string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &models.RemoteTransportError{Op: "s3 get " + key, Err: err}
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	file, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(file, out.Body); err != nil {
		file.Close()
		return &models.RemoteTransportError{Op: "s3 get " + key, Err: err}
	}
	return file.Close()
}

// safeJoin resolves a slash-separated key below root, rejecting keys that
// would escape it.
func safeJoin(root, rel string) (string, error) {
	clean := path.Clean(rel)
	if !fs.ValidPath(clean) || clean == "." {
		return "", models.InvalidInputf("object key %q escapes the target directory", rel)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}
