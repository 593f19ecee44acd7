// Package store implements the archive record store on top of the S3 bucket
// that holds the campaign archives (archives/<yyyy>/<mm>/<dd-slug>/...).
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	appconfig "github.com/ignite/newsletter-dispatch/internal/config"
	"github.com/ignite/newsletter-dispatch/internal/archive"
	"github.com/ignite/newsletter-dispatch/internal/pkg/logger"
)

// ErrNotFound is returned when a campaign has no record at its coordinates.
var ErrNotFound = errors.New("archive record not found")

// s3API is the subset of the S3 client the store uses. Tests substitute a fake.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store reads and writes archive records in the campaign bucket.
type Store struct {
	client s3API
	bucket string
}

// Entry is one listed archive record with its storage timestamp.
type Entry struct {
	Coords       archive.Coordinates
	Record       archive.Record
	LastModified time.Time
}

// Patch names the record fields an update overwrites. Nil fields are left
// untouched; all other config.json fields are preserved as-is.
type Patch struct {
	Status *archive.Status
	SentAt *time.Time
}

// New creates a store against the configured bucket using the default AWS
// credential chain (optionally a named profile outside CI).
func New(ctx context.Context, cfg appconfig.StorageConfig) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if profile := cfg.GetAWSProfile(); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
	}, nil
}

// NewWithClient creates a store with an injected S3 client (used by tests).
func NewWithClient(client s3API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Get fetches and parses one campaign's config.json.
// Returns ErrNotFound when the record does not exist.
func (s *Store) Get(ctx context.Context, coords archive.Coordinates) (*archive.Record, error) {
	data, err := s.getObject(ctx, coords.ConfigKey())
	if err != nil {
		return nil, err
	}

	var rec archive.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", coords.ConfigKey(), err)
	}
	return &rec, nil
}

// ListAll fetches every archive record in the bucket. Malformed paths and
// unreadable records are logged and skipped so one broken archive cannot
// block the scheduled trigger.
func (s *Store) ListAll(ctx context.Context) ([]Entry, error) {
	keys, err := s.listConfigKeys(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		coords, ok := archive.ParseConfigKey(k.key)
		if !ok {
			logger.Warn("skipping object with unexpected archive path", "key", k.key)
			continue
		}

		rec, err := s.Get(ctx, coords)
		if err != nil {
			logger.Warn("skipping unreadable archive record", "key", k.key, "error", err.Error())
			continue
		}
		entries = append(entries, Entry{Coords: coords, Record: *rec, LastModified: k.lastModified})
	}
	return entries, nil
}

// FindLatestByStatus returns the newest non-terminal record whose status
// matches. Newness is last-modified descending; equal timestamps fall back to
// the coordinate path descending so the selection is deterministic.
// Returns (nil, nil) when no record matches.
func (s *Store) FindLatestByStatus(ctx context.Context, status archive.Status) (*Entry, error) {
	keys, err := s.listConfigKeys(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].lastModified.Equal(keys[j].lastModified) {
			return keys[i].lastModified.After(keys[j].lastModified)
		}
		return keys[i].key > keys[j].key
	})

	for _, k := range keys {
		coords, ok := archive.ParseConfigKey(k.key)
		if !ok {
			logger.Warn("skipping object with unexpected archive path", "key", k.key)
			continue
		}

		rec, err := s.Get(ctx, coords)
		if err != nil {
			logger.Warn("skipping unreadable archive record", "key", k.key, "error", err.Error())
			continue
		}
		if rec.EffectiveStatus().Terminal() {
			continue
		}
		if rec.EffectiveStatus() == status {
			return &Entry{Coords: coords, Record: *rec, LastModified: k.lastModified}, nil
		}
	}
	return nil, nil
}

// Update overwrites only the fields named in the patch, preserving every
// other field of the stored config.json. The write is not conditional; the
// dispatch lease is what guards against concurrent writers.
func (s *Store) Update(ctx context.Context, coords archive.Coordinates, patch Patch) error {
	data, err := s.getObject(ctx, coords.ConfigKey())
	if err != nil {
		return err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing %s: %w", coords.ConfigKey(), err)
	}

	if patch.Status != nil {
		raw["status"] = string(*patch.Status)
	}
	if patch.SentAt != nil {
		raw["sentAt"] = patch.SentAt.UTC().Format(time.RFC3339)
	}

	updated, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing %s: %w", coords.ConfigKey(), err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(coords.ConfigKey()),
		Body:        bytes.NewReader(updated),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", coords.ConfigKey(), err)
	}
	return nil
}

// GetObject fetches an arbitrary object under the archive layout (the content
// loader reads mail.html through this). Returns ErrNotFound for missing keys.
func (s *Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	return s.getObject(ctx, key)
}

func (s *Store) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

type listedKey struct {
	key          string
	lastModified time.Time
}

func (s *Store) listConfigKeys(ctx context.Context) ([]listedKey, error) {
	var keys []listedKey

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("archives/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing archives: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !strings.HasSuffix(*obj.Key, "/config.json") {
				continue
			}
			lm := time.Time{}
			if obj.LastModified != nil {
				lm = *obj.LastModified
			}
			keys = append(keys, listedKey{key: *obj.Key, lastModified: lm})
		}
	}
	return keys, nil
}
