// Package site mirrors a local content tree into an S3 destination. The sync
// is one-way: remote objects missing locally are deleted, changed or new
// files are uploaded, unchanged files are left alone.
package site

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/savaki/site-deployer/internal/errors"
	"github.com/savaki/site-deployer/internal/models"
)

// deleteBatchSize is the DeleteObjects API limit.
const deleteBatchSize = 1000

// API is the slice of the S3 client the deployer uses.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Deployer mirrors local trees into S3 destinations.
type Deployer struct {
	client       API
	cacheControl string
}

// New creates a Deployer. Every uploaded object carries cacheControl; an
// empty value falls back to the default short-lived policy.
func New(client API, cacheControl string) *Deployer {
	if cacheControl == "" {
		cacheControl = models.DefaultCacheControl
	}
	return &Deployer{
		client:       client,
		cacheControl: cacheControl,
	}
}

// SyncResult reports what a mirror run changed.
type SyncResult struct {
	Uploaded  int
	Deleted   int
	Unchanged int
}

// SyncPlan is the set of operations that make the remote object set mirror
// the local tree. Keys are relative to the destination prefix and the local
// tree root respectively.
type SyncPlan struct {
	Uploads   []string
	Deletes   []string
	Unchanged int
}

// SplitDestination separates a destination identifier into bucket and key
// prefix. "my-bucket" has an empty prefix; "my-bucket/feature-x" targets the
// feature-x/ prefix inside my-bucket.
func SplitDestination(destination string) (bucket, prefix string) {
	parts := strings.SplitN(destination, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Trim(parts[1], "/")
}

// Plan computes the uploads and deletions for a mirror. local maps relative
// keys to content MD5 hex digests; remote maps relative keys to ETags. A
// remote ETag that is not a plain MD5 (multipart uploads) never matches, so
// the object is re-uploaded and converges to a comparable state.
func Plan(local, remote map[string]string) SyncPlan {
	var plan SyncPlan

	for key, sum := range local {
		etag, ok := remote[key]
		if ok && etagMatches(etag, sum) {
			plan.Unchanged++
			continue
		}
		plan.Uploads = append(plan.Uploads, key)
	}

	for key := range remote {
		if _, ok := local[key]; !ok {
			plan.Deletes = append(plan.Deletes, key)
		}
	}

	sort.Strings(plan.Uploads)
	sort.Strings(plan.Deletes)
	return plan
}

func etagMatches(etag, md5hex string) bool {
	return strings.Trim(etag, `"`) == md5hex
}

// Deploy performs the one-way mirror of localTree into destination. Deletes
// run only after every upload has succeeded, so an aborted run never removes
// content whose replacement was still in flight.
func (d *Deployer) Deploy(ctx context.Context, localTree, destination string) (result *SyncResult, err error) {
	logger := zerolog.Ctx(ctx)

	defer func(begin time.Time) {
		evt := logger.Info()
		if err != nil {
			evt = logger.Error().Err(err)
		}
		if result != nil {
			evt = evt.Int("uploaded", result.Uploaded).
				Int("deleted", result.Deleted).
				Int("unchanged", result.Unchanged)
		}
		evt.Str("destination", destination).
			Dur("duration", time.Since(begin)).
			Msg("Site mirror completed")
	}(time.Now())

	info, statErr := os.Stat(localTree)
	if statErr != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: local tree %s", errors.ErrNotFound, localTree)
	}

	bucket, prefix := SplitDestination(destination)

	local, err := walkLocal(localTree)
	if err != nil {
		return nil, fmt.Errorf("%w: reading local tree: %v", errors.ErrTransfer, err)
	}

	remote, err := d.listRemote(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	plan := Plan(local, remote)
	logger.Info().
		Str("bucket", bucket).
		Str("prefix", prefix).
		Int("uploads", len(plan.Uploads)).
		Int("deletes", len(plan.Deletes)).
		Msg("Computed mirror plan")

	result = &SyncResult{Unchanged: plan.Unchanged}

	for _, key := range plan.Uploads {
		if err := d.putObject(ctx, bucket, prefix, localTree, key); err != nil {
			return result, err
		}
		result.Uploaded++
	}

	for start := 0; start < len(plan.Deletes); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(plan.Deletes))
		if err := d.deleteBatch(ctx, bucket, prefix, plan.Deletes[start:end]); err != nil {
			return result, err
		}
		result.Deleted += end - start
	}

	return result, nil
}

// walkLocal indexes the local tree as relative slash-separated keys mapped to
// MD5 hex digests.
func walkLocal(root string) (map[string]string, error) {
	files := map[string]string{}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := md5.Sum(data)
		files[filepath.ToSlash(rel)] = hex.EncodeToString(sum[:])
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// listRemote indexes the destination prefix as relative keys mapped to ETags.
func (d *Deployer) listRemote(ctx context.Context, bucket, prefix string) (map[string]string, error) {
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	objects := map[string]string{}
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.ClassifyAWS(err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), listPrefix)
			if key == "" {
				continue
			}
			objects[key] = aws.ToString(obj.ETag)
		}
	}

	return objects, nil
}

func (d *Deployer) putObject(ctx context.Context, bucket, prefix, localTree, key string) error {
	data, err := os.ReadFile(filepath.Join(localTree, filepath.FromSlash(key)))
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", errors.ErrTransfer, key, err)
	}

	remoteKey := key
	if prefix != "" {
		remoteKey = prefix + "/" + key
	}

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(remoteKey),
		Body:         bytes.NewReader(data),
		CacheControl: aws.String(d.cacheControl),
		ContentType:  aws.String(contentType(key)),
	})
	if err != nil {
		return errors.ClassifyAWS(err)
	}
	return nil
}

func (d *Deployer) deleteBatch(ctx context.Context, bucket, prefix string, keys []string) error {
	identifiers := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		remoteKey := key
		if prefix != "" {
			remoteKey = prefix + "/" + key
		}
		identifiers = append(identifiers, types.ObjectIdentifier{Key: aws.String(remoteKey)})
	}

	out, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &types.Delete{
			Objects: identifiers,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return errors.ClassifyAWS(err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return fmt.Errorf("%w: delete %s: %s", errors.ErrTransfer,
			aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return nil
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
