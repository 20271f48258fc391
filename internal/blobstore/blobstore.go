// Package blobstore implements the blob-store side of the two-store
// consistency model (§4.14): the original upload, extracted text, lexical
// index and per-chunk bodies all live here under a `{uuid}/...` key
// scheme, keyed by the relational store's document uuid.
//
// Grounded directly on intelligencedev-manifold's
// internal/objectstore/s3.go: same AWS SDK v2 client construction
// (static credentials, path-style addressing for MinIO, custom endpoint),
// same Get/Put/Delete/List/Head/Ping shape and not-found/access-denied
// error classification, narrowed from that file's generic ObjectStore
// interface down to the fixed key scheme and bulk/parallel operations
// this specification names.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ragcore/internal/ragerr"
	"ragcore/models"
)

// ErrNotFound is returned by Fetch* operations when the key does not exist.
var ErrNotFound = errors.New("blobstore: object not found")

// Config is the subset of process configuration the store needs.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Concurrency  int
}

// Store is the S3-backed blob store.
type Store struct {
	client      *s3.Client
	bucket      string
	concurrency int
}

// New builds a Store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blobstore: bucket is required")
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	return &Store{
		client:      s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:      cfg.Bucket,
		concurrency: concurrency,
	}, nil
}

func originalKey(uuid string) string    { return fmt.Sprintf("%s/original", uuid) }
func extractedKey(uuid string) string   { return fmt.Sprintf("%s/extracted.txt", uuid) }
func lexicalIndexKey(uuid string) string { return fmt.Sprintf("%s/bm25_doc_index.json", uuid) }
func chunkKey(uuid string, index int) string {
	return fmt.Sprintf("%s/chunks/%03d.json", uuid, index)
}
func prefixKey(uuid string) string { return uuid + "/" }

func (s *Store) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return ragerr.Wrap(ragerr.KindBlobWriteFailure, fmt.Sprintf("put object %q failed", key), err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, ragerr.Wrap(ragerr.KindBlobReadFailure, fmt.Sprintf("get object %q failed", key), err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.KindBlobReadFailure, fmt.Sprintf("read object %q failed", key), err)
	}
	return data, nil
}

// UploadOriginal stores the raw uploaded bytes at {uuid}/original.
func (s *Store) UploadOriginal(ctx context.Context, uuid string, data []byte, mimeType string) error {
	return s.put(ctx, originalKey(uuid), data, mimeType)
}

// UploadExtractedText stores the extracted UTF-8 text at {uuid}/extracted.txt.
func (s *Store) UploadExtractedText(ctx context.Context, uuid string, text string) error {
	return s.put(ctx, extractedKey(uuid), []byte(text), "text/plain; charset=utf-8")
}

// UploadLexicalIndex stores the document's term-frequency map at
// {uuid}/bm25_doc_index.json.
func (s *Store) UploadLexicalIndex(ctx context.Context, uuid string, index models.LexicalIndex) error {
	body, err := json.Marshal(index)
	if err != nil {
		return ragerr.Wrap(ragerr.KindBlobWriteFailure, "marshal lexical index", err)
	}
	return s.put(ctx, lexicalIndexKey(uuid), body, "application/json")
}

// UploadChunks persists every chunk body in parallel, bounded by the
// configured blob concurrency cap (§5).
func (s *Store) UploadChunks(ctx context.Context, uuid string, chunks []models.ChunkBody) error {
	sem := semaphore.NewWeighted(int64(s.concurrency))
	g, ctx := errgroup.WithContext(ctx)

	for _, chunk := range chunks {
		chunk := chunk
		if err := sem.Acquire(ctx, 1); err != nil {
			return ragerr.Wrap(ragerr.KindBlobWriteFailure, "blob upload deadline exceeded", err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			body, err := json.Marshal(chunk)
			if err != nil {
				return ragerr.Wrap(ragerr.KindBlobWriteFailure, "marshal chunk body", err)
			}
			return s.put(ctx, chunkKey(uuid, chunk.Index), body, "application/json")
		})
	}
	return g.Wait()
}

// FetchOriginal retrieves the raw uploaded bytes.
func (s *Store) FetchOriginal(ctx context.Context, uuid string) ([]byte, error) {
	return s.get(ctx, originalKey(uuid))
}

// FetchExtractedText retrieves the extracted text.
func (s *Store) FetchExtractedText(ctx context.Context, uuid string) (string, error) {
	data, err := s.get(ctx, extractedKey(uuid))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FetchLexicalIndex retrieves the document's term-frequency map.
func (s *Store) FetchLexicalIndex(ctx context.Context, uuid string) (models.LexicalIndex, error) {
	data, err := s.get(ctx, lexicalIndexKey(uuid))
	if err != nil {
		return models.LexicalIndex{}, err
	}
	var idx models.LexicalIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return models.LexicalIndex{}, ragerr.Wrap(ragerr.KindBlobReadFailure, "unmarshal lexical index", err)
	}
	return idx, nil
}

// FetchChunks retrieves the chunk text for the given chunk indices, in
// parallel, bounded by the concurrency cap, preserving input order. A
// fetch failure for any one index fails the whole call (no texts are
// returned); the caller decides how to surface that failure.
func (s *Store) FetchChunks(ctx context.Context, uuid string, indices []int) ([]string, error) {
	bodies, err := s.FetchChunksWithMetadata(ctx, uuid, indices)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(bodies))
	for i, b := range bodies {
		out[i] = b.Text
	}
	return out, nil
}

// FetchChunksWithMetadata retrieves full chunk bodies (text + metadata) for
// the given indices, in parallel, preserving input order.
func (s *Store) FetchChunksWithMetadata(ctx context.Context, uuid string, indices []int) ([]models.ChunkBody, error) {
	sem := semaphore.NewWeighted(int64(s.concurrency))
	g, ctx := errgroup.WithContext(ctx)

	out := make([]models.ChunkBody, len(indices))
	for i, idx := range indices {
		i, idx := i, idx
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, ragerr.Wrap(ragerr.KindBlobReadFailure, "blob fetch deadline exceeded", err)
		}
		g.Go(func() error {
			defer sem.Release(1)
			data, err := s.get(ctx, chunkKey(uuid, idx))
			if err != nil {
				return err
			}
			var body models.ChunkBody
			if err := json.Unmarshal(data, &body); err != nil {
				return ragerr.Wrap(ragerr.KindBlobReadFailure, fmt.Sprintf("unmarshal chunk %d body", idx), err)
			}
			out[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDocument removes every blob under the document's uuid prefix,
// listing then deleting in parallel. Individual delete failures are
// logged by the caller, not raised, per §4.14 — this method returns the
// first listing error (if any) but always attempts every delete it found.
func (s *Store) DeleteDocument(ctx context.Context, uuid string) []error {
	keys, err := s.listKeys(ctx, prefixKey(uuid))
	if err != nil {
		return []error{fmt.Errorf("list blobs for %s: %w", uuid, err)}
	}
	if len(keys) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(s.concurrency))
	var errs []error
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, key := range keys {
		key := key
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil && !isNotFoundError(err) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

func (s *Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

// Ping verifies connectivity to the configured bucket, backing the health
// route (§6).
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("blobstore ping: %w", err)
	}
	return nil
}

func isNotFoundError(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket
	return errors.As(err, &notFound) ||
		errors.As(err, &noSuchKey) ||
		errors.As(err, &noSuchBucket) ||
		strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "NoSuchKey")
}
