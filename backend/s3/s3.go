// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package s3 implements store.Backend against an S3-compatible object
// store, generalizing original_source/src/fs/ossfs.py's OSSFS (Alibaba OSS,
// an S3-alike API) onto the AWS SDK. The bucket-existence-check-then-create
// dance, the "ss/"/"t/" object-key prefixing, and the bounded-retry init
// are all carried over; the wire protocol is AWS's rather than OSS's XML
// dialect.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rosycloud/rosycloud/internal/chash"
	"github.com/rosycloud/rosycloud/internal/record"
	"github.com/rosycloud/rosycloud/internal/registry"
	"github.com/rosycloud/rosycloud/internal/retry"
	"github.com/rosycloud/rosycloud/internal/store"
)

// ID is the backend identifier configured via CLOUDS=s3.
const ID = "s3"

func init() {
	registry.Register(ID, func(config map[string]string) (store.Backend, error) {
		bucket, ok := config["S3_BUCKET"]
		if !ok {
			return nil, fmt.Errorf("s3: missing required config key S3_BUCKET")
		}
		return New(context.Background(), bucket, config)
	})
}

// Backend stores blobs, snapshots and tags as keys in a single S3 bucket,
// following the namespace convention package store defines.
type Backend struct {
	client *s3.Client
	bucket string
}

// New builds a Backend for bucket, creating it if absent. Credentials come
// from config's ACCESS_ID/SECRET_ACCESS_KEY when present, falling back to
// the SDK's default chain (environment, shared config, instance role).
func New(ctx context.Context, bucket string, config map[string]string) (*Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if id, secret := config["ACCESS_ID"], config["SECRET_ACCESS_KEY"]; id != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, "")))
	}
	if region, ok := config["S3_REGION"]; ok {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint, ok := config["S3_ENDPOINT"]; ok {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	b := &Backend{client: client, bucket: bucket}

	err = retry.Do(ctx, retry.DefaultAttempts, func() error {
		_, headErr := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if headErr == nil {
			return nil
		}
		_, createErr := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
		return createErr
	})
	if err != nil {
		return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
	}

	return b, nil
}

var _ store.Backend = (*Backend)(nil)

func (b *Backend) Store(ctx context.Context, id chash.Hash, data []byte) error {
	if id.IsEmpty() {
		return nil
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(id.String()),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return &store.BackendUnavailableError{Backend: ID, Err: err}
	}
	return nil
}

func (b *Backend) Retrieve(ctx context.Context, id chash.Hash) ([]byte, error) {
	if id.IsEmpty() {
		return nil, nil
	}
	return b.getObject(ctx, id.String())
}

func (b *Backend) Remove(ctx context.Context, id chash.Hash) error {
	if id.IsEmpty() {
		return nil
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(id.String()),
	})
	return err
}

func (b *Backend) ListObjects(ctx context.Context) ([]chash.Hash, error) {
	var out []chash.Hash
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{Bucket: aws.String(b.bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !hasNamespacePrefix(key) {
				out = append(out, chash.Hash(key))
			}
		}
	}
	return out, nil
}

func (b *Backend) ListSnapshots(ctx context.Context) (map[chash.Hash]time.Time, error) {
	out := make(map[chash.Hash]time.Time)
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(store.SnapshotNamespace),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
		}
		for _, obj := range page.Contents {
			id := chash.Hash(aws.ToString(obj.Key)[len(store.SnapshotNamespace):])
			out[id] = aws.ToTime(obj.LastModified)
		}
	}
	return out, nil
}

func (b *Backend) GetSnapshot(ctx context.Context, id chash.Hash) (record.Snapshot, error) {
	data, err := b.getObject(ctx, store.SnapshotNamespace+id.String())
	if err != nil {
		return record.Snapshot{}, err
	}
	return record.DecodeSnapshot(data)
}

func (b *Backend) AppendSnapshot(ctx context.Context, snap record.Snapshot) (chash.Hash, error) {
	encoded := snap.Encode()
	id := chash.Sum(encoded)
	key := store.SnapshotNamespace + id.String()

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err == nil {
		return id, nil // append-only: identical content already present.
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(encoded),
	})
	if err != nil {
		return "", &store.BackendUnavailableError{Backend: ID, Err: err}
	}
	return id, nil
}

func (b *Backend) RemoveSnapshot(ctx context.Context, id chash.Hash) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(store.SnapshotNamespace + id.String()),
	})
	return err
}

func (b *Backend) ListTags(ctx context.Context) ([]string, error) {
	var out []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(store.TagNamespace),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
		}
		for _, obj := range page.Contents {
			out = append(out, aws.ToString(obj.Key)[len(store.TagNamespace):])
		}
	}
	return out, nil
}

func (b *Backend) Tag(ctx context.Context, name string, tag record.Tag) error {
	encoded, err := tag.Encode()
	if err != nil {
		return err
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(store.TagNamespace + name),
		Body:   bytes.NewReader(encoded),
	})
	if err != nil {
		return &store.BackendUnavailableError{Backend: ID, Err: err}
	}
	return nil
}

func (b *Backend) GetTagged(ctx context.Context, name string) (record.Tag, error) {
	data, err := b.getObject(ctx, store.TagNamespace+name)
	if err != nil {
		return record.Tag{}, err
	}
	return record.DecodeTag(data)
}

func (b *Backend) Untag(ctx context.Context, name string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(store.TagNamespace + name),
	})
	return err
}

func (b *Backend) Close() error { return nil }

func (b *Backend) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, store.ErrNotFound
		}
		return nil, &store.BackendUnavailableError{Backend: ID, Err: err}
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func hasNamespacePrefix(key string) bool {
	return len(key) >= len(store.SnapshotNamespace) && key[:len(store.SnapshotNamespace)] == store.SnapshotNamespace ||
		len(key) >= len(store.TagNamespace) && key[:len(store.TagNamespace)] == store.TagNamespace
}
