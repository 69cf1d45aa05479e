/*
Copyright 2025 lhkeeper.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package offsite

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lhkeeper/longhorn-keeper/internal/errdefs"
)

// BucketLister lists a plain (unencrypted) S3 or B2 offsite bucket directly,
// without shelling out. Not usable for crypt remotes; those need rclone.
type BucketLister struct {
	mc     *minio.Client
	bucket string
	prefix string
	log    logr.Logger
}

// BucketConfig configures direct bucket access.
type BucketConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Insecure  bool
}

// NewBucketLister creates a lister against an S3-compatible bucket.
func NewBucketLister(cfg BucketConfig, log logr.Logger) (*BucketLister, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket lister requires endpoint and bucket")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: !cfg.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket client: %w", err)
	}

	return &BucketLister{mc: mc, bucket: cfg.Bucket, prefix: cfg.Prefix, log: log}, nil
}

// List enumerates all objects under the configured prefix. The prefix is
// stripped from reported paths so they line up with rclone's remote-relative
// listing.
func (b *BucketLister) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	for obj := range b.mc.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, errdefs.ExternalUnavailable("offsite bucket", obj.Err)
		}
		path := strings.TrimPrefix(strings.TrimPrefix(obj.Key, b.prefix), "/")
		entries = append(entries, Entry{Path: path, Size: obj.Size})
	}

	b.log.V(1).Info("Listed offsite bucket", "bucket", b.bucket, "objects", len(entries))
	return entries, nil
}
