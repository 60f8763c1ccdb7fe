// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package object

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	pkgerrors "vault-pipeline/pkg/errors"
)

// gcsStore Google Cloud Storage 实现；签名 URL 由 bucket 默认凭证签发
type gcsStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCSStore 创建 GCS 对象存储；凭证走 Application Default Credentials
func NewGCSStore(ctx context.Context, bucketName string) (Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, err.Error())
	}
	return &gcsStore{
		client: client,
		bucket: client.Bucket(bucketName),
		name:   bucketName,
	}, nil
}

// Put 条件写入：对象已存在时不覆盖（HTTP 412 视为成功，上传幂等）
func (s *gcsStore) Put(ctx context.Context, key string, data io.Reader, size int64, mimeType string) error {
	writer := s.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = mimeType

	if _, err := io.Copy(writer, data); err != nil {
		_ = writer.Close()
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return pkgerrors.Wrapf(err, "写入 GCS 对象 %s", key)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return pkgerrors.Wrapf(err, "关闭 GCS writer %s", key)
	}
	return nil
}

func (s *gcsStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, pkgerrors.Wrapf(pkgerrors.ErrNotFound, "object %s", key)
		}
		return nil, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, err.Error())
	}
	return r, nil
}

func (s *gcsStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.ErrBackendUnavailable, err.Error())
	}
	return true, nil
}

func (s *gcsStore) SignedUploadURL(ctx context.Context, key, mimeType string, ttl time.Duration) (string, error) {
	return s.bucket.SignedURL(key, &storage.SignedURLOptions{
		Method:      http.MethodPut,
		Expires:     time.Now().Add(ttl),
		ContentType: mimeType,
	})
}

func (s *gcsStore) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return s.bucket.SignedURL(key, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
}

func (s *gcsStore) Close() error {
	return s.client.Close()
}
