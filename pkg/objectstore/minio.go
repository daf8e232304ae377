// Package objectstore archives original uploads in an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"ragout-bot/internal/entity"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
}

func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

// Archive stores uploads under "{user}/{index}/{filename}".
type Archive struct {
	client *minio.Client
	bucket string
}

func NewArchive(client *minio.Client, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket}
}

func userPrefix(user entity.UserID) string {
	return string(user) + "/"
}

func ObjectKey(user entity.UserID, index int, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return fmt.Sprintf("%s%d/%s", userPrefix(user), index, name)
}

func (a *Archive) Store(ctx context.Context, user entity.UserID, index int, filename string, data []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, ObjectKey(user, index, filename),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: http.DetectContentType(data)})
	if err != nil {
		return fmt.Errorf("archive upload: %w", err)
	}
	return nil
}

// RemoveUser deletes every archived upload of user.
func (a *Archive) RemoveUser(ctx context.Context, user entity.UserID) error {
	objects := make(chan minio.ObjectInfo)
	var listErr error
	go func() {
		defer close(objects)
		for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
			Prefix:    userPrefix(user),
			Recursive: true,
		}) {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			objects <- obj
		}
	}()

	var errs []error
	for rerr := range a.client.RemoveObjects(ctx, a.bucket, objects, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("remove %s: %w", rerr.ObjectName, rerr.Err))
	}
	// RemoveObjects drains objects, so the lister is done here.
	if listErr != nil {
		errs = append(errs, fmt.Errorf("list uploads: %w", listErr))
	}
	return errors.Join(errs...)
}
