/*
Copyright © 2024 the IcePhen authors.
This file is part of IcePhen.

IcePhen is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

IcePhen is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with IcePhen.  If not, see <http://www.gnu.org/licenses/>.
*/

package cloud

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
)

// ReadBlob reads the blob at path, which must be of the form
// 'provider://bucket/key'.
func ReadBlob(ctx context.Context, path string) ([]byte, error) {
	bucketName, key, err := splitBlob(path)
	if err != nil {
		return nil, err
	}
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()
	return readBlob(ctx, bucket, key)
}

// readBlob reads the given blob from the given bucket.
func readBlob(ctx context.Context, bucket *blob.Bucket, key string) ([]byte, error) {
	var b bytes.Buffer
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "cloud: reading blob key %s", key)
	}
	defer r.Close()
	if _, err = io.Copy(&b, r); err != nil {
		return nil, errors.Wrapf(err, "cloud: reading blob key %s", key)
	}
	return b.Bytes(), nil
}

// WriteBlob writes data to the blob at path.
func WriteBlob(ctx context.Context, path string, data []byte) error {
	bucketName, key, err := splitBlob(path)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return err
	}
	defer bucket.Close()
	return writeBlob(ctx, bucket, key, bytes.NewReader(data))
}

// writeBlob copies r to the given key of the given bucket.
func writeBlob(ctx context.Context, bucket *blob.Bucket, key string, r io.Reader) error {
	w, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{})
	if err != nil {
		return errors.Wrapf(err, "cloud: creating writer for blob %s", key)
	}
	if _, err = io.Copy(w, r); err != nil {
		w.Close()
		return errors.Wrapf(err, "cloud: copying blob %s", key)
	}
	if err = w.Close(); err != nil {
		return errors.Wrapf(err, "cloud: writing blob %s", key)
	}
	return nil
}

// List returns the full paths of the blobs under the directory dir,
// which must be of the form 'provider://bucket/prefix/'. Only blobs whose
// names end with suffix are returned.
func List(ctx context.Context, dir, suffix string) ([]string, error) {
	bucketName, prefix, err := splitBlob(dir)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()
	iter := bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	var o []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "cloud: listing %s", dir)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, suffix) {
			continue
		}
		o = append(o, bucketName+"/"+obj.Key)
	}
	return o, nil
}

// Fetch makes path available on the local filesystem. Existing local
// files are returned unchanged. Blob and http(s) paths are downloaded
// into dir and the path of the downloaded file is returned. Failed
// downloads are retried with exponential backoff.
func Fetch(ctx context.Context, path, dir string, log logrus.FieldLogger) (string, error) {
	log = logger(log)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	var open func() (io.ReadCloser, error)
	switch {
	case strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://"):
		open = func() (io.ReadCloser, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
			if err != nil {
				return nil, err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, errors.Errorf("cloud: downloading %s: %s", path, resp.Status)
			}
			return resp.Body, nil
		}
	case IsBlob(path):
		bucketName, key, err := splitBlob(path)
		if err != nil {
			return "", err
		}
		bucket, err := OpenBucket(ctx, bucketName)
		if err != nil {
			return "", err
		}
		defer bucket.Close()
		open = func() (io.ReadCloser, error) {
			return bucket.NewReader(ctx, key, nil)
		}
	default:
		return "", errors.Errorf("cloud: input file %s does not exist", path)
	}

	local := filepath.Join(dir, baseName(path))
	op := func() error {
		r, err := open()
		if err != nil {
			return err
		}
		defer r.Close()
		w, err := os.Create(local)
		if err != nil {
			return err
		}
		if _, err = io.Copy(w, r); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	}
	if err := retry(ctx, op, log.WithField("download", path)); err != nil {
		return "", errors.Wrapf(err, "cloud: downloading %s", path)
	}
	return local, nil
}

// baseName returns the last element of a URL or blob path.
func baseName(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return path.Base(p)
}

func logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}

// MaxElapsedTime is the longest a download or upload is retried for.
var MaxElapsedTime = 5 * time.Minute

func retry(ctx context.Context, op func() error, log logrus.FieldLogger) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = MaxElapsedTime
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		log.WithError(err).WithField("retry_in", d.String()).Warn("transfer failed")
	})
}

// An Uploader stages output files locally and then copies them to blob
// storage.
type Uploader struct {
	Log logrus.FieldLogger

	// files is a set of file path pairs. The first of each pair
	// is a local file path and the second is a blob storage
	// path where it should be uploaded to.
	files [][2]string
	dir   string
}

// Stage checks whether the given output file path refers to
// a blob storage location. If it does, then a temporary file location
// is returned. The file will then be uploaded to blob storage when
// the Flush method is run. Local paths are returned unchanged.
func (u *Uploader) Stage(path string) (string, error) {
	if !IsBlob(path) {
		return path, nil
	}
	if u.dir == "" {
		dir, err := os.MkdirTemp("", "icephen")
		if err != nil {
			return "", errors.Wrap(err, "cloud: creating staging directory")
		}
		u.dir = dir
	}
	local := filepath.Join(u.dir, baseName(path))
	u.files = append(u.files, [2]string{local, path})
	return local, nil
}

// Flush uploads every staged file that has not been uploaded yet.
func (u *Uploader) Flush(ctx context.Context) error {
	log := logger(u.Log)
	for len(u.files) > 0 {
		f := u.files[0]
		if err := Upload(ctx, f[0], f[1], log); err != nil {
			return err
		}
		if err := os.Remove(f[0]); err != nil {
			return errors.Wrapf(err, "cloud: removing staged file %s", f[0])
		}
		u.files = u.files[1:]
	}
	return nil
}

// Close removes the staging directory, discarding any files that have
// not been flushed.
func (u *Uploader) Close() error {
	if u.dir == "" {
		return nil
	}
	err := os.RemoveAll(u.dir)
	u.dir, u.files = "", nil
	return err
}

// Upload copies the local file src to the blob path dst, retrying
// failed copies with exponential backoff.
func Upload(ctx context.Context, src, dst string, log logrus.FieldLogger) error {
	log = logger(log)
	bucketName, key, err := splitBlob(dst)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketName)
	if err != nil {
		return errors.Wrapf(err, "cloud: opening bucket to upload file '%s'", dst)
	}
	defer bucket.Close()
	if _, err = os.Stat(src); err != nil {
		return errors.Wrap(err, "cloud: opening file for upload")
	}
	op := func() error {
		r, err := os.Open(src)
		if err != nil {
			return err
		}
		defer r.Close()
		return writeBlob(ctx, bucket, key, r)
	}
	if err = retry(ctx, op, log.WithField("upload", dst)); err != nil {
		return errors.Wrapf(err, "cloud: uploading file '%s' to '%s'", src, dst)
	}
	log.WithField("blob", dst).Debug("uploaded")
	return nil
}
