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

// Package cloud moves IcePhen inputs and outputs between the local
// filesystem and blob storage.
package cloud

import (
	"context"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// IsBlob reports whether path names an object in a bucket rather than a
// local file. Concentration inputs, profile files and phase grids may all
// be given as 'gs://', 's3://' or 'file://' paths.
func IsBlob(path string) bool {
	return strings.HasPrefix(path, "gs://") || strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "file://")
}

// OpenBucket opens the bucket holding a set of phase files or daily
// concentration inputs. bucketName is 'gs://name', 's3://name' or
// 'file://dir'; any key path after the name is ignored, so callers pass
// the output of splitBlob. The file scheme serves a local directory
// and is what the tests use.
func OpenBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketName)
	if err != nil {
		return nil, errors.Wrap(err, "cloud.OpenBucket")
	}
	switch u.Scheme {
	case "file":
		return fileblob.OpenBucket(u.Hostname(), nil)
	case "gs":
		return gsBucket(ctx, u.Hostname())
	case "s3":
		return s3Bucket(ctx, u.Hostname())
	default:
		return nil, errors.Errorf("cloud.OpenBucket: invalid provider %q", u.Scheme)
	}
}

// splitBlob splits a blob path such as 's3://bucket/dir/file.nc' into
// the bucket name ('s3://bucket') and the key within it ('dir/file.nc').
func splitBlob(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", errors.Wrapf(err, "cloud: parsing blob path %q", path)
	}
	if !IsBlob(path) {
		return "", "", errors.Errorf("cloud: %q is not a blob path", path)
	}
	return u.Scheme + "://" + u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// gsBucket opens a Google Cloud Storage bucket with the application
// default credentials of the machine running icephen.
func gsBucket(ctx context.Context, name string) (*blob.Bucket, error) {
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cloud: finding GCP credentials")
	}
	c, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, errors.Wrap(err, "cloud: creating GCP client")
	}
	return gcsblob.OpenBucket(ctx, c, name, nil)
}

// s3Bucket opens an S3 bucket with credentials from AWS_ACCESS_KEY_ID and
// AWS_SECRET_ACCESS_KEY. AWS_REGION selects the region.
func s3Bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-2"
	}
	c := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewEnvCredentials(),
	}
	s, err := session.NewSession(c)
	if err != nil {
		return nil, errors.Wrap(err, "cloud: creating AWS session")
	}
	return s3blob.OpenBucket(ctx, s, name, nil)
}
