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
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bucketDir changes to a temporary directory holding an empty bucket
// directory and returns the bucket's name.
func bucketDir(t *testing.T) string {
	t.Chdir(t.TempDir())
	require.NoError(t, os.Mkdir("bkt", 0o755))
	return "file://bkt"
}

func TestIsBlob(t *testing.T) {
	for path, want := range map[string]bool{
		"gs://b/k":          true,
		"s3://b/k":          true,
		"file://b/k":        true,
		"/data/ice.nc":      false,
		"https://host/a.nc": false,
	} {
		assert.Equal(t, want, IsBlob(path), path)
	}
}

func TestOpenBucketInvalidProvider(t *testing.T) {
	_, err := OpenBucket(context.Background(), "ftp://bucket")
	assert.Error(t, err)
}

func TestReadWriteList(t *testing.T) {
	ctx := context.Background()
	b := bucketDir(t)
	require.NoError(t, WriteBlob(ctx, b+"/out/a.nc", []byte("a")))
	require.NoError(t, WriteBlob(ctx, b+"/out/b.nc", []byte("b")))
	require.NoError(t, WriteBlob(ctx, b+"/out/notes.txt", []byte("c")))
	require.NoError(t, WriteBlob(ctx, b+"/out/sub/c.nc", []byte("d")))

	data, err := ReadBlob(ctx, b+"/out/b.nc")
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))

	files, err := List(ctx, b+"/out", ".nc")
	require.NoError(t, err)
	assert.Equal(t, []string{b + "/out/a.nc", b + "/out/b.nc"}, files)

	_, err = ReadBlob(ctx, b+"/out/missing.nc")
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	b := bucketDir(t)
	require.NoError(t, WriteBlob(ctx, b+"/in/ice.nc", []byte("ice")))
	dir := t.TempDir()

	t.Run("local", func(t *testing.T) {
		require.NoError(t, os.WriteFile("local.nc", []byte("x"), 0o644))
		p, err := Fetch(ctx, "local.nc", dir, logger)
		require.NoError(t, err)
		assert.Equal(t, "local.nc", p)
	})
	t.Run("blob", func(t *testing.T) {
		p, err := Fetch(ctx, b+"/in/ice.nc", dir, logger)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "ice.nc"), p)
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, "ice", string(data))
	})
	t.Run("http", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("remote"))
		}))
		defer srv.Close()
		p, err := Fetch(ctx, srv.URL+"/remote.nc", dir, logger)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "remote.nc"), p)
	})
	t.Run("missing local", func(t *testing.T) {
		_, err := Fetch(ctx, "/no/such/file.nc", dir, logger)
		assert.Error(t, err)
	})
	t.Run("retries give up", func(t *testing.T) {
		defer func(d time.Duration) { MaxElapsedTime = d }(MaxElapsedTime)
		MaxElapsedTime = 50 * time.Millisecond
		logger, hook := logtest.NewNullLogger()
		_, err := Fetch(ctx, b+"/in/missing.nc", dir, logger)
		assert.Error(t, err)
		assert.NotEmpty(t, hook.AllEntries())
	})
}

func TestUploader(t *testing.T) {
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	b := bucketDir(t)
	u := &Uploader{Log: logger}
	defer u.Close()

	p, err := u.Stage("plain.nc")
	require.NoError(t, err)
	assert.Equal(t, "plain.nc", p)

	p, err = u.Stage(b + "/results/seaice_phases_SMMR_2001.nc")
	require.NoError(t, err)
	assert.Equal(t, "seaice_phases_SMMR_2001.nc", filepath.Base(p))
	require.NoError(t, os.WriteFile(p, []byte("phases"), 0o644))
	require.NoError(t, u.Flush(ctx))

	data, err := ReadBlob(ctx, b+"/results/seaice_phases_SMMR_2001.nc")
	require.NoError(t, err)
	assert.Equal(t, "phases", string(data))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err), "staged file is removed after upload")
	require.NoError(t, u.Close())
}

func TestUploadMissingBucket(t *testing.T) {
	bucketDir(t)
	require.NoError(t, os.WriteFile("x.nc", []byte("x"), 0o644))
	err := Upload(context.Background(), "x.nc", "file://nobucket/x.nc", nil)
	assert.Error(t, err)
}
