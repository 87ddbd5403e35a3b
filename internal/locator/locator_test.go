package locator

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcelhub/internal/warehouse"
	"parcelhub/pkg/errors"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"2025-01-01", false},
		{"2024-02-29", false},
		{"2025-02-29", true},
		{"2025-13-40", true},
		{"2025-1-1", true},
		{"20250101", true},
		{" 2025-01-01", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDate(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.in, d.String())
		})
	}
}

func TestCompact(t *testing.T) {
	d := MustParseDate("2025-01-01")
	assert.Equal(t, "20250101", d.Compact())
	assert.True(t, MustParseDate("2024-12-31").Before(d))
}

func TestResolve(t *testing.T) {
	l := New(DirSource{Dir: t.TempDir()}, "parcelhub", "staging_parcelhub")

	got := l.Resolve(MustParseDate("2025-01-01"))
	require.Len(t, got, 4)

	names := make([]string, len(got))
	for i, d := range got {
		names[i] = d.Name
	}
	assert.Equal(t, []string{DatasetParcels, DatasetEvents, DatasetRoutes, DatasetHubs}, names)

	assert.Equal(t, "parcels_20250101.csv", got[0].File)
	assert.Equal(t, warehouse.TableRef{Project: "parcelhub", Dataset: "staging_parcelhub", Table: "stg_parcels_20250101"}, got[0].Target)
	assert.Equal(t, FormatCSV, got[0].Format)
	assert.True(t, got[0].Partitioned)

	assert.Equal(t, "events_20250101.json", got[1].File)
	assert.Equal(t, "stg_events_20250101", got[1].Target.Table)
	assert.Equal(t, FormatNDJSON, got[1].Format)

	assert.Equal(t, "routes.csv", got[2].File)
	assert.Equal(t, "stg_routes", got[2].Target.Table)
	assert.False(t, got[2].Partitioned)
	assert.Equal(t, "hubs.csv", got[3].File)
	assert.Equal(t, "stg_hubs", got[3].Target.Table)
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("id\n"), 0o644))
	}
}

func TestDiscoverDates(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"parcels_20250102.csv",
		"parcels_20250101.csv",
		"parcels_20251340.csv",
		"parcels_2025010.csv",
		"events_20250103.json",
		"routes.csv",
		"hubs.csv",
		"notes.txt",
	)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "parcels_20250104.csv"), 0o755))

	l := New(DirSource{Dir: dir}, "p", "s")
	dates, err := l.DiscoverDates(context.Background())
	require.NoError(t, err)

	got := make([]string, len(dates))
	for i, d := range dates {
		got[i] = d.String()
	}
	assert.Equal(t, []string{"2025-01-01", "2025-01-02"}, got)
}

func TestDiscoverDatesEmpty(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "routes.csv", "hubs.csv")

	dates, err := New(DirSource{Dir: dir}, "p", "s").DiscoverDates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestDirSourceOpen(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "routes.csv")
	src := DirSource{Dir: dir}

	rc, err := src.Open(context.Background(), "routes.csv")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "id\n", string(b))

	_, err = src.Open(context.Background(), "hubs.csv")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), filepath.Join(dir, "hubs.csv"))
}

func TestNewSource(t *testing.T) {
	dir := t.TempDir()
	src, err := NewSource(context.Background(), dir, S3Options{})
	require.NoError(t, err)
	assert.Equal(t, DirSource{Dir: dir}, src)

	_, err = NewSource(context.Background(), filepath.Join(dir, "missing"), S3Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetErrorCode(err))
}

type fakeS3 struct {
	objects map[string]string
	listed  []*s3.ListObjectsV2Input
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listed = append(f.listed, in)
	out := &s3.ListObjectsV2Output{}
	prefix := aws.ToString(in.Prefix)
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func TestS3Source(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		"landing/parcels_20250105.csv":         "parcel_id\nP1\n",
		"landing/parcels_20250103.csv":         "parcel_id\n",
		"landing/routes.csv":                   "route_id\n",
		"landing/archive/parcels_20240101.csv": "parcel_id\n",
		"other/parcels_20250101.csv":           "parcel_id\n",
	}}
	src := newS3Source(fake, "parcel-drop", "landing")

	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"parcels_20250103.csv", "parcels_20250105.csv", "routes.csv"}, names)
	require.Len(t, fake.listed, 1)
	assert.Equal(t, "landing/", aws.ToString(fake.listed[0].Prefix))

	dates, err := New(src, "p", "s").DiscoverDates(context.Background())
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, "2025-01-03", dates[0].String())

	rc, err := src.Open(context.Background(), "parcels_20250105.csv")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "parcel_id\nP1\n", string(b))

	_, err = src.Open(context.Background(), "hubs.csv")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetErrorCode(err))
	assert.Equal(t, "s3://parcel-drop/landing/hubs.csv", src.Location("hubs.csv"))
}

func TestParseS3URI(t *testing.T) {
	bucket, prefix, err := parseS3URI("s3://parcel-drop/daily/in")
	require.NoError(t, err)
	assert.Equal(t, "parcel-drop", bucket)
	assert.Equal(t, "daily/in", prefix)

	bucket, prefix, err = parseS3URI("s3://parcel-drop")
	require.NoError(t, err)
	assert.Equal(t, "parcel-drop", bucket)
	assert.Empty(t, prefix)

	_, _, err = parseS3URI("s3:///daily")
	assert.Error(t, err)
}
