package s3blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, ClientConfig{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = New(ctx, ClientConfig{Bucket: "archive"})
	assert.ErrorContains(t, err, "region is required")

	_, err = New(ctx, ClientConfig{Bucket: "archive", Region: "us-east-1", AccessKey: "id"})
	assert.ErrorContains(t, err, "set together")

	c, err := New(ctx, ClientConfig{
		Bucket:    "archive",
		Region:    "us-east-1",
		AccessKey: "id",
		SecretKey: "secret",
		Endpoint:  "minio:9000",
		Prefix:    "/marketengine/test/",
	})
	require.NoError(t, err)
	assert.Equal(t, "archive", c.Bucket())
	assert.Equal(t, "marketengine/test/archive/listings/a.jsonl.gz", c.Key("/archive/listings/a.jsonl.gz"))
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "", withScheme("", true))
	assert.Equal(t, "https://e2.example", withScheme("e2.example", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "http://minio:9000", withScheme("http://minio:9000", true))
}
