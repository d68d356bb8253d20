package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	require.Equal(t, "projects/abc.png", ObjectKey("projects", "abc", "image/png"))
	require.Equal(t, "profile/abc.jpg", ObjectKey("/profile/", "abc", "image/jpeg"))
	require.Equal(t, "abc.webp", ObjectKey("", "abc", "image/webp"))
	require.Equal(t, "x/abc", ObjectKey("x", "abc", "application/x-unknown-thing"))
}

func TestPublicReadPolicy(t *testing.T) {
	var policy struct {
		Statement []struct {
			Action   string
			Resource string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(publicReadPolicy("media")), &policy))
	require.Len(t, policy.Statement, 1)
	require.Equal(t, "s3:GetObject", policy.Statement[0].Action)
	require.Equal(t, "arn:aws:s3:::media/*", policy.Statement[0].Resource)
}

func TestPublicURL(t *testing.T) {
	s := &MinioStorage{publicBase: "http://localhost:9000/media"}
	require.Equal(t, "http://localhost:9000/media/projects/a.png", s.PublicURL("projects/a.png"))
}
