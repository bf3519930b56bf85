package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectName(t *testing.T) {
	s := NewMinIOStore(nil, "bucket", "/artifacts/")

	key, err := s.objectName("converted_1-a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "artifacts/converted_1-a.pdf", key)

	for _, bad := range []string{"", "  ", "../etc/passwd", "a/b.pdf", `a\b.pdf`, ".hidden"} {
		_, err := s.objectName(bad)
		assert.Error(t, err, "name %q", bad)
	}
}

func TestObjectName_NoBasePath(t *testing.T) {
	s := NewMinIOStore(nil, "bucket", "")

	key, err := s.objectName("converted_1-a.docx")
	require.NoError(t, err)
	assert.Equal(t, "converted_1-a.docx", key)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", contentType("x.PDF"))
	assert.Equal(t, "application/msword", contentType("x.doc"))
	assert.Equal(t, "application/octet-stream", contentType("x.bin"))
}
