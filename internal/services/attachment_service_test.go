// internal/services/attachment_service_test.go
package services

import (
	"encoding/base64"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbn434/lambda/internal/config"
	"github.com/jbn434/lambda/internal/models"
)

func localAttachments(t *testing.T) *AttachmentService {
	t.Helper()
	svc, err := NewAttachmentService(config.AWSConfig{LocalStorageDir: t.TempDir()})
	require.NoError(t, err)
	return svc
}

func TestStoreWritesDocument(t *testing.T) {
	svc := localAttachments(t)

	content := []byte("jpeg-bytes")
	stored, err := svc.Store("APP-2608ABCD1234", FileUpload{
		DocumentType: "photograph",
		FileName:     "passport.jpg",
		ContentType:  "image/jpeg",
		Data:         base64.StdEncoding.EncodeToString(content),
	})
	require.NoError(t, err)

	assert.Equal(t, models.DocumentTypePhotograph, stored.DocumentType)
	assert.Equal(t, int64(len(content)), stored.Size)
	assert.Contains(t, stored.StorageKey, "applications/APP-2608ABCD1234/photograph/")

	raw, err := os.ReadFile(strings.TrimPrefix(stored.URL, "file://"))
	require.NoError(t, err)
	assert.Equal(t, content, raw)
}

func TestStoreRejectsUnknownType(t *testing.T) {
	svc := localAttachments(t)

	_, err := svc.Store("APP-X", FileUpload{
		DocumentType: "tax_return",
		FileName:     "doc.pdf",
		ContentType:  "application/pdf",
		Data:         base64.StdEncoding.EncodeToString([]byte("x")),
	})
	assert.Equal(t, CodeAttachmentError, CodeOf(err))
}

func TestStoreRejectsWrongExtension(t *testing.T) {
	svc := localAttachments(t)

	_, err := svc.Store("APP-X", FileUpload{
		DocumentType: "photograph",
		FileName:     "photo.exe",
		ContentType:  "image/jpeg",
		Data:         base64.StdEncoding.EncodeToString([]byte("x")),
	})
	assert.Equal(t, CodeAttachmentError, CodeOf(err))
}

func TestStoreRejectsBadBase64(t *testing.T) {
	svc := localAttachments(t)

	_, err := svc.Store("APP-X", FileUpload{
		DocumentType: "photograph",
		FileName:     "photo.jpg",
		ContentType:  "image/jpeg",
		Data:         "%%%not-base64%%%",
	})
	assert.Equal(t, CodeAttachmentError, CodeOf(err))
}

func TestStoreRejectsOversizedFile(t *testing.T) {
	svc := localAttachments(t)

	big := make([]byte, (2<<20)+1)
	_, err := svc.Store("APP-X", FileUpload{
		DocumentType: "photograph",
		FileName:     "photo.jpg",
		ContentType:  "image/jpeg",
		Data:         base64.StdEncoding.EncodeToString(big),
	})
	assert.Equal(t, CodeAttachmentError, CodeOf(err))
}
