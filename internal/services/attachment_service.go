// internal/services/attachment_service.go
package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"

	"github.com/jbn434/lambda/internal/config"
	"github.com/jbn434/lambda/internal/models"
)

// AttachmentInput is a stored document reference ready to be registered
// against an application.
type AttachmentInput struct {
	DocumentType models.DocumentType
	FileName     string
	ContentType  string
	Size         int64
	StorageKey   string
	URL          string
}

func (in AttachmentInput) toModel(applicationID uuid.UUID) *models.Attachment {
	return &models.Attachment{
		ApplicationID: applicationID,
		DocumentType:  in.DocumentType,
		FileName:      in.FileName,
		ContentType:   in.ContentType,
		Size:          in.Size,
		StorageKey:    in.StorageKey,
		URL:           in.URL,
	}
}

// FileUpload is one document as posted by a client, content base64-encoded.
type FileUpload struct {
	DocumentType string `json:"document_type" validate:"required,oneof=photograph signature proof_of_identity medical_certificate eye_test_result supporting"`
	FileName     string `json:"file_name" validate:"required,max=255"`
	ContentType  string `json:"content_type" validate:"required"`
	Data         string `json:"data" validate:"required"`
}

// AttachmentService stores applicant documents in S3, or on local disk when
// no AWS credentials are configured.
type AttachmentService struct {
	s3Client *s3.S3
	cfg      config.AWSConfig
}

var attachmentLimits = map[models.DocumentType]struct {
	maxSize int64
	exts    []string
}{
	models.DocumentTypePhotograph:  {2 << 20, []string{".jpg", ".jpeg", ".png"}},
	models.DocumentTypeSignature:   {1 << 20, []string{".jpg", ".jpeg", ".png"}},
	models.DocumentTypeProofOfID:   {5 << 20, []string{".jpg", ".jpeg", ".png", ".pdf"}},
	models.DocumentTypeMedicalCert: {5 << 20, []string{".jpg", ".jpeg", ".png", ".pdf"}},
	models.DocumentTypeEyeTest:     {5 << 20, []string{".jpg", ".jpeg", ".png", ".pdf"}},
	models.DocumentTypeSupporting:  {5 << 20, []string{".jpg", ".jpeg", ".png", ".pdf"}},
}

func NewAttachmentService(cfg config.AWSConfig) (*AttachmentService, error) {
	if cfg.AccessKeyID == "" {
		// Local disk fallback for development and tests.
		return &AttachmentService{cfg: cfg}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &AttachmentService{s3Client: s3.New(sess), cfg: cfg}, nil
}

// Store validates and persists a single uploaded document, returning the
// reference the lifecycle engine registers against the application.
func (s *AttachmentService) Store(applicationNo string, upload FileUpload) (*AttachmentInput, error) {
	docType := models.DocumentType(upload.DocumentType)
	limits, ok := attachmentLimits[docType]
	if !ok {
		return nil, ErrAttachment("unknown document type %q", upload.DocumentType)
	}

	ext := strings.ToLower(filepath.Ext(upload.FileName))
	allowed := false
	for _, e := range limits.exts {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrAttachment("file type %s is not allowed for %s", ext, docType)
	}

	content, err := base64.StdEncoding.DecodeString(upload.Data)
	if err != nil {
		return nil, ErrAttachment("file content is not valid base64")
	}
	if len(content) == 0 {
		return nil, ErrAttachment("file content is empty")
	}
	if int64(len(content)) > limits.maxSize {
		return nil, ErrAttachment("file size %d bytes exceeds the %d byte limit for %s",
			len(content), limits.maxSize, docType)
	}

	key := s.storageKey(applicationNo, docType, ext)

	var url string
	if s.s3Client != nil {
		url, err = s.putS3(key, content, upload.ContentType)
	} else {
		url, err = s.putLocal(key, content)
	}
	if err != nil {
		return nil, err
	}

	return &AttachmentInput{
		DocumentType: docType,
		FileName:     upload.FileName,
		ContentType:  upload.ContentType,
		Size:         int64(len(content)),
		StorageKey:   key,
		URL:          url,
	}, nil
}

func (s *AttachmentService) putS3(key string, content []byte, contentType string) (string, error) {
	_, err := s.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(content))),
	})
	if err != nil {
		return "", ErrAttachment("failed to upload to S3: %v", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.S3Bucket, s.cfg.Region, key), nil
}

func (s *AttachmentService) putLocal(key string, content []byte) (string, error) {
	path := filepath.Join(s.cfg.LocalStorageDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", ErrAttachment("failed to prepare local storage: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", ErrAttachment("failed to write file: %v", err)
	}
	return "file://" + path, nil
}

// PresignedURL returns a short-lived download link for a stored document.
func (s *AttachmentService) PresignedURL(key string, expiration time.Duration) (string, error) {
	if s.s3Client == nil {
		return "file://" + filepath.Join(s.cfg.LocalStorageDir, key), nil
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(expiration)
	if err != nil {
		return "", ErrAttachment("failed to generate presigned URL: %v", err)
	}
	return url, nil
}

func (s *AttachmentService) storageKey(applicationNo string, docType models.DocumentType, ext string) string {
	stamp := time.Now().Format("20060102")
	return fmt.Sprintf("applications/%s/%s/%s_%s%s",
		applicationNo, docType, stamp, uuid.New().String()[:8], ext)
}
