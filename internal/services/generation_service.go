// internal/services/generation_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/jbn434/lambda/internal/config"
	"github.com/jbn434/lambda/internal/models"
	"github.com/jbn434/lambda/internal/store"
)

// GenerationService renders the license artifact after approval and writes
// it next to the applicant documents. Generation is idempotent per license
// number; regenerating simply overwrites the previous artifact.
type GenerationService struct {
	s3Client *s3.S3
	cfg      config.AWSConfig
	store    store.Store
}

type licenseArtifact struct {
	LicenseNo    string    `json:"license_no"`
	HolderName   string    `json:"holder_name"`
	LicenseClass string    `json:"license_class"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	GeneratedAt  time.Time `json:"generated_at"`
}

func NewGenerationService(cfg config.AWSConfig, st store.Store) (*GenerationService, error) {
	if cfg.AccessKeyID == "" {
		return &GenerationService{cfg: cfg, store: st}, nil
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

	return &GenerationService{s3Client: s3.New(sess), cfg: cfg, store: st}, nil
}

// Generate renders and stores the artifact for an issued license.
func (s *GenerationService) Generate(ctx context.Context, applicationNo, licenseNo string) error {
	lic, err := s.store.LicenseByNo(ctx, licenseNo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newDomainError(CodeGenerationFailed, "license %s not found", licenseNo)
		}
		return err
	}

	app, err := s.store.ApplicationByID(ctx, lic.ApplicationID)
	if err != nil {
		return err
	}

	artifact := licenseArtifact{
		LicenseNo:    lic.LicenseNo,
		HolderName:   app.FirstName + " " + app.LastName,
		LicenseClass: lic.LicenseClass,
		IssuedAt:     lic.IssuedAt,
		ExpiresAt:    lic.ExpiresAt,
		GeneratedAt:  time.Now(),
	}

	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return newDomainError(CodeGenerationFailed, "failed to render artifact: %v", err)
	}

	key := s.artifactKey(lic.LicenseNo)
	if s.s3Client != nil {
		_, err = s.s3Client.PutObject(&s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.S3Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(payload),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return newDomainError(CodeGenerationFailed, "failed to store artifact: %v", err)
		}
	} else {
		path := filepath.Join(s.cfg.LocalStorageDir, key)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return newDomainError(CodeGenerationFailed, "failed to prepare artifact storage: %v", err)
		}
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return newDomainError(CodeGenerationFailed, "failed to write artifact: %v", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"application_no": applicationNo,
		"license_no":     licenseNo,
		"key":            key,
	}).Info("License artifact generated")
	return nil
}

// Regenerate re-runs generation for an already issued license and clears the
// pending flag on its application. Safe to call on licenses whose first
// generation succeeded.
func (s *GenerationService) Regenerate(ctx context.Context, licenseNo string) (*models.License, error) {
	lic, err := s.store.LicenseByNo(ctx, licenseNo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound("license %s not found", licenseNo)
		}
		return nil, err
	}

	app, err := s.store.ApplicationByID(ctx, lic.ApplicationID)
	if err != nil {
		return nil, err
	}

	if err := s.Generate(ctx, app.ApplicationNo, lic.LicenseNo); err != nil {
		return nil, err
	}

	if app.GenerationPending {
		app.GenerationPending = false
		if err := s.store.SaveApplication(ctx, app); err != nil {
			return nil, err
		}
	}
	return lic, nil
}

// RetryPending re-attempts generation for applications whose artifact never
// materialized. Called by the scheduler.
func (s *GenerationService) RetryPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.store.ListGenerationPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	retried := 0
	for i := range pending {
		app := &pending[i]
		if app.LicenseID == nil {
			continue
		}
		lic, err := s.store.LicenseByID(ctx, *app.LicenseID)
		if err != nil {
			logrus.WithError(err).WithField("application_no", app.ApplicationNo).Error("Generation retry lookup failed")
			continue
		}
		if err := s.Generate(ctx, app.ApplicationNo, lic.LicenseNo); err != nil {
			logrus.WithError(err).WithField("license_no", lic.LicenseNo).Warn("Generation retry failed")
			continue
		}
		app.GenerationPending = false
		if err := s.store.SaveApplication(ctx, app); err != nil {
			logrus.WithError(err).WithField("application_no", app.ApplicationNo).Error("Failed to clear generation flag")
			continue
		}
		retried++
	}
	return retried, nil
}

func (s *GenerationService) artifactKey(licenseNo string) string {
	return fmt.Sprintf("licenses/%s/license.json", licenseNo)
}
