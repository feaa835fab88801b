// Package attachments stores post attachments in MinIO (or any S3-compatible
// object store).
package attachments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"corkboard/api/internal/board"
	"corkboard/api/internal/config"
)

var ErrTooLarge = errors.New("file exceeds maximum upload size")

const deleteTokenMeta = "Delete-Token"

// File is one upload as received from the client.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Uploader interface {
	Upload(ctx context.Context, f File) (board.Attachment, error)
	// Delete removes a blob. It reports false when the delete token does
	// not match.
	Delete(ctx context.Context, publicID, deleteToken, resourceType string) (bool, error)
}

type MinioUploader struct {
	client    *minio.Client
	bucket    string
	maxSize   int64
	publicURL string
	logger    *zap.Logger
}

func NewMinioUploader(ctx context.Context, cfg config.Config, logger *zap.Logger) (*MinioUploader, error) {
	minioURL := cfg.MinioURL
	if !strings.HasPrefix(minioURL, "http://") && !strings.HasPrefix(minioURL, "https://") {
		minioURL = "https://" + minioURL
	}
	u, err := url.Parse(minioURL)
	if err != nil {
		return nil, fmt.Errorf("parse minio url: %w", err)
	}
	secure := u.Scheme == "https"

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioUser, cfg.MinioPassword, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	publicURL := strings.TrimRight(cfg.MinioPublicURL, "/")
	if publicURL == "" {
		publicURL = fmt.Sprintf("%s://%s/%s", u.Scheme, u.Host, cfg.MinioBucket)
	}

	m := &MinioUploader{
		client:    client,
		bucket:    cfg.MinioBucket,
		maxSize:   cfg.MaxFileSize,
		publicURL: publicURL,
		logger:    logger,
	}
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("minio uploader ready", zap.String("url", minioURL), zap.String("bucket", m.bucket))
	return m, nil
}

func (m *MinioUploader) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		m.logger.Info("created minio bucket", zap.String("bucket", m.bucket))
	}
	if err := m.client.SetBucketPolicy(ctx, m.bucket, publicReadPolicy(m.bucket)); err != nil {
		m.logger.Warn("failed to set bucket policy", zap.Error(err))
	}
	return nil
}

func publicReadPolicy(bucket string) string {
	return `{
		"Version": "2012-10-17",
		"Statement": [
			{
				"Sid": "PublicReadGetObject",
				"Effect": "Allow",
				"Principal": "*",
				"Action": ["s3:GetObject"],
				"Resource": ["arn:aws:s3:::` + bucket + `/*"]
			}
		]
	}`
}

func (m *MinioUploader) Upload(ctx context.Context, f File) (board.Attachment, error) {
	if m.maxSize > 0 && f.Size > m.maxSize {
		return board.Attachment{}, fmt.Errorf("%w: %d MB", ErrTooLarge, m.maxSize/(1024*1024))
	}
	contentType := f.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = DetectContentType(filepath.Ext(f.Name))
	}
	token, err := newDeleteToken()
	if err != nil {
		return board.Attachment{}, err
	}

	objectName := GenerateObjectName(f.Name)
	_, err = m.client.PutObject(ctx, m.bucket, objectName, f.Body, f.Size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{deleteTokenMeta: token},
	})
	if err != nil {
		return board.Attachment{}, fmt.Errorf("upload file: %w", err)
	}
	m.logger.Info("attachment uploaded",
		zap.String("object_name", objectName),
		zap.Int64("size", f.Size),
	)

	a := board.Attachment{
		URL:          m.publicURL + "/" + objectName,
		PublicID:     objectName,
		DeleteToken:  token,
		ResourceType: ResourceType(contentType),
		Name:         f.Name,
	}
	if a.ResourceType == "image" {
		a.ThumbnailURL = a.URL
	}
	return a, nil
}

func (m *MinioUploader) Delete(ctx context.Context, publicID, deleteToken, _ string) (bool, error) {
	if deleteToken != "" {
		info, err := m.client.StatObject(ctx, m.bucket, publicID, minio.StatObjectOptions{})
		if err != nil {
			return false, fmt.Errorf("stat attachment: %w", err)
		}
		if info.UserMetadata[deleteTokenMeta] != deleteToken {
			return false, nil
		}
	}
	if err := m.client.RemoveObject(ctx, m.bucket, publicID, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}
	m.logger.Info("attachment deleted", zap.String("object_name", publicID))
	return true, nil
}

// GenerateObjectName returns yyyy/mm/dd/<uuid>_<uuid><ext>.
func GenerateObjectName(filename string) string {
	day := time.Now().Format("2006/01/02")
	return fmt.Sprintf("%s/%s_%s%s", day, uuid.New().String(), uuid.New().String(), strings.ToLower(filepath.Ext(filename)))
}

// ResourceType classifies a content type as image, video or raw.
func ResourceType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "raw"
	}
}

func DetectContentType(ext string) string {
	contentTypes := map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".gif":  "image/gif",
		".webp": "image/webp",
		".mp4":  "video/mp4",
		".webm": "video/webm",
		".mp3":  "audio/mpeg",
		".wav":  "audio/wav",
		".pdf":  "application/pdf",
	}
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

func newDeleteToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate delete token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
