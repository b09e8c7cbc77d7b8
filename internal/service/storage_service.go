package service

import (
	"context"
	"courseforge_backend/internal/config"
	"courseforge_backend/pkg/logger"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageProvider 对象存储抽象，课程配图统一经由这里落盘/入桶
type StorageProvider interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, objectName string) error
	GetURL(objectName string) string
}

// NewStorageProvider 按配置选择存储后端，初始化失败时降级到本地存储
func NewStorageProvider(cfg config.StorageConfig) StorageProvider {
	switch cfg.Type {
	case "minio":
		provider, err := newMinioStorage(cfg)
		if err != nil {
			logger.Log.Error("MinIO 初始化失败，降级到本地存储", zap.Error(err))
			return newLocalStorage(cfg)
		}
		return provider
	case "oss":
		provider, err := newOSSStorage(cfg)
		if err != nil {
			logger.Log.Error("OSS 初始化失败，降级到本地存储", zap.Error(err))
			return newLocalStorage(cfg)
		}
		return provider
	default:
		return newLocalStorage(cfg)
	}
}

// LocalStorage 本地磁盘存储，开发环境默认
type LocalStorage struct {
	basePath string
}

func newLocalStorage(cfg config.StorageConfig) *LocalStorage {
	basePath := cfg.LocalPath
	if basePath == "" {
		basePath = "./uploads"
	}
	return &LocalStorage{basePath: basePath}
}

func (s *LocalStorage) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	path := filepath.Join(s.basePath, objectName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		return "", err
	}
	return s.GetURL(objectName), nil
}

func (s *LocalStorage) Delete(ctx context.Context, objectName string) error {
	return os.Remove(filepath.Join(s.basePath, objectName))
}

func (s *LocalStorage) GetURL(objectName string) string {
	return "/uploads/" + objectName
}

// MinioStorage MinIO 对象存储
type MinioStorage struct {
	client *minio.Client
	bucket string
}

func newMinioStorage(cfg config.StorageConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	return &MinioStorage{client: client, bucket: cfg.MinioBucket}, nil
}

func (s *MinioStorage) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("minio upload failed: %w", err)
	}
	return s.GetURL(objectName), nil
}

func (s *MinioStorage) Delete(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

func (s *MinioStorage) GetURL(objectName string) string {
	return "/" + s.bucket + "/" + objectName
}

// OSSStorage 阿里云 OSS 存储
type OSSStorage struct {
	bucket *oss.Bucket
}

func newOSSStorage(cfg config.StorageConfig) (*OSSStorage, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, err
	}
	return &OSSStorage{bucket: bucket}, nil
}

func (s *OSSStorage) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	if err := s.bucket.PutObject(objectName, reader, oss.ContentType(contentType)); err != nil {
		return "", fmt.Errorf("oss upload failed: %w", err)
	}
	return s.GetURL(objectName), nil
}

func (s *OSSStorage) Delete(ctx context.Context, objectName string) error {
	return s.bucket.DeleteObject(objectName)
}

func (s *OSSStorage) GetURL(objectName string) string {
	return fmt.Sprintf("https://%s.%s/%s", s.bucket.BucketName, s.bucket.Client.Config.Endpoint, objectName)
}
