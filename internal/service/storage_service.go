package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"prepwise_backend/internal/config"
	"prepwise_backend/internal/util"
	"prepwise_backend/pkg/logger"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MediaStorage 面试录音/录像的对象存储
type MediaStorage interface {
	Put(ctx context.Context, key string, localPath string, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
}

// MediaKey 生成对象键 interviews/<interview>/<question>/<user>-<ts><ext>
func MediaKey(userID, interviewID, questionID uint, filename string, at time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("interviews/%d/%d/%d-%d%s", interviewID, questionID, userID, at.UnixNano(), ext)
}

// LocalMediaStorage 写入本地目录，由 /uploads 静态路由对外提供
type LocalMediaStorage struct {
	Root string
}

func (p *LocalMediaStorage) Put(ctx context.Context, key string, localPath string, contentType string) (string, error) {
	dst := filepath.Join(p.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}
	if localPath == dst {
		return "/uploads/" + key, nil
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", err
	}
	return "/uploads/" + key, nil
}

func (p *LocalMediaStorage) Remove(ctx context.Context, key string) error {
	return os.Remove(filepath.Join(p.Root, filepath.FromSlash(key)))
}

// MinioMediaStorage MinIO 实现
type MinioMediaStorage struct {
	Bucket string
	Client *minio.Client
}

func NewMinioMediaStorage(cfg *config.StorageConfig) (*MinioMediaStorage, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}
	return &MinioMediaStorage{Bucket: cfg.MinioBucket, Client: client}, nil
}

func (p *MinioMediaStorage) Put(ctx context.Context, key string, localPath string, contentType string) (string, error) {
	_, err := p.Client.FPutObject(ctx, p.Bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return "/" + p.Bucket + "/" + key, nil
}

func (p *MinioMediaStorage) Remove(ctx context.Context, key string) error {
	return p.Client.RemoveObject(ctx, p.Bucket, key, minio.RemoveObjectOptions{})
}

// OSSMediaStorage 阿里云 OSS 实现
type OSSMediaStorage struct {
	Endpoint string
	Bucket   *oss.Bucket
}

func NewOSSMediaStorage(cfg *config.StorageConfig) (*OSSMediaStorage, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	bucket, err := client.Bucket(cfg.OSSBucket)
	if err != nil {
		return nil, err
	}
	return &OSSMediaStorage{Endpoint: cfg.OSSEndpoint, Bucket: bucket}, nil
}

func (p *OSSMediaStorage) Put(ctx context.Context, key string, localPath string, contentType string) (string, error) {
	if err := p.Bucket.PutObjectFromFile(key, localPath, oss.ContentType(contentType)); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s.%s/%s", p.Bucket.BucketName, p.Endpoint, key), nil
}

func (p *OSSMediaStorage) Remove(ctx context.Context, key string) error {
	return p.Bucket.DeleteObject(key)
}

// NewMediaStorage 按 storage.type 选择实现，远端初始化失败时回落到本地
func NewMediaStorage(cfg *config.StorageConfig) MediaStorage {
	switch cfg.Type {
	case util.StorageMinio:
		p, err := NewMinioMediaStorage(cfg)
		if err == nil {
			return p
		}
		logger.Log.Error("Failed to init minio storage, falling back to local", zap.Error(err))
	case util.StorageOSS:
		p, err := NewOSSMediaStorage(cfg)
		if err == nil {
			return p
		}
		logger.Log.Error("Failed to init oss storage, falling back to local", zap.Error(err))
	}
	return &LocalMediaStorage{Root: cfg.LocalPath}
}
