// Package archive 提交后的订单文档归档
package archive

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Archiver 归档存储
type Archiver interface {
	Put(ctx context.Context, objectName string, data []byte) error
}

// ObjectName 订单归档路径
func ObjectName(poNumber string) string {
	return fmt.Sprintf("purchase-orders/%s.xlsx", poNumber)
}

// MinioConfig MinIO连接参数
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioArchiver MinIO 实现，首次写入时确保 bucket 存在
type MinioArchiver struct {
	client *minio.Client
	bucket string

	bucketOnce sync.Once
	bucketErr  error
}

// NewMinioArchiver 创建MinIO归档
func NewMinioArchiver(cfg MinioConfig) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket}, nil
}

func (a *MinioArchiver) ensureBucket(ctx context.Context) error {
	a.bucketOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.bucketErr = fmt.Errorf("check bucket: %w", err)
			return
		}
		if !exists {
			if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
				a.bucketErr = fmt.Errorf("make bucket: %w", err)
			}
		}
	})
	return a.bucketErr
}

// Put 上传对象
func (a *MinioArchiver) Put(ctx context.Context, objectName string, data []byte) error {
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: xlsxContentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", objectName, err)
	}
	return nil
}

// MemoryArchiver 内存实现，未配置对象存储时使用
type MemoryArchiver struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryArchiver() *MemoryArchiver {
	return &MemoryArchiver{objects: make(map[string][]byte)}
}

func (a *MemoryArchiver) Put(ctx context.Context, objectName string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[objectName] = append([]byte(nil), data...)
	return nil
}

// Get 读取对象
func (a *MemoryArchiver) Get(objectName string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.objects[objectName]
	return b, ok
}
