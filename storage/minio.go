package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ssebide/music-platform/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioPublisher mirrors assembled audio into a MinIO bucket.
type MinioPublisher struct {
	client *minio.Client
	bucket string
}

// NewMinioPublisher 初始化 MinIO 客户端并确保存储桶存在
func NewMinioPublisher(cfg *config.Config) (*MinioPublisher, error) {
	log.Printf("正在连接 MinIO 服务器...")
	log.Printf("Bucket: %s", cfg.MinioBucket)
	if len(cfg.MinioAccessKey) > 4 {
		log.Printf("AccessKey: %s...", cfg.MinioAccessKey[:4])
	}

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		log.Printf("✅ 成功创建存储桶: %s", cfg.MinioBucket)
	}

	log.Println("✅ MinIO 客户端初始化成功！")
	return &MinioPublisher{client: client, bucket: cfg.MinioBucket}, nil
}

// Publish uploads localPath as objectName and returns the object location.
func (p *MinioPublisher) Publish(ctx context.Context, localPath, objectName string) (string, error) {
	info, err := p.client.FPutObject(ctx, p.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: ContentTypeFor(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to minio: %w", objectName, err)
	}
	return fmt.Sprintf("minio://%s/%s", info.Bucket, info.Key), nil
}

// ObjectInfo describes one published object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// List returns the published objects under prefix together with their totals.
func (p *MinioPublisher) List(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	var objects []ObjectInfo
	stats := &BucketStats{}
	for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, nil, fmt.Errorf("列出对象失败: %w", obj.Err)
		}
		contentType := obj.ContentType
		if contentType == "" {
			contentType = ContentTypeFor(obj.Key)
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ContentType:  contentType,
		})
		stats.TotalObjects++
		stats.TotalSize += obj.Size
		if obj.LastModified.After(stats.LastModified) {
			stats.LastModified = obj.LastModified
		}
	}
	return objects, stats, nil
}

// RemovePrefix deletes every published object under prefix and returns how many were removed.
func (p *MinioPublisher) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("refusing to delete without a prefix")
	}
	objects, _, err := p.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, obj := range objects {
		objectsCh <- minio.ObjectInfo{Key: obj.Key}
	}
	close(objectsCh)

	failed := 0
	for rErr := range p.client.RemoveObjects(ctx, p.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		log.Printf("删除对象 %s 失败: %v", rErr.ObjectName, rErr.Err)
		failed++
	}
	if failed > 0 {
		return len(objects) - failed, fmt.Errorf("failed to delete %d objects under %s", failed, prefix)
	}
	return len(objects), nil
}
