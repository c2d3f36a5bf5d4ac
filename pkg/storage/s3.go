package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Config はS3互換オブジェクトストレージへの接続設定。
type S3Config struct {
	// Endpoint はS3互換エンドポイントのURL（例: "http://localhost:9000"）。
	Endpoint string
	// Region はリージョン名。MinIOの場合は任意の値でよい。
	Region string
	// AccessKeyID はアクセスキーID。
	AccessKeyID string
	// SecretAccessKey はシークレットアクセスキー。
	SecretAccessKey string
	// Bucket は保存先バケット名。
	Bucket string
	// PublicURL はクライアントに返す公開URLのベース。
	PublicURL string
}

// S3Storage はS3互換オブジェクトストレージへのFileStorage実装。
type S3Storage struct {
	// client はAWS SDKのS3クライアント。
	client *s3.Client
	// bucket は保存先バケット名。
	bucket string
	// publicURL はクライアントに返す公開URLのベース。
	publicURL string
}

// NewS3Storage は新しいS3Storageを生成する。
// バケットが存在しない場合は作成する。
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("AWS SDK設定の読み込みに失敗: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		// MinIOは仮想ホスト形式を解決できないためパス形式でアクセスする
		o.UsePathStyle = true
	})

	s := &S3Storage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}

	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("バケットの確認に失敗: %w", err)
	}
	return s, nil
}

// ensureBucket はバケットの存在を確認し、無ければ作成する。
func (s *S3Storage) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return err
	}

	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return fmt.Errorf("バケットの作成に失敗: %w", err)
	}
	return nil
}

// Save はファイルをオブジェクトストレージにアップロードし、公開URLを返す。
// オブジェクトキーは衝突を避けるためUUIDで生成する。
func (s *S3Storage) Save(ctx context.Context, file io.Reader, filename string, contentType string) (string, error) {
	ext := filepath.Ext(filename)
	key := fmt.Sprintf("uploads/%s%s", uuid.New().String(), ext)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("オブジェクトのアップロードに失敗: %w", err)
	}

	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, key), nil
}

// Delete はURLで指定されたオブジェクトを削除する。
func (s *S3Storage) Delete(ctx context.Context, fileURL string) error {
	key := s.keyFromURL(fileURL)
	if key == "" {
		return nil
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("オブジェクトの削除に失敗: %w", err)
	}
	return nil
}

// keyFromURL は公開URLからオブジェクトキーを取り出す。
// このストレージが生成したURL以外からは取り出せず、空文字列を返す。
func (s *S3Storage) keyFromURL(fileURL string) string {
	prefix := s.publicURL + "/" + s.bucket + "/"
	if !strings.HasPrefix(fileURL, prefix) {
		return ""
	}
	return path.Clean(strings.TrimPrefix(fileURL, prefix))
}
