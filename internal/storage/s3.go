package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hitoshi/newsarchive/internal/model"
)

// s3API はS3Storeが利用するS3クライアントの操作。テストではフェイクに差し替える。
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config はS3上のアーカイブオブジェクトの設定。
// 認証情報はAWS標準のクレデンシャルチェーンから取得する。
type S3Config struct {
	Bucket string
	Key    string
	Region string
	// Endpoint はMinIO等のS3互換ストレージのURL。
	Endpoint     string
	UsePathStyle bool
}

// S3Store はS3のオブジェクトとしてアーカイブを保存する。
// バージョントークンはETagで、書き込みはIf-Match / If-None-Matchによる条件付きPUT。
type S3Store struct {
	client s3API
	bucket string
	key    string
}

// NewS3Store はAWSのデフォルト設定からS3Storeを生成する。
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3Store(client, cfg.Bucket, cfg.Key), nil
}

func newS3Store(client s3API, bucket, key string) *S3Store {
	return &S3Store{client: client, bucket: bucket, key: key}
}

// Describe はログ出力用の保存先名を返す。
func (s *S3Store) Describe() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

// Read はオブジェクトを取得する。存在しない場合は model.ErrArchiveNotFound を返す。
func (s *S3Store) Read(ctx context.Context) (*model.Archive, model.VersionToken, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, "", model.ErrArchiveNotFound
		}
		return nil, "", fmt.Errorf("failed to get %s: %w", s.Describe(), err)
	}
	defer out.Body.Close()

	token := model.VersionToken(aws.ToString(out.ETag))
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, token, fmt.Errorf("failed to read %s: %w", s.Describe(), err)
	}

	a, err := model.DecodeArchive(data)
	if err != nil {
		return nil, token, err
	}
	return a, token, nil
}

// Write はETagがExpectedと一致する場合のみオブジェクトを置き換える。
// Expectedが空の場合はオブジェクトが存在しないときのみ作成する。
func (s *S3Store) Write(ctx context.Context, w model.ArchiveWrite) (model.VersionToken, error) {
	data, err := model.EncodeArchive(w.Archive)
	if err != nil {
		return "", err
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json; charset=utf-8"),
	}
	if w.Expected.IsEmpty() {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(string(w.Expected))
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		if isS3PreconditionFailed(err) {
			return "", fmt.Errorf("%s: %w: %v", s.Describe(), model.ErrWriteConflict, err)
		}
		return "", fmt.Errorf("failed to put %s: %w", s.Describe(), err)
	}
	return model.VersionToken(aws.ToString(out.ETag)), nil
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

// isS3PreconditionFailed は条件付きPUTの不成立（412）と同時書き込みの競合（409）を判定する。
func isS3PreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusPreconditionFailed, http.StatusConflict:
			return true
		}
	}
	return false
}
