package storage

import (
	"campusadmin/internal/services"
	"campusadmin/pkg/config"
	apperrors "campusadmin/pkg/errors"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MaxAvatarSize 头像最大 2MB
const MaxAvatarSize = 2 << 20

var allowedAvatarTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// AvatarStore 管理员头像存储（S3）
type AvatarStore struct {
	putter        objectPutter
	presigner     objectPresigner
	bucket        string
	publicBaseURL string
	presignTTL    time.Duration
	log           *logrus.Logger
}

// NewAvatarStore 根据配置创建 S3 客户端
func NewAvatarStore(ctx context.Context, cfg config.S3Config, log *logrus.Logger) (*AvatarStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("未配置头像存储桶")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("加载S3配置失败: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store := newAvatarStore(client, s3.NewPresignClient(client), cfg, log)
	log.WithField("bucket", cfg.Bucket).Info("S3头像存储初始化成功")
	return store, nil
}

func newAvatarStore(putter objectPutter, presigner objectPresigner, cfg config.S3Config, log *logrus.Logger) *AvatarStore {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AvatarStore{
		putter:        putter,
		presigner:     presigner,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		presignTTL:    ttl,
		log:           log,
	}
}

// UploadAvatar 上传头像，返回对象键
// 扩展名取自校验过的内容类型
func (a *AvatarStore) UploadAvatar(ctx context.Context, adminID string, upload *services.AvatarUpload) (string, error) {
	if upload == nil || upload.Body == nil {
		return "", apperrors.InvalidInput("头像文件为空")
	}
	if upload.Size > MaxAvatarSize {
		return "", apperrors.InvalidInput("头像文件不能超过2MB")
	}
	contentType := strings.ToLower(strings.TrimSpace(upload.ContentType))
	ext, ok := allowedAvatarTypes[contentType]
	if !ok {
		return "", apperrors.InvalidInput("不支持的头像格式")
	}

	key := AvatarKey(adminID, uuid.New().String(), ext)
	_, err := a.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        upload.Body,
		ContentType: aws.String(contentType),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		a.log.WithError(err).WithField("key", key).Error("上传头像失败")
		return "", apperrors.External("上传头像失败", err)
	}
	return key, nil
}

// PublicAvatarURL 公开访问地址，未配置公开前缀时返回空
func (a *AvatarStore) PublicAvatarURL(ref string) string {
	if isAbsoluteURL(ref) {
		return ref
	}
	if a.publicBaseURL == "" || ref == "" {
		return ""
	}
	return a.publicBaseURL + "/" + ref
}

// AvatarURL 读取时生成访问地址，没有公开前缀时预签名
func (a *AvatarStore) AvatarURL(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", apperrors.InvalidInput("头像对象键为空")
	}
	if url := a.PublicAvatarURL(ref); url != "" {
		return url, nil
	}
	presigned, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(a.presignTTL))
	if err != nil {
		return "", apperrors.External("生成头像访问地址失败", err)
	}
	return presigned.URL, nil
}

// AvatarKey 头像对象键
func AvatarKey(adminID, objectID, ext string) string {
	return fmt.Sprintf("avatars/%s/%s%s", adminID, objectID, ext)
}

// isAbsoluteURL 早期记录直接保存了完整地址
func isAbsoluteURL(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}
