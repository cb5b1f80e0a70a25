package storage

import (
	"campusadmin/internal/services"
	"campusadmin/pkg/config"
	apperrors "campusadmin/pkg/errors"
	"campusadmin/pkg/logger"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

type fakePresigner struct {
	keys []string
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.keys = append(f.keys, *params.Key)
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + *params.Key}, nil
}

func pngUpload() *services.AvatarUpload {
	return &services.AvatarUpload{
		FileName:    "me.PNG",
		ContentType: "image/png",
		Size:        4,
		Body:        strings.NewReader("\x89PNG"),
	}
}

func TestUploadAvatarReturnsObjectKey(t *testing.T) {
	putter := &fakePutter{}
	presigner := &fakePresigner{}
	store := newAvatarStore(putter, presigner, config.S3Config{Bucket: "avatars-bucket"}, logger.Discard())

	upload := pngUpload()
	upload.FileName = "me.html"
	key, err := store.UploadAvatar(context.Background(), "admin-1", upload)
	require.NoError(t, err)

	require.Len(t, putter.inputs, 1)
	assert.Equal(t, key, *putter.inputs[0].Key)
	assert.True(t, strings.HasPrefix(key, "avatars/admin-1/"))
	// 扩展名只看内容类型，不看文件名
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.Equal(t, "avatars-bucket", *putter.inputs[0].Bucket)
	assert.Equal(t, "image/png", *putter.inputs[0].ContentType)
	assert.Empty(t, presigner.keys)
}

func TestAvatarURLWithPublicBaseURL(t *testing.T) {
	presigner := &fakePresigner{}
	store := newAvatarStore(&fakePutter{}, presigner, config.S3Config{
		Bucket:        "avatars-bucket",
		PublicBaseURL: "https://cdn.example/",
	}, logger.Discard())

	key := "avatars/admin-1/x.png"
	assert.Equal(t, "https://cdn.example/"+key, store.PublicAvatarURL(key))
	url, err := store.AvatarURL(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/"+key, url)
	assert.Empty(t, presigner.keys)
}

func TestAvatarURLPresignsOnRead(t *testing.T) {
	presigner := &fakePresigner{}
	store := newAvatarStore(&fakePutter{}, presigner, config.S3Config{Bucket: "b", PresignTTL: time.Hour}, logger.Discard())

	key := "avatars/admin-1/x.png"
	assert.Empty(t, store.PublicAvatarURL(key))

	first, err := store.AvatarURL(context.Background(), key)
	require.NoError(t, err)
	second, err := store.AvatarURL(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/"+key, first)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{key, key}, presigner.keys)

	// 早期保存的完整地址原样返回
	legacy := "https://old.example/avatars/admin-1/x.png"
	url, err := store.AvatarURL(context.Background(), legacy)
	require.NoError(t, err)
	assert.Equal(t, legacy, url)
}

func TestUploadAvatarRejectsInvalidFiles(t *testing.T) {
	store := newAvatarStore(&fakePutter{}, &fakePresigner{}, config.S3Config{Bucket: "b"}, logger.Discard())

	tooLarge := pngUpload()
	tooLarge.Size = MaxAvatarSize + 1
	_, err := store.UploadAvatar(context.Background(), "admin-1", tooLarge)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidInput))

	pdf := pngUpload()
	pdf.ContentType = "application/pdf"
	_, err = store.UploadAvatar(context.Background(), "admin-1", pdf)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidInput))

	_, err = store.UploadAvatar(context.Background(), "admin-1", nil)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidInput))
}

func TestUploadAvatarStorageFailure(t *testing.T) {
	putter := &fakePutter{err: errors.New("bucket unavailable")}
	store := newAvatarStore(putter, &fakePresigner{}, config.S3Config{Bucket: "b"}, logger.Discard())

	_, err := store.UploadAvatar(context.Background(), "admin-1", pngUpload())
	assert.True(t, apperrors.Is(err, apperrors.KindExternalCallFailure))
}
