package aws_s3

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vellumdb/vellum/wal"
)

type archiver struct {
	s3Client   *s3.Client
	bucketName string
	uploader   *manager.Uploader
	downloader *manager.Downloader
	region     string
}

// NewArchiver returns a write ahead log archiver that keeps closed segments as
// objects of the given bucket.
func NewArchiver(s3Client *s3.Client, bucketName string, region string) (wal.Archiver, error) {
	if s3Client == nil {
		return nil, fmt.Errorf("s3Client parameter can't be nil")
	}
	if bucketName == "" {
		return nil, fmt.Errorf("bucketName can't be empty string")
	}
	return &archiver{
		s3Client:   s3Client,
		bucketName: bucketName,
		uploader:   manager.NewUploader(s3Client),
		downloader: manager.NewDownloader(s3Client),
		region:     region,
	}, nil
}

// CreateBucket creates this archiver's bucket.
func (a *archiver) CreateBucket(ctx context.Context) error {
	_, err := a.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucketName),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(a.region),
		},
	})
	if err != nil {
		return fmt.Errorf("couldn't create bucket %s in Region %s, details: %v", a.bucketName, a.region, err)
	}
	return nil
}

// Archive uploads a closed segment as an object keyed by its name.
func (a *archiver) Archive(ctx context.Context, name string, data []byte) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(name),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("couldn't upload segment %s to bucket %s, details: %v", name, a.bucketName, err)
	}
	return nil
}

// Retrieve downloads an archived segment back.
func (a *archiver) Retrieve(ctx context.Context, name string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := a.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't download segment %s from bucket %s, details: %v", name, a.bucketName, err)
	}
	return buf.Bytes(), nil
}
