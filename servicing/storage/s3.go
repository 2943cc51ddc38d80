package storage

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"

	servicingaws "github.com/ledgerly/servicing-app/servicing/aws"
)

type S3Store struct {
	bucket     string
	svc        s3iface.S3API
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

func NewS3Store(cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("BULK_S3_BUCKET must be set for s3 storage")
	}
	sess, err := servicingaws.NewSession(cfg.RoleArn, cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create S3 session")
	}
	return newS3Store(sess, cfg.Bucket), nil
}

func newS3Store(sess *session.Session, bucket string) *S3Store {
	svc := s3.New(sess)
	return &S3Store{
		bucket:     bucket,
		svc:        svc,
		uploader:   s3manager.NewUploaderWithClient(svc),
		downloader: s3manager.NewDownloaderWithClient(svc),
	}
}

func (s *S3Store) Download(ctx context.Context, ref string, maxBytes int64) ([]byte, error) {
	bucket, key, err := parseS3Uri(ref)
	if err != nil {
		return nil, err
	}

	head, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", ref)
	}
	if size := aws.Int64Value(head.ContentLength); maxBytes > 0 && size > maxBytes {
		return nil, errors.Wrapf(ErrTooLarge, "%s is %d bytes", ref, size)
	}

	buff := &aws.WriteAtBuffer{}
	if _, err := s.downloader.DownloadWithContext(ctx, buff, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to download %s", ref)
	}
	return buff.Bytes(), nil
}

func (s *S3Store) Upload(ctx context.Context, key string, body []byte) (string, error) {
	if _, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	}); err != nil {
		return "", errors.Wrapf(err, "failed to upload %s", key)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *S3Store) URL(ctx context.Context, ref string, expiry time.Duration) (string, error) {
	bucket, key, err := parseS3Uri(ref)
	if err != nil {
		return "", err
	}
	req, _ := s.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	req.SetContext(ctx)
	url, err := req.Presign(expiry)
	if err != nil {
		return "", errors.Wrapf(err, "failed to presign %s", ref)
	}
	return url, nil
}

func (s *S3Store) Delete(ctx context.Context, ref string) error {
	bucket, key, err := parseS3Uri(ref)
	if err != nil {
		return err
	}
	if _, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return errors.Wrapf(err, "failed to delete %s", ref)
	}
	return nil
}

func parseS3Uri(str string) (bucket string, key string, err error) {
	if !strings.HasPrefix(str, "s3://") {
		return "", "", errors.Errorf("not an s3 uri: %q", str)
	}
	resultArr := strings.SplitN(strings.TrimPrefix(str, "s3://"), "/", 2)
	if len(resultArr) == 1 || resultArr[0] == "" || resultArr[1] == "" {
		return "", "", errors.Errorf("s3 uri %q must name a bucket and key", str)
	}
	return resultArr[0], resultArr[1], nil
}
