package kvstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/tabsplit/billsync/interfaces"
)

var _ interfaces.KVStore = (*S3Backend)(nil)

// expiresAtMetadataKey holds the record expiry as RFC 3339 in object
// metadata. S3 has no per-object TTL, so expiry is checked on read and the
// object deleted lazily.
const expiresAtMetadataKey = "Expires-At"

// S3Backend implements a storage backend using Amazon S3 or compatible
// services. It supports both public read-only access and authenticated
// write access.
type S3Backend struct {
	client         *s3.S3
	writeClient    *s3.S3
	bucketName     string
	prefix         string
	log            *slog.Logger
	locationURI    string
	hasWriteAccess bool
}

// NewS3Backend creates a new S3 storage backend.
// If accessKey and secretKey are provided, the backend will have write
// access. Otherwise, it will be read-only for publicly accessible objects.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	if log == nil {
		log = slog.Default()
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	baseCfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		baseCfg.Endpoint = aws.String(endpoint)
		baseCfg.S3ForcePathStyle = aws.Bool(true)
	}

	baseSess, err := session.NewSession(&baseCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	readClient := s3.New(baseSess)

	hasWriteAccess := accessKey != "" && secretKey != ""
	writeClient := readClient
	if hasWriteAccess {
		writeCfg := baseCfg.Copy()
		writeCfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")

		writeSess, err := session.NewSession(writeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS write session: %w", err)
		}
		writeClient = s3.New(writeSess)
	} else {
		log.Warn("No S3 credentials provided - write operations may fail unless bucket is public writable")
	}

	return &S3Backend{
		client:         readClient,
		writeClient:    writeClient,
		bucketName:     bucketName,
		prefix:         prefix,
		log:            log,
		locationURI:    uri,
		hasWriteAccess: hasWriteAccess,
	}, nil
}

// Get retrieves the value for key, treating objects past their recorded
// expiry as absent.
func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("%w: s3 get: %v", interfaces.ErrTransport, err)
	}
	defer out.Body.Close()

	if s3MetadataExpired(out.Metadata) {
		_ = b.Del(ctx, key)
		return nil, interfaces.ErrNotFound
	}

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: s3 read body: %v", interfaces.ErrTransport, err)
	}
	return data, nil
}

// Set stores value under key with the expiry recorded in object metadata.
func (b *S3Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", interfaces.ErrValidation)
	}

	expiresAt := time.Now().Add(ttl).UTC().Format(time.RFC3339)
	_, err := b.writeClient.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
		Body:   bytes.NewReader(value),
		Metadata: map[string]*string{
			expiresAtMetadataKey: aws.String(expiresAt),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: s3 put: %v", interfaces.ErrTransport, err)
	}

	b.log.Debug("Stored record in S3",
		slog.String("bucket", b.bucketName),
		slog.Int("size", len(value)))
	return nil
}

// Del removes the object for key. Absent keys are ignored.
func (b *S3Backend) Del(ctx context.Context, key string) error {
	_, err := b.writeClient.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("%w: s3 delete: %v", interfaces.ErrTransport, err)
	}
	return nil
}

// Exists reports whether key is present and unexpired.
func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	out, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: s3 head: %v", interfaces.ErrTransport, err)
	}
	return !s3MetadataExpired(out.Metadata), nil
}

// Available checks whether the bucket answers a HEAD request.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	return err == nil
}

// Name returns the backend identifier for logging.
func (b *S3Backend) Name() string { return "s3" }

// LocationURI returns the URI of this backend.
func (b *S3Backend) LocationURI() string { return b.locationURI }

func (b *S3Backend) objectKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return path.Join(b.prefix, hex.EncodeToString(sum[:]))
}

func s3MetadataExpired(md map[string]*string) bool {
	raw, ok := md[expiresAtMetadataKey]
	if !ok || raw == nil {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return false
	}
	return time.Now().After(expiresAt)
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
