package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/web2img/engine/internal/common/config"
	"github.com/web2img/engine/internal/metrics"
)

const (
	// keyPrefix namespaces all screenshot objects in the bucket
	keyPrefix = "screenshots/"

	// cacheControl pins objects in edge caches until lifecycle expiry
	cacheControl = "public, max-age=31536000, immutable"

	maxUploadRetries  = 3
	initialRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
	errorQuietWindow  = 60 * time.Second
)

// R2Store uploads screenshots to a Cloudflare R2 bucket over the S3 API
type R2Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
	expiry    int

	gate chan struct{} // bounds concurrent uploads against burst 429s

	mu            sync.Mutex
	throttleCount int
	lastThrottle  time.Time

	metrics *metrics.MetricsCollector
	logger  *zap.Logger
}

// NewR2Store builds the S3 client against the R2 endpoint and installs
// the object lifecycle policy. Lifecycle failure is logged, not fatal.
func NewR2Store(ctx context.Context, cfg config.StorageSettings, mc *metrics.MetricsCollector, logger *zap.Logger) (*R2Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.R2AccessKeyID, cfg.R2SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading R2 credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.R2Endpoint)
		o.UsePathStyle = true
	})

	gateSize := cfg.MaxConcurrentUploads
	if gateSize < 1 {
		gateSize = 1
	}

	s := &R2Store{
		client:    client,
		bucket:    cfg.R2Bucket,
		publicURL: cfg.R2PublicURL,
		expiry:    cfg.R2ObjectExpirationDays,
		gate:      make(chan struct{}, gateSize),
		metrics:   mc,
		logger:    logger,
	}

	if err := s.setupLifecycle(ctx); err != nil {
		logger.Warn("Failed to install lifecycle policy, objects will not expire",
			zap.Error(err))
	}

	logger.Info("R2 storage initialized",
		zap.String("bucket", cfg.R2Bucket),
		zap.Int("expiration_days", cfg.R2ObjectExpirationDays),
		zap.Int("upload_gate", gateSize))

	return s, nil
}

// setupLifecycle installs the expiry rule for screenshot objects
func (s *R2Store) setupLifecycle(ctx context.Context) error {
	if s.expiry <= 0 {
		return nil
	}

	_, err := s.client.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(s.bucket),
		LifecycleConfiguration: &s3types.BucketLifecycleConfiguration{
			Rules: []s3types.LifecycleRule{
				{
					ID:     aws.String("expire-screenshots"),
					Status: s3types.ExpirationStatusEnabled,
					Prefix: aws.String(keyPrefix),
					Expiration: &s3types.LifecycleExpiration{
						Days: aws.Int32(int32(s.expiry)),
					},
				},
			},
		},
	})
	return err
}

// Upload sends the file to R2 under screenshots/{basename}. Throttling
// responses back off exponentially; the throttle streak resets after a
// quiet minute.
func (s *R2Store) Upload(ctx context.Context, path, contentType string) (string, error) {
	select {
	case s.gate <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-s.gate }()

	start := time.Now()
	key := keyPrefix + filepath.Base(path)
	contentType = contentTypeFor(path, contentType)

	var lastErr error
	for attempt := 0; attempt <= maxUploadRetries; attempt++ {
		if attempt > 0 {
			delay := s.throttleDelay()
			s.metrics.RecordStorageRetry()
			s.logger.Warn("Retrying throttled upload",
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				s.metrics.RecordStorageUpload(false, time.Since(start))
				return "", ctx.Err()
			}
		}

		err := s.putObject(ctx, path, key, contentType)
		if err == nil {
			s.metrics.RecordStorageUpload(true, time.Since(start))
			s.logger.Debug("Screenshot uploaded",
				zap.String("key", key),
				zap.Duration("duration", time.Since(start)))
			return s.publicURL + "/" + key, nil
		}
		lastErr = err

		if !isThrottled(err) {
			break
		}
		s.recordThrottle()
	}

	s.metrics.RecordStorageUpload(false, time.Since(start))
	return "", fmt.Errorf("%w: %v", ErrUploadFailed, lastErr)
}

func (s *R2Store) putObject(ctx context.Context, path, key, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         f,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(cacheControl),
	})
	return err
}

// Stats lists the screenshot prefix
func (s *R2Store) Stats(ctx context.Context) (Stats, error) {
	var objects, bytes int64

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return Stats{}, err
		}
		for _, obj := range page.Contents {
			objects++
			if obj.Size != nil {
				bytes += *obj.Size
			}
		}
	}

	return Stats{
		Backend:        "r2",
		Objects:        objects,
		TotalBytes:     bytes,
		ExpirationDays: s.expiry,
	}, nil
}

// throttleDelay doubles with the current throttle streak, capped
func (s *R2Store) throttleDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastThrottle) > errorQuietWindow {
		s.throttleCount = 0
	}

	if s.throttleCount >= 5 {
		return maxRetryDelay
	}
	delay := initialRetryDelay << s.throttleCount
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (s *R2Store) recordThrottle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastThrottle) > errorQuietWindow {
		s.throttleCount = 0
	}
	s.throttleCount++
	s.lastThrottle = time.Now()
}

// isThrottled matches the rate-limit codes R2 returns under burst load
func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "SlowDown", "ThrottlingException":
		return true
	}
	return false
}
