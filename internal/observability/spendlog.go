// Package observability provides batched spend logging to AWS S3.
package observability

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
)

// SpendLogConfig contains configuration for the S3 spend log.
type SpendLogConfig struct {
	BucketName    string        // S3 bucket name
	Region        string        // AWS region
	AccessKeyID   string        // AWS access key (optional, uses default credentials if empty)
	SecretKey     string        // AWS secret key (optional)
	Endpoint      string        // Custom S3 endpoint (for MinIO, etc.)
	PathPrefix    string        // Prefix for S3 keys (e.g., "omen/spend")
	FlushInterval time.Duration // Flush interval for batching
	BatchSize     int           // Max batch size before flush
	Compression   bool          // Enable gzip compression
}

// DefaultSpendLogConfig returns default configuration from environment.
func DefaultSpendLogConfig() SpendLogConfig {
	return SpendLogConfig{
		BucketName:    os.Getenv("S3_BUCKET_NAME"),
		Region:        os.Getenv("AWS_REGION"),
		AccessKeyID:   os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey:     os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Endpoint:      os.Getenv("S3_ENDPOINT"),
		PathPrefix:    os.Getenv("S3_PATH_PREFIX"),
		FlushInterval: 10 * time.Second,
		BatchSize:     100,
		Compression:   true,
	}
}

// s3Uploader is the S3 surface the spend logger needs. Narrowed for tests.
type s3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SpendLogger batches per-request spend entries and uploads them to S3 as
// date-partitioned JSONL objects.
type SpendLogger struct {
	config SpendLogConfig
	client s3Uploader
	queue  []UsageEvent
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSpendLogger creates a new S3 spend logger.
func NewSpendLogger(cfg SpendLogConfig) (*SpendLogger, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("spendlog: bucket_name is required")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	// Build AWS config
	var awsCfg aws.Config
	var err error

	opts := []func(*config.LoadOptions) error{}

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err = config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("spendlog: failed to load AWS config: %w", err)
	}

	// Create S3 client
	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	sl := &SpendLogger{
		config: cfg,
		client: client,
		queue:  make([]UsageEvent, 0, cfg.BatchSize),
		stopCh: make(chan struct{}),
	}

	// Start background flush goroutine
	sl.wg.Add(1)
	go sl.flushLoop()

	return sl, nil
}

// Record enqueues a spend entry for the next flush.
func (s *SpendLogger) Record(ev UsageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, ev)

	if len(s.queue) >= s.config.BatchSize {
		go s.flush(context.Background())
	}
}

// Shutdown flushes remaining entries and stops the logger.
func (s *SpendLogger) Shutdown(ctx context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	return s.flush(ctx)
}

// flushLoop periodically flushes entries.
func (s *SpendLogger) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// flush uploads queued entries to S3.
func (s *SpendLogger) flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil
	}

	entries := s.queue
	s.queue = make([]UsageEvent, 0, s.config.BatchSize)
	s.mu.Unlock()

	// Build JSONL content
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			continue
		}
	}

	body := buf.Bytes()
	contentType := "application/x-ndjson"

	if s.config.Compression {
		var gz bytes.Buffer
		gw := gzip.NewWriter(&gz)
		if _, err := gw.Write(body); err == nil {
			if err := gw.Close(); err == nil {
				body = gz.Bytes()
				contentType = "application/gzip"
			}
		}
	}

	// Generate S3 key
	now := time.Now().UTC()
	key := s.generateKey(now)

	// Upload to S3
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})

	if err != nil {
		return fmt.Errorf("spendlog: failed to upload entries: %w", err)
	}

	return nil
}

// generateKey generates an S3 key with date partitioning.
func (s *SpendLogger) generateKey(t time.Time) string {
	// Format: prefix/year=YYYY/month=MM/day=DD/hour=HH/spend_timestamp.jsonl
	datePrefix := fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d",
		t.Year(), t.Month(), t.Day(), t.Hour())

	ext := "jsonl"
	if s.config.Compression {
		ext = "jsonl.gz"
	}
	filename := fmt.Sprintf("spend_%d.%s", t.UnixNano(), ext)

	if s.config.PathPrefix != "" {
		return path.Join(s.config.PathPrefix, datePrefix, filename)
	}
	return path.Join(datePrefix, filename)
}
