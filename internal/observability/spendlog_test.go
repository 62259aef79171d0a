package observability

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu      sync.Mutex
	uploads []*s3.PutObjectInput
}

func (f *fakeUploader) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, params)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func newTestSpendLogger(cfg SpendLogConfig, uploader s3Uploader) *SpendLogger {
	sl := &SpendLogger{
		config: cfg,
		client: uploader,
		queue:  make([]UsageEvent, 0, cfg.BatchSize),
		stopCh: make(chan struct{}),
	}
	sl.wg.Add(1)
	go sl.flushLoop()
	return sl
}

func TestSpendLogger_FlushOnShutdown(t *testing.T) {
	uploader := &fakeUploader{}
	sl := newTestSpendLogger(SpendLogConfig{
		BucketName:    "spend",
		PathPrefix:    "omen/spend",
		FlushInterval: time.Hour, // only shutdown should flush
		BatchSize:     100,
	}, uploader)

	sl.Record(UsageEvent{RequestID: "req-1", Provider: "openai", CostUSD: 0.01})
	sl.Record(UsageEvent{RequestID: "req-2", Provider: "ollama", CostUSD: 0})

	require.NoError(t, sl.Shutdown(context.Background()))
	require.Equal(t, 1, uploader.count())

	upload := uploader.uploads[0]
	assert.Equal(t, "spend", *upload.Bucket)
	assert.True(t, strings.HasPrefix(*upload.Key, "omen/spend/year="))

	body, err := io.ReadAll(upload.Body)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "req-1")
	assert.Contains(t, lines[1], "req-2")
}

func TestSpendLogger_FlushOnBatchSize(t *testing.T) {
	uploader := &fakeUploader{}
	sl := newTestSpendLogger(SpendLogConfig{
		BucketName:    "spend",
		FlushInterval: time.Hour,
		BatchSize:     3,
	}, uploader)

	for i := 0; i < 3; i++ {
		sl.Record(UsageEvent{RequestID: "req", TotalTokens: i})
	}

	// Batch flush runs on a goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for uploader.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 1, uploader.count())

	require.NoError(t, sl.Shutdown(context.Background()))
}

func TestSpendLogger_Compression(t *testing.T) {
	uploader := &fakeUploader{}
	sl := newTestSpendLogger(SpendLogConfig{
		BucketName:    "spend",
		FlushInterval: time.Hour,
		BatchSize:     100,
		Compression:   true,
	}, uploader)

	sl.Record(UsageEvent{RequestID: "req-gz", Model: "llama3"})
	require.NoError(t, sl.Shutdown(context.Background()))
	require.Equal(t, 1, uploader.count())

	upload := uploader.uploads[0]
	assert.Equal(t, "application/gzip", *upload.ContentType)
	assert.True(t, strings.HasSuffix(*upload.Key, ".jsonl.gz"))

	raw, err := io.ReadAll(upload.Body)
	require.NoError(t, err)
	gr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	body, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Contains(t, string(body), "req-gz")
}

func TestSpendLogger_EmptyFlush(t *testing.T) {
	uploader := &fakeUploader{}
	sl := newTestSpendLogger(SpendLogConfig{
		BucketName:    "spend",
		FlushInterval: time.Hour,
		BatchSize:     10,
	}, uploader)

	require.NoError(t, sl.Shutdown(context.Background()))
	assert.Equal(t, 0, uploader.count())
}

func TestNewSpendLogger_RequiresBucket(t *testing.T) {
	_, err := NewSpendLogger(SpendLogConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket_name")
}
