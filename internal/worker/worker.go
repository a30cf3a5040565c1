package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/pkg/queue"
	"github.com/aura-live/backend/pkg/storage"
)

// TranscriptStore is the part of the durable store the exporter reads and updates.
type TranscriptStore interface {
	GetStream(ctx context.Context, id string) (*models.Stream, error)
	ListChatMessages(ctx context.Context, streamID string) ([]models.ChatMessage, error)
	SetTranscriptKey(ctx context.Context, streamID, key string) error
}

// Uploader writes a transcript object.
type Uploader interface {
	UploadTranscript(ctx context.Context, key string, body io.Reader) error
}

// Jobs is the queue the exporter consumes.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// TranscriptExporter processes transcript export jobs: read the stream's chat, upload NDJSON to S3, record the key.
type TranscriptExporter struct {
	store    TranscriptStore
	uploader Uploader
	jobs     Jobs
	backoff  time.Duration
	logger   *zap.Logger
}

// NewTranscriptExporter creates a transcript export processor.
func NewTranscriptExporter(store TranscriptStore, uploader Uploader, jobs Jobs, logger *zap.Logger) *TranscriptExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptExporter{store: store, uploader: uploader, jobs: jobs, backoff: queue.RetryBackoff, logger: logger}
}

type transcriptLine struct {
	MessageID    string    `json:"message_id"`
	SenderUserID string    `json:"sender_user_id"`
	Content      string    `json:"content"`
	ReplyTo      *string   `json:"reply_to,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}

// Process executes one transcript export job.
func (p *TranscriptExporter) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeTranscriptExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.TranscriptExportPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	st, err := p.store.GetStream(ctx, payload.StreamID)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", payload.StreamID, err)
	}
	if st.Status != models.StreamStatusEnded {
		return fmt.Errorf("stream %s is %s, not ended", st.ID, st.Status)
	}
	if st.TranscriptKey != "" {
		p.logger.Info("transcript already exported", zap.String("stream_id", st.ID), zap.String("s3_key", st.TranscriptKey))
		return nil
	}

	msgs, err := p.store.ListChatMessages(ctx, st.ID)
	if err != nil {
		return fmt.Errorf("list chat messages: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, m := range msgs {
		if err := enc.Encode(transcriptLine{
			MessageID:    m.ID,
			SenderUserID: m.SenderUserID,
			Content:      m.Content,
			ReplyTo:      m.ReplyTo,
			SentAt:       m.SentAt,
		}); err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
	}

	key := storage.TranscriptKey(st.ID)
	if err := p.uploader.UploadTranscript(ctx, key, &buf); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.store.SetTranscriptKey(ctx, st.ID, key); err != nil {
		p.logger.Error("record transcript key failed", zap.Error(err), zap.String("stream_id", st.ID))
		return fmt.Errorf("update db: %w", err)
	}

	p.logger.Info("transcript export completed", zap.String("stream_id", st.ID), zap.String("s3_key", key), zap.Int("messages", len(msgs)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *TranscriptExporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("transcript worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.jobs.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *TranscriptExporter) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
