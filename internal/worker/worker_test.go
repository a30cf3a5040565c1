package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-live/backend/internal/models"
	"github.com/aura-live/backend/internal/store"
	"github.com/aura-live/backend/pkg/queue"
)

type fakeUploader struct {
	mu      sync.Mutex
	err     error
	objects map[string][]byte
}

func (u *fakeUploader) UploadTranscript(_ context.Context, key string, body io.Reader) error {
	if u.err != nil {
		return u.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = make(map[string][]byte)
	}
	u.objects[key] = b
	return nil
}

type fakeJobs struct {
	mu      sync.Mutex
	pending []*queue.Job
	retried []*queue.Job
}

func (j *fakeJobs) Dequeue(ctx context.Context) (*queue.Job, error) {
	j.mu.Lock()
	if len(j.pending) == 0 {
		j.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
			return nil, nil
		}
	}
	defer j.mu.Unlock()
	job := j.pending[0]
	j.pending = j.pending[1:]
	return job, nil
}

func (j *fakeJobs) Retry(_ context.Context, job *queue.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job.Attempt++
	j.retried = append(j.retried, job)
	return nil
}

func (j *fakeJobs) retries() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.retried)
}

func endedStream(t *testing.T, mem *store.Memory, id string) {
	t.Helper()
	ctx := context.Background()
	st := &models.Stream{ID: id, HostUserID: "host", Title: "t", Type: models.StreamTypePublic, ChatID: "chat-" + id}
	require.NoError(t, mem.CreateStream(ctx, st, &models.Chat{ID: st.ChatID}))
	require.NoError(t, mem.StartStream(ctx, id, time.Now()))
	for i, text := range []string{"first", "second", "removed"} {
		require.NoError(t, mem.AppendChatMessage(ctx, &models.ChatMessage{
			ID: "m" + string(rune('1'+i)), ChatID: st.ChatID, StreamID: id, SenderUserID: "alice", Content: text, SentAt: time.Now(),
		}))
	}
	require.NoError(t, mem.SoftDeleteChatMessage(ctx, id, "m3"))
	require.NoError(t, mem.EndStream(ctx, id, time.Now()))
}

func exportJob(t *testing.T, streamID string) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(queue.JobTypeTranscriptExport, queue.TranscriptExportPayload{StreamID: streamID})
	require.NoError(t, err)
	return job
}

func TestTranscriptExporter_Process(t *testing.T) {
	mem := store.NewMemory()
	endedStream(t, mem, "s1")
	up := &fakeUploader{}
	p := NewTranscriptExporter(mem, up, &fakeJobs{}, zaptest.NewLogger(t))

	require.NoError(t, p.Process(context.Background(), exportJob(t, "s1")))

	body, ok := up.objects["transcripts/s1.ndjson"]
	require.True(t, ok)
	var lines []transcriptLine
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var l transcriptLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.Len(t, lines, 2, "deleted messages are not exported")
	assert.Equal(t, "first", lines[0].Content)
	assert.Equal(t, "second", lines[1].Content)

	st, err := mem.GetStream(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "transcripts/s1.ndjson", st.TranscriptKey)

	// A second run is a no-op.
	up.objects = nil
	require.NoError(t, p.Process(context.Background(), exportJob(t, "s1")))
	assert.Nil(t, up.objects)
}

func TestTranscriptExporter_ProcessErrors(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	live := &models.Stream{ID: "live", HostUserID: "host", Title: "t", ChatID: "c"}
	require.NoError(t, mem.CreateStream(ctx, live, &models.Chat{ID: "c"}))
	require.NoError(t, mem.StartStream(ctx, "live", time.Now()))
	endedStream(t, mem, "ended")

	p := NewTranscriptExporter(mem, &fakeUploader{}, &fakeJobs{}, zaptest.NewLogger(t))
	assert.Error(t, p.Process(ctx, &queue.Job{Type: "email"}))
	assert.Error(t, p.Process(ctx, exportJob(t, "missing")))
	assert.Error(t, p.Process(ctx, exportJob(t, "live")), "live streams are not exported yet")

	failing := NewTranscriptExporter(mem, &fakeUploader{err: errors.New("s3 down")}, &fakeJobs{}, zaptest.NewLogger(t))
	assert.Error(t, failing.Process(ctx, exportJob(t, "ended")))
	st, err := mem.GetStream(ctx, "ended")
	require.NoError(t, err)
	assert.Empty(t, st.TranscriptKey)
}

func TestTranscriptExporter_RunRetriesFailures(t *testing.T) {
	mem := store.NewMemory()
	endedStream(t, mem, "ok")
	jobs := &fakeJobs{pending: []*queue.Job{exportJob(t, "missing"), exportJob(t, "ok")}}
	up := &fakeUploader{}
	p := NewTranscriptExporter(mem, up, jobs, zaptest.NewLogger(t))
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		st, err := mem.GetStream(context.Background(), "ok")
		return err == nil && st.TranscriptKey != ""
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 1, jobs.retries())
}
