package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aura-remote/backend/pkg/queue"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) PutJSON(ctx context.Context, key string, body []byte) (string, error) {
	args := m.Called(key, body)
	return args.String(0), args.Error(1)
}

// sliceSource hands out queued jobs, then cancels the run once drained.
type sliceSource struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
	cancel  context.CancelFunc
}

func (s *sliceSource) Dequeue(ctx context.Context) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		s.cancel()
		return nil, ctx.Err()
	}
	j := s.jobs[0]
	s.jobs = s.jobs[1:]
	return j, nil
}

func (s *sliceSource) Retry(ctx context.Context, job *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Attempt++
	s.retried = append(s.retried, job)
	return nil
}

func archiveJob(t *testing.T, sessionID string, at time.Time) *queue.Job {
	t.Helper()
	body, err := json.Marshal(queue.HistoryArchivePayload{
		Collection: "session_history",
		SessionID:  sessionID,
		Document:   json.RawMessage(`{"session":{"id":"` + sessionID + `"}}`),
		ArchivedAt: at,
	})
	require.NoError(t, err)
	return &queue.Job{ID: "job-" + sessionID, Type: queue.JobTypeHistoryArchive, Payload: body}
}

func TestProcess_Uploads(t *testing.T) {
	store := &MockStore{}
	key := "session-history/S1/1700000000.json"
	store.On("Exists", key).Return(false, nil)
	store.On("PutJSON", key, []byte(`{"session":{"id":"S1"}}`)).Return("https://bucket/"+key, nil)

	p := NewArchiveProcessor(nil, store, nil)
	err := p.Process(context.Background(), archiveJob(t, "S1", time.Unix(1700000000, 0)))

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestProcess_SkipsExisting(t *testing.T) {
	store := &MockStore{}
	store.On("Exists", mock.Anything).Return(true, nil)

	p := NewArchiveProcessor(nil, store, nil)
	require.NoError(t, p.Process(context.Background(), archiveJob(t, "S1", time.Unix(1, 0))))

	store.AssertNotCalled(t, "PutJSON", mock.Anything, mock.Anything)
}

func TestProcess_RejectsUnknownType(t *testing.T) {
	p := NewArchiveProcessor(nil, &MockStore{}, nil)
	err := p.Process(context.Background(), &queue.Job{ID: "x", Type: "email"})
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRun_RetriesFailedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &MockStore{}
	store.On("Exists", mock.Anything).Return(false, nil)
	store.On("PutJSON", "session-history/ok/10.json", mock.Anything).Return("u", nil)
	store.On("PutJSON", "session-history/bad/10.json", mock.Anything).Return("", errors.New("s3 down"))

	src := &sliceSource{
		jobs:   []*queue.Job{archiveJob(t, "ok", time.Unix(10, 0)), archiveJob(t, "bad", time.Unix(10, 0))},
		cancel: cancel,
	}
	p := NewArchiveProcessor(src, store, nil)
	p.backoff = time.Millisecond

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	require.Len(t, src.retried, 1)
	assert.Equal(t, "job-bad", src.retried[0].ID)
	assert.Equal(t, 1, src.retried[0].Attempt)
}
