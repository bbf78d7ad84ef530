package barrier

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/apibouncer/internal/config"
)

type queueFactory func(t *testing.T, dir string, opts ...Option) Queue

func backends() map[string]queueFactory {
	return map[string]queueFactory{
		"file": func(t *testing.T, dir string, opts ...Option) Queue {
			q, err := NewFileQueue(filepath.Join(dir, config.BarrierQueueFileName), opts...)
			require.NoError(t, err)
			t.Cleanup(func() { _ = q.Close() })
			return q
		},
		"sqlite": func(t *testing.T, dir string, opts ...Option) Queue {
			q, err := NewSQLiteQueue(filepath.Join(dir, config.BarrierDBFileName), opts...)
			require.NoError(t, err)
			t.Cleanup(func() { _ = q.Close() })
			return q
		},
	}
}

func ticket(session string) Request {
	return NewRequest(session, "demo", "openai", "dall-e-3", 0.04,
		map[string]any{"prompt": "a red bicycle"}, time.Now())
}

func TestQueue_Lifecycle(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := open(t, t.TempDir())

			id1, err := q.Submit(ctx, ticket("s1"))
			require.NoError(t, err)
			id2, err := q.Submit(ctx, ticket("s2"))
			require.NoError(t, err)

			pending, err := q.Pending(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Equal(t, id1, pending[0].ID)
			assert.Equal(t, "a red bicycle", pending[0].PromptPreview)

			state, err := q.Status(ctx, id1)
			require.NoError(t, err)
			assert.Equal(t, StatePending, state)

			changed, err := q.Decide(ctx, id1, true)
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = q.Decide(ctx, id1, false)
			require.NoError(t, err)
			assert.False(t, changed, "first decision wins")

			state, err = q.Status(ctx, id1)
			require.NoError(t, err)
			assert.Equal(t, StateApproved, state)

			n, err := q.DecideAll(ctx, false)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			state, err = q.Status(ctx, id2)
			require.NoError(t, err)
			assert.Equal(t, StateDenied, state)

			state, err = q.Status(ctx, "no-such-ticket")
			require.NoError(t, err)
			assert.Equal(t, StateUnknown, state)

			changed, err = q.Decide(ctx, "no-such-ticket", true)
			require.NoError(t, err)
			assert.False(t, changed)

			_, err = q.Submit(ctx, ticket("s3"))
			require.NoError(t, err)
			purged, err := q.Purge(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, purged)

			pending, err = q.Pending(ctx)
			require.NoError(t, err)
			assert.Len(t, pending, 1)
		})
	}
}

func TestQueue_SubmitForcesPending(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := open(t, t.TempDir())

			req := Request{SessionID: "s", Provider: "fal", Model: "flux-dev", Approved: boolPtr(true)}
			id, err := q.Submit(ctx, req)
			require.NoError(t, err)
			assert.NotEmpty(t, id)

			state, err := q.Status(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, StatePending, state)
		})
	}
}

func TestQueue_NotifyHookPanicsAreSwallowed(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			called := make(chan string, 1)
			q := open(t, t.TempDir(), WithNotify(func(r Request) {
				called <- r.ID
				panic("approver UI crashed")
			}))

			id, err := q.Submit(context.Background(), ticket("s"))
			require.NoError(t, err)

			select {
			case got := <-called:
				assert.Equal(t, id, got)
			case <-time.After(2 * time.Second):
				t.Fatal("notify hook was not called")
			}
		})
	}
}

func TestFileQueue_TwoProcessesShareTheFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.BarrierQueueFileName)
	requester, err := NewFileQueue(path)
	require.NoError(t, err)
	approver, err := NewFileQueue(path)
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	for _, q := range []*FileQueue{requester, approver} {
		wg.Add(1)
		go func(q *FileQueue) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := q.Submit(ctx, ticket("s"))
				assert.NoError(t, err)
			}
		}(q)
	}
	wg.Wait()

	pending, err := approver.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 40)
}

func TestFileQueue_CorruptDocumentTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.BarrierQueueFileName)
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	q, err := NewFileQueue(path)
	require.NoError(t, err)

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = q.Submit(context.Background(), ticket("s"))
	require.NoError(t, err)
	pending, err = q.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestNewRequest_PreviewTruncated(t *testing.T) {
	prompt := strings.Repeat("x", 200)
	r := NewRequest("s", "name", "openai", "dall-e-3", 0.1, map[string]any{"prompt": prompt}, time.Now())
	assert.Equal(t, strings.Repeat("x", config.BarrierPromptPreviewLen)+"...", r.PromptPreview)
	assert.Equal(t, StatePending, r.State())

	r = NewRequest("s", "name", "openai", "dall-e-3", 0.1, nil, time.Now())
	assert.Empty(t, r.PromptPreview)
	assert.Nil(t, r.Params)
}

func TestOpen_SelectsBackend(t *testing.T) {
	dir := t.TempDir()

	q, err := Open(config.BarrierConfig{Backend: config.BarrierBackendFile}, dir)
	require.NoError(t, err)
	assert.IsType(t, &FileQueue{}, q)
	require.NoError(t, q.Close())

	q, err = Open(config.BarrierConfig{Backend: config.BarrierBackendSQLite}, dir)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteQueue{}, q)
	assert.Equal(t, filepath.Join(dir, config.BarrierDBFileName), q.Path())
	require.NoError(t, q.Close())

	_, err = Open(config.BarrierConfig{Backend: "redis"}, dir)
	assert.Error(t, err)
}
