package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/repository"
	"github.com/marmos91/dittodrive/pkg/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
}

type recorder struct {
	mu     sync.Mutex
	events []repository.Event
}

func (r *recorder) handle(_ context.Context, e repository.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) kinds() []repository.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func flush(t *testing.T, o *repository.Outbox) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Flush(ctx))
}

func TestRepository_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	outbox := repository.NewOutbox(repository.OutboxConfig{})
	rec := &recorder{}
	outbox.Subscribe(rec.handle)
	outbox.Start(ctx)
	defer outbox.Stop()

	repo := repository.New[item]("items", memory.New(), outbox)

	it := &item{ID: "1", CompanyID: "acme", Name: "a"}
	require.NoError(t, repo.Save(ctx, it))

	ok, err := repo.AtomicCompareAndSet(ctx, "acme", "1", "name", "a", "b")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.Remove(ctx, it))
	flush(t, outbox)

	assert.Equal(t, []repository.EventKind{repository.EventSaved, repository.EventSaved, repository.EventRemoved}, rec.kinds())
	assert.Contains(t, string(rec.events[1].Data), `"b"`)
}

func TestOutbox_RetriesUntilSuccess(t *testing.T) {
	outbox := repository.NewOutbox(repository.OutboxConfig{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})

	var (
		mu       sync.Mutex
		attempts int
	)
	outbox.Subscribe(func(context.Context, repository.Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("index unavailable")
		}
		return nil
	})
	outbox.Start(context.Background())
	defer outbox.Stop()

	outbox.Publish(repository.Event{Kind: repository.EventSaved, Table: "items", CompanyID: "acme", ID: "1"})
	flush(t, outbox)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
	assert.Empty(t, outbox.DeadLetters())
}

func TestOutbox_DeadLettersAndRedrive(t *testing.T) {
	outbox := repository.NewOutbox(repository.OutboxConfig{MaxAttempts: 2, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	var (
		mu      sync.Mutex
		healthy bool
		got     int
	)
	outbox.Subscribe(func(context.Context, repository.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			return errors.New("down")
		}
		got++
		return nil
	})
	outbox.Start(context.Background())
	defer outbox.Stop()

	outbox.Publish(repository.Event{Kind: repository.EventRemoved, CompanyID: "acme", ID: "1"})
	flush(t, outbox)
	require.Len(t, outbox.DeadLetters(), 1)

	mu.Lock()
	healthy = true
	mu.Unlock()

	assert.Equal(t, 1, outbox.Redrive())
	flush(t, outbox)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, got)
	assert.Empty(t, outbox.DeadLetters())
}

func TestOutbox_PublishWithoutSubscribers(t *testing.T) {
	outbox := repository.NewOutbox(repository.OutboxConfig{})
	outbox.Publish(repository.Event{Kind: repository.EventSaved})
	assert.Equal(t, 0, outbox.Pending())
}

// flakyIndex fails every delivery of a saved event and records the rest.
type flakyIndex struct {
	mu        sync.Mutex
	failures  int
	delivered []repository.EventKind
	failed    chan struct{}
}

func (f *flakyIndex) handle(_ context.Context, e repository.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.Kind == repository.EventSaved {
		f.failures++
		select {
		case f.failed <- struct{}{}:
		default:
		}
		return errors.New("index unavailable")
	}
	f.delivered = append(f.delivered, e.Kind)
	return nil
}

func TestOutbox_NewerEventSupersedesRetry(t *testing.T) {
	// A long backoff keeps the failed saved event queued while removed arrives.
	outbox := repository.NewOutbox(repository.OutboxConfig{MinBackoff: time.Hour, MaxBackoff: time.Hour})
	index := &flakyIndex{failed: make(chan struct{}, 1)}
	outbox.Subscribe(index.handle)
	outbox.Start(context.Background())
	defer outbox.Stop()

	outbox.Publish(repository.Event{Kind: repository.EventSaved, Table: "items", CompanyID: "acme", ID: "1"})
	select {
	case <-index.failed:
	case <-time.After(5 * time.Second):
		t.Fatal("saved event was never delivered")
	}

	outbox.Publish(repository.Event{Kind: repository.EventRemoved, Table: "items", CompanyID: "acme", ID: "1"})
	flush(t, outbox)

	index.mu.Lock()
	defer index.mu.Unlock()
	assert.Equal(t, 1, index.failures, "the stale saved event must not be retried")
	assert.Equal(t, []repository.EventKind{repository.EventRemoved}, index.delivered)
	assert.Empty(t, outbox.DeadLetters())
}

func TestOutbox_NewerEventDiscardsDeadLetter(t *testing.T) {
	outbox := repository.NewOutbox(repository.OutboxConfig{MaxAttempts: 1, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	index := &flakyIndex{failed: make(chan struct{}, 1)}
	outbox.Subscribe(index.handle)
	outbox.Start(context.Background())
	defer outbox.Stop()

	outbox.Publish(repository.Event{Kind: repository.EventSaved, Table: "items", CompanyID: "acme", ID: "1"})
	outbox.Publish(repository.Event{Kind: repository.EventSaved, Table: "items", CompanyID: "acme", ID: "2"})
	flush(t, outbox)
	require.Len(t, outbox.DeadLetters(), 2)

	outbox.Publish(repository.Event{Kind: repository.EventRemoved, Table: "items", CompanyID: "acme", ID: "1"})
	flush(t, outbox)

	dead := outbox.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "2", dead[0].ID, "dead letters of other entities are kept")
	assert.Equal(t, 1, outbox.Redrive())
}

func TestOutbox_FreshEventsKeepPublishOrder(t *testing.T) {
	outbox := repository.NewOutbox(repository.OutboxConfig{})
	rec := &recorder{}
	outbox.Subscribe(rec.handle)

	// Queue everything before the worker starts so all three wait together.
	for _, kind := range []repository.EventKind{repository.EventSaved, repository.EventSaved, repository.EventRemoved} {
		outbox.Publish(repository.Event{Kind: kind, Table: "items", CompanyID: "acme", ID: "1"})
	}
	outbox.Start(context.Background())
	defer outbox.Stop()
	flush(t, outbox)

	assert.Equal(t, []repository.EventKind{repository.EventSaved, repository.EventSaved, repository.EventRemoved}, rec.kinds())
}
