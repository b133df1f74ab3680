package notify

import (
	"context"
	"testing"

	"github.com/marmos91/dittodrive/pkg/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherFanOut(t *testing.T) {
	p := NewPublisher()
	var got []string
	p.Subscribe("a", func(_ context.Context, topic string, payload any) {
		got = append(got, topic+":"+payload.(string))
	})
	p.Subscribe("a", func(context.Context, string, any) { panic("boom") })
	p.Subscribe("a", func(_ context.Context, _ string, payload any) {
		got = append(got, "second:"+payload.(string))
	})

	p.Publish(context.Background(), "a", "x")
	p.Publish(context.Background(), "b", "ignored")

	assert.Equal(t, []string{"a:x", "second:x"}, got)
}

func TestLogNotifierPublishes(t *testing.T) {
	p := NewPublisher()
	var shared []DocumentShared
	p.Subscribe(TopicDocumentShared, func(_ context.Context, _ string, payload any) {
		shared = append(shared, payload.(DocumentShared))
	})

	n := NewLogNotifier(p)
	item := &drive.DriveItem{ID: "i1", Name: "a.txt"}
	n.NotifyDocumentShared(context.Background(), DocumentShared{CompanyID: "c1", Item: item, Sender: "alice", Recipients: []string{"bob"}})

	require.Len(t, shared, 1)
	assert.Equal(t, []string{"bob"}, shared[0].Recipients)

	// Without a publisher notifications are only logged.
	NewLogNotifier(nil).NotifyDocumentAVScanAlert(context.Background(), DocumentAVScanAlert{CompanyID: "c1", Item: item})
}
