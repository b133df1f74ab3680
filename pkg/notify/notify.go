// Package notify delivers document notifications.
//
// Publisher is an in-process topic bus. LogNotifier turns documents events
// into log lines and publishes them on well-known topics so that other
// components (mailers, websocket pushers) can subscribe.
package notify

import (
	"context"
	"sync"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/drive"
)

// Topics published by LogNotifier.
const (
	TopicDocumentShared          = "documents:shared"
	TopicDocumentVersionUpdated  = "documents:version_updated"
	TopicDocumentAVScanAlert     = "documents:av_scan_alert"
	TopicInfectedDocumentRemoved = "documents:infected_removed"
)

// Subscriber receives published payloads.
type Subscriber func(ctx context.Context, topic string, payload any)

// Publisher fans payloads out to topic subscribers, synchronously and in
// subscription order. A panicking subscriber is logged and skipped.
//
// Thread Safety: Safe for concurrent use.
type Publisher struct {
	mu   sync.RWMutex
	subs map[string][]Subscriber
}

// NewPublisher creates a publisher with no subscribers.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[string][]Subscriber)}
}

// Subscribe registers fn for topic.
func (p *Publisher) Subscribe(topic string, fn Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[topic] = append(p.subs[topic], fn)
}

// Publish delivers payload to every subscriber of topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) {
	p.mu.RLock()
	subs := append([]Subscriber(nil), p.subs[topic]...)
	p.mu.RUnlock()

	for _, fn := range subs {
		deliver(ctx, topic, payload, fn)
	}
}

func deliver(ctx context.Context, topic string, payload any, fn Subscriber) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notify: subscriber of %s panicked: %v", topic, r)
		}
	}()
	fn(ctx, topic, payload)
}

// DocumentShared is sent when an item is created in, or moved to, a folder
// other users can see.
type DocumentShared struct {
	CompanyID  string
	Item       *drive.DriveItem
	Sender     string
	Recipients []string
}

// DocumentVersionUpdated is sent to the creator of an item when somebody
// else uploads a new version.
type DocumentVersionUpdated struct {
	CompanyID string
	Item      *drive.DriveItem
	Version   *drive.FileVersion
	Sender    string
	Recipient string
}

// DocumentAVScanAlert is sent when a version is found malicious.
type DocumentAVScanAlert struct {
	CompanyID string
	Item      *drive.DriveItem
	Recipient string
}

// InfectedDocumentRemoved is sent when a malicious item is purged.
type InfectedDocumentRemoved struct {
	CompanyID string
	Item      *drive.DriveItem
	Recipient string
}

// Notifier is the notification surface used by the documents service.
type Notifier interface {
	NotifyDocumentShared(ctx context.Context, n DocumentShared)
	NotifyDocumentVersionUpdated(ctx context.Context, n DocumentVersionUpdated)
	NotifyDocumentAVScanAlert(ctx context.Context, n DocumentAVScanAlert)
	NotifyInfectedDocumentRemoved(ctx context.Context, n InfectedDocumentRemoved)
}

// LogNotifier logs notifications and republishes them on a Publisher.
type LogNotifier struct {
	pub *Publisher
}

// NewLogNotifier creates a notifier. pub may be nil.
func NewLogNotifier(pub *Publisher) *LogNotifier {
	return &LogNotifier{pub: pub}
}

func (n *LogNotifier) publish(ctx context.Context, topic string, payload any) {
	if n.pub != nil {
		n.pub.Publish(ctx, topic, payload)
	}
}

func (n *LogNotifier) NotifyDocumentShared(ctx context.Context, ev DocumentShared) {
	logger.Info("notify: %s shared %s (%s) with %v in company %s",
		ev.Sender, ev.Item.Name, ev.Item.ID, ev.Recipients, ev.CompanyID)
	n.publish(ctx, TopicDocumentShared, ev)
}

func (n *LogNotifier) NotifyDocumentVersionUpdated(ctx context.Context, ev DocumentVersionUpdated) {
	logger.Info("notify: %s uploaded version %s of %s for %s", ev.Sender, ev.Version.ID, ev.Item.ID, ev.Recipient)
	n.publish(ctx, TopicDocumentVersionUpdated, ev)
}

func (n *LogNotifier) NotifyDocumentAVScanAlert(ctx context.Context, ev DocumentAVScanAlert) {
	logger.Warn("notify: malicious content detected in %s (%s), company %s", ev.Item.Name, ev.Item.ID, ev.CompanyID)
	n.publish(ctx, TopicDocumentAVScanAlert, ev)
}

func (n *LogNotifier) NotifyInfectedDocumentRemoved(ctx context.Context, ev InfectedDocumentRemoved) {
	logger.Warn("notify: removed infected item %s (%s), company %s", ev.Item.Name, ev.Item.ID, ev.CompanyID)
	n.publish(ctx, TopicInfectedDocumentRemoved, ev)
}
