package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/advocates-portal/internal/relationships"
)

const (
	RealtimeEventRelationshipChanged = "relationship-change"
	realtimeEventHeartbeat           = "heartbeat"
	realtimeSourceBackend            = "advocates-portal"
)

// RealtimeMessage is one event fanned out to a viewer's open streams.
type RealtimeMessage struct {
	ViewerID   string
	EventType  string
	PartnerIDs []string
	Hidden     bool
	Replaced   bool
	Timestamp  time.Time
}

// RealtimeDispatcher fans messages out to per-viewer subscribers. Slow subscribers
// drop messages rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe registers a stream for viewerID until ctx ends or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, viewerID string) (<-chan RealtimeMessage, func()) {
	if viewerID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(viewerID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(viewerID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.ViewerID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.ViewerID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishChange forwards a relationship store mutation to the viewer's streams.
// Its signature matches session.ManagerConfig.OnChange.
func (d *RealtimeDispatcher) PublishChange(viewerID string, change relationships.Change) {
	d.Publish(RealtimeMessage{
		ViewerID:   viewerID,
		EventType:  RealtimeEventRelationshipChanged,
		PartnerIDs: append([]string(nil), change.PartnerIDs...),
		Hidden:     change.Hidden,
		Replaced:   change.Replaced,
		Timestamp:  d.clock().UTC(),
	})
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(viewerID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[viewerID]; !ok {
		d.subscribers[viewerID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[viewerID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(viewerID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[viewerID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, viewerID)
		}
	}
	d.mu.Unlock()
}
