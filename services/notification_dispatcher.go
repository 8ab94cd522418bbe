package services

import (
	"context"
	"log"
	"sync"
	"time"

	"stepDuelAPI/internal/types/notification"
)

// NotificationDispatcher pushes stored notifications to devices from a small
// worker pool so lifecycle transitions never wait on FCM round trips.
type NotificationDispatcher struct {
	service      *NotificationService
	pushProvider PushNotificationProvider
	workers      int
	jobQueue     chan *notification.Notification
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewNotificationDispatcher(service *NotificationService) *NotificationDispatcher {
	d := &NotificationDispatcher{
		service:  service,
		workers:  3,
		jobQueue: make(chan *notification.Notification, 100),
		stopChan: make(chan struct{}),
	}
	d.startWorkers()
	return d
}

func (d *NotificationDispatcher) SetPushProvider(provider PushNotificationProvider) {
	d.pushProvider = provider
}

func (d *NotificationDispatcher) startWorkers() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *NotificationDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case notif := <-d.jobQueue:
			d.process(notif)
		case <-d.stopChan:
			return
		}
	}
}

func (d *NotificationDispatcher) process(notif *notification.Notification) {
	if d.pushProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tokens, err := d.service.deviceTokens(ctx, notif.UserID)
	if err != nil {
		log.Printf("Dispatcher: token lookup for %s failed: %v", notif.UserID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	if err := d.pushProvider.SendPush(ctx, tokens, notif.Title, notif.Body, notif.Data); err != nil {
		log.Printf("Dispatcher: push for notification %s failed: %v", notif.ID, err)
	}
}

// Dispatch queues a notification for push. Drops with a log line when the
// queue stays full; the in-app notification row is already stored.
func (d *NotificationDispatcher) Dispatch(notif *notification.Notification) {
	select {
	case d.jobQueue <- notif:
	case <-time.After(5 * time.Second):
		log.Printf("Dispatcher: queue full, dropping push for notification %s", notif.ID)
	}
}

func (d *NotificationDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()
}
