package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/provider"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/repository"
)

type statusUpdate struct {
	ID         string
	Address    string
	Status     models.NotifyStatus
	TrackingID string
}

type fakeRepository struct {
	mu       sync.Mutex
	existing map[string]*models.NotificationRequest
	updates  []statusUpdate
	inserted []*models.NotificationRequest
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{existing: make(map[string]*models.NotificationRequest)}
}

func (f *fakeRepository) key(id, source string) string {
	return id + "|" + source
}

func (f *fakeRepository) add(request *models.NotificationRequest) {
	f.existing[f.key(request.ID, request.Source)] = request
}

func (f *fakeRepository) InsertIfAbsent(ctx context.Context, request *models.NotificationRequest) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.existing[f.key(request.ID, request.Source)]; ok {
		return false, nil
	}
	f.existing[f.key(request.ID, request.Source)] = request
	f.inserted = append(f.inserted, request)
	return true, nil
}

func (f *fakeRepository) Exists(ctx context.Context, id, source string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.existing[f.key(id, source)]
	return ok, nil
}

func (f *fakeRepository) UpdateStatus(ctx context.Context, id, source string, status models.NotifyStatus, details *models.StatusDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statusUpdate{ID: id, Status: status})
	return nil
}

func (f *fakeRepository) UpdateRecipientStatus(ctx context.Context, id, source, address string, status models.NotifyStatus, trackingID string, details *models.StatusDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statusUpdate{ID: id, Address: address, Status: status, TrackingID: trackingID})
	request, ok := f.existing[f.key(id, source)]
	if !ok {
		return nil
	}
	effective := status
	for i := range request.Recipients {
		if request.Recipients[i].Address != address {
			continue
		}
		if request.Recipients[i].Status.IsFinal() && !status.IsFinal() {
			effective = request.Recipients[i].Status
			continue
		}
		request.Recipients[i].Status = status
		request.Recipients[i].StatusDetails = details
		if trackingID != "" {
			request.Recipients[i].TrackingID = trackingID
		}
	}
	if aggregate := request.Recipients.AggregateStatus(effective); aggregate.IsFinal() || !request.Status.IsFinal() {
		request.Status = aggregate
	}
	return nil
}

func (f *fakeRepository) FindOriginal(ctx context.Context, correlationID, source string) (*models.NotificationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, request := range f.existing {
		if request.ID == correlationID && request.Source == source {
			return request, nil
		}
	}
	return nil, fmt.Errorf("find original for %s/%s: %w", correlationID, source, repository.ErrNotificationNotFound)
}

func (f *fakeRepository) ListNonTerminal(ctx context.Context) ([]*models.NotificationRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.NotificationRequest
	for _, request := range f.existing {
		for _, recipient := range request.Recipients {
			if !recipient.Status.IsFinal() {
				out = append(out, request)
				break
			}
		}
	}
	return out, nil
}

type fakeProvider struct {
	mu          sync.Mutex
	sendErr     error
	sendCalls   int
	statusCalls int
	// statuses is consumed one per GetStatusByID call; the last entry
	// repeats once exhausted.
	statuses []models.NotifyStatus
}

func (f *fakeProvider) SendEmail(ctx context.Context, templateID, address string, opts provider.SendOptions) (*provider.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &provider.SendResponse{TrackingID: fmt.Sprintf("trk-%d", f.sendCalls)}, nil
}

func (f *fakeProvider) GetStatusByID(ctx context.Context, trackingID string) (*provider.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return &provider.StatusResponse{TrackingID: trackingID, Status: models.StatusSending}, nil
	}
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return &provider.StatusResponse{TrackingID: trackingID, Status: status}, nil
}

type fakePublisher struct {
	mu         sync.Mutex
	events     []*models.CommEvent
	requests   []*models.NotificationRequest
	publishErr error
}

func (f *fakePublisher) PublishCommEvent(ctx context.Context, event *models.CommEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) PublishNotificationRequest(ctx context.Context, request *models.NotificationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.requests = append(f.requests, request)
	return nil
}

func (f *fakePublisher) eventTypes() []models.CommEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]models.CommEventType, 0, len(f.events))
	for _, event := range f.events {
		types = append(types, event.Type)
	}
	return types
}

type fakeLock struct {
	held     bool
	acquires int
	releases int
}

func (f *fakeLock) TryAcquire(ctx context.Context) (bool, error) {
	f.acquires++
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.releases++
	f.held = false
	return nil
}
