package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/servicedesk/crm-service/internal/events"
	"github.com/servicedesk/crm-service/internal/realtime"
)

// NotificationService translates lifecycle events into realtime frames
// and picks the delivery scope per event type. Internal note events are
// the sensitive case: they go to agent connections only, everything
// else fans out globally plus to the submitter's room.
type NotificationService struct {
	registry   realtime.Registry
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NotificationDependencies bundles collaborators for the notification
// service.
type NotificationDependencies struct {
	Registry   realtime.Registry
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{registry: deps.Registry, dispatcher: deps.Dispatcher, logger: logger}
}

// RegisterHandlers subscribes the fan-out handler to every lifecycle
// event type.
func (s *NotificationService) RegisterHandlers() {
	if s.dispatcher == nil {
		return
	}
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketUpdated,
		events.EventTicketCommented,
		events.EventTicketAssigned,
		events.EventTicketInternalNote,
		events.EventTicketDeleted,
	} {
		s.dispatcher.Subscribe(eventType, s.HandleEvent)
	}
}

// HandleEvent is the dispatcher entry point.
func (s *NotificationService) HandleEvent(ctx context.Context, event events.Event) error {
	frame := realtime.Frame{Type: string(event.Type), Data: event.Payload}
	scope := scopeFor(event)

	s.registry.Deliver(scope, frame)
	s.logger.Debug("event delivered",
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.Bool("agents_only", scope.Agents && !scope.Global),
	)
	return nil
}

// scopeFor decides recipients server-side; clients never choose rooms.
func scopeFor(event events.Event) realtime.Scope {
	if event.Type == events.EventTicketInternalNote {
		return realtime.Scope{Agents: true}
	}
	return realtime.Scope{Global: true, UserID: event.SubmitterID}
}
