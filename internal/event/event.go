// A collection of event names and common methods used to handle the events, typically
// redirecting the handling to the socket gateway via the `Handler` interface.
package event

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

var log = logger.Get("EventBus")

// Events emitted by the job runner which are forwarded to the subscriber owning the
// session the job was submitted under. Handlers are registered once during startup,
// dispatching is safe from any number of goroutines after that point.
type (
	Event         string
	Payload       any
	HandlerMethod func(Event, Payload)

	HandlerChannel chan HandlerEvent
	HandlerEvent   struct {
		Event   Event
		Payload Payload
	}

	EventDispatcher interface {
		Dispatch(Event, Payload)
	}

	EventHandler interface {
		RegisterHandlerFunction(Event, HandlerMethod)
		RegisterHandlerChannel(HandlerChannel, ...Event)
	}

	EventCoordinator interface {
		EventDispatcher
		EventHandler
	}

	eventHandler struct {
		fnHandlers   map[Event][]HandlerMethod
		chanHandlers map[Event][]HandlerChannel
	}
)

// Payloads for each event. Percent/speed/eta are relayed as the strings
// reported by the extraction engine.
type (
	DownloadProgress struct {
		SessionID string
		JobID     uuid.UUID
		Status    string
		Percent   string
		Speed     string
		ETA       string
		Message   string
	}

	UploadProgress struct {
		SessionID string
		JobID     uuid.UUID
		Percent   float64
		Uploaded  int64
		Total     int64
	}

	DownloadComplete struct {
		SessionID   string
		JobID       uuid.UUID
		Filename    string
		DownloadURL string
		Fallback    bool
	}

	DownloadFailure struct {
		SessionID string
		JobID     uuid.UUID
		Error     string
	}
)

const (
	DOWNLOAD_PROGRESS Event = "download:update:progress"
	UPLOAD_PROGRESS   Event = "upload:update:progress"
	DOWNLOAD_COMPLETE Event = "download:complete"
	DOWNLOAD_ERROR    Event = "download:error"
)

func New() EventCoordinator {
	return &eventHandler{
		fnHandlers:   make(map[Event][]HandlerMethod),
		chanHandlers: make(map[Event][]HandlerChannel),
	}
}

// RegisterHandlerChannel takes an event type and a channel and will send Event messages on
// the channel any time a Dispatch for the provided event occurs.
// This method can be used multiple times for different events on the same channel.
//
// If the channel is BLOCKED when the event bus attempts to send the message on the handler channel,
// then the thread dispatching the event will also be BLOCKED. It is recomended to buffer the handler channels
// appropiately to avoid dispatcher-side blocking.
func (handler *eventHandler) RegisterHandlerChannel(handle HandlerChannel, events ...Event) {
	for _, event := range events {
		handler.chanHandlers[event] = append(handler.chanHandlers[event], handle)
	}
}

// RegisterHandlerFunction takes an event type and a handler method which will be stored
// and called with the payload for the event whenever it is dispatched.
// The handle provided should be guaranteed to return quickly, else the job
// dispatching the event will be held up.
func (handler *eventHandler) RegisterHandlerFunction(event Event, handle HandlerMethod) {
	handler.fnHandlers[event] = append(handler.fnHandlers[event], handle)
}

// Dispatch takes an event type and a payload and dispatches the payload to the handlers
// registered for the event type provided.
// Note that this method WILL block if a handler function is blocking, or if channel
// handlers are blocked.
func (handler *eventHandler) Dispatch(event Event, payload Payload) {
	if err := handler.validatePayload(event, payload); err != nil {
		log.Emit(logger.ERROR, "Dispatch for event %v FAILED validation: %v\n", event, err)
		return
	}

	if handles, ok := handler.fnHandlers[event]; ok {
		for _, handle := range handles {
			handle(event, payload)
		}
	}

	if handles, ok := handler.chanHandlers[event]; ok {
		payload := HandlerEvent{event, payload}
		for _, handle := range handles {
			handle <- payload
		}
	}
}

// validatePayload ensures that the payload provided is valid for the event specified. An error
// will be returned if the payload is not valid, and the event should not be sent to the registered
// handlers in this case.
func (handler *eventHandler) validatePayload(event Event, payload Payload) error {
	var payloadTypeName string
	if t := reflect.TypeOf(payload); t != nil {
		payloadTypeName = t.Name()
	} else {
		payloadTypeName = "Nil"
	}

	var ok bool
	switch event {
	case DOWNLOAD_PROGRESS:
		_, ok = payload.(DownloadProgress)
	case UPLOAD_PROGRESS:
		_, ok = payload.(UploadProgress)
	case DOWNLOAD_COMPLETE:
		_, ok = payload.(DownloadComplete)
	case DOWNLOAD_ERROR:
		_, ok = payload.(DownloadFailure)
	default:
		return errors.New("event type not recognized for validation")
	}

	if !ok {
		return fmt.Errorf("illegal payload (type %s) for %s event", payloadTypeName, event)
	}

	return nil
}
