package activity

import (
	"errors"
	"fmt"

	"github.com/priyankadasarigt/ytdown/internal/event"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

/*
 * Activity service is responsible for listening for relevant events,
 * and emitting update messages over the websocket.
 */

var log = logger.Get("Activity")

const (
	TITLE_DOWNLOAD_PROGRESS = "download_progress"
	TITLE_UPLOAD_PROGRESS   = "upload_progress"
	TITLE_DOWNLOAD_COMPLETE = "download_complete"
	TITLE_DOWNLOAD_ERROR    = "download_error"

	bytesPerMiB = 1024 * 1024
)

type (
	// SessionSender delivers a titled update to whichever connection is bound
	// to the session provided. Sending must not block.
	SessionSender interface {
		SendToSession(sessionID string, title string, body map[string]interface{})
	}

	ActivityService struct {
		sender SessionSender
	}
)

// New registers the service with the event bus. Events are forwarded on the
// dispatching goroutine, which is safe as the sender never blocks.
func New(eventBus event.EventHandler, sender SessionSender) *ActivityService {
	service := &ActivityService{sender: sender}
	for _, ev := range []event.Event{event.DOWNLOAD_PROGRESS, event.UPLOAD_PROGRESS, event.DOWNLOAD_COMPLETE, event.DOWNLOAD_ERROR} {
		eventBus.RegisterHandlerFunction(ev, service.handle)
	}

	return service
}

func (service *ActivityService) handle(ev event.Event, payload event.Payload) {
	if err := service.forward(payload); err != nil {
		log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
	}
}

func (service *ActivityService) forward(payload event.Payload) error {
	switch payload := payload.(type) {
	case event.DownloadProgress:
		body := map[string]interface{}{"session_id": payload.SessionID, "status": payload.Status}
		if payload.Message != "" {
			body["message"] = payload.Message
		} else {
			body["percent"] = payload.Percent
			body["speed"] = payload.Speed
			body["eta"] = payload.ETA
		}

		service.sender.SendToSession(payload.SessionID, TITLE_DOWNLOAD_PROGRESS, body)
	case event.UploadProgress:
		service.sender.SendToSession(payload.SessionID, TITLE_UPLOAD_PROGRESS, map[string]interface{}{
			"session_id": payload.SessionID,
			"percent":    fmt.Sprintf("%.1f%%", payload.Percent),
			"uploaded":   formatMiB(payload.Uploaded),
			"total":      formatMiB(payload.Total),
		})
	case event.DownloadComplete:
		body := map[string]interface{}{
			"session_id":  payload.SessionID,
			"download_id": payload.JobID.String(),
			"filename":    payload.Filename,
		}
		if payload.Fallback {
			body["fallback"] = true
		} else {
			body["download_url"] = payload.DownloadURL
		}

		service.sender.SendToSession(payload.SessionID, TITLE_DOWNLOAD_COMPLETE, body)
	case event.DownloadFailure:
		service.sender.SendToSession(payload.SessionID, TITLE_DOWNLOAD_ERROR, map[string]interface{}{
			"session_id": payload.SessionID,
			"error":      payload.Error,
		})
	default:
		return errors.New("unknown event type")
	}

	return nil
}

func formatMiB(b int64) string {
	return fmt.Sprintf("%.2f", float64(b)/bytesPerMiB)
}
