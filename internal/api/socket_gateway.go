package api

import (
	"errors"

	"github.com/google/uuid"
	"github.com/priyankadasarigt/ytdown/internal/activity"
	"github.com/priyankadasarigt/ytdown/internal/http/websocket"
	"github.com/priyankadasarigt/ytdown/internal/job"
	"github.com/priyankadasarigt/ytdown/internal/token"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

const (
	COMMAND_DOWNLOAD_VIDEO = "download_video"
	TITLE_COMMAND_SUCCESS  = "COMMAND_SUCCESS"

	invalidTokenMessage  = "Invalid or expired token"
	missingParamsMessage = "Missing required parameters"
	serverBusyMessage    = "Server busy, try again later"
)

type (
	// downloadCommand is the body of a download_video command.
	downloadCommand struct {
		Token      string `mapstructure:"token"`
		job.Params `mapstructure:",squash"`
	}

	JobSubmitter interface {
		Submit(tokenValue string, params job.Params) (uuid.UUID, error)
	}

	WsGateway struct {
		jobs     JobSubmitter
		metrics  Metrics
		activity Activity
	}
)

func NewWsGateway(jobs JobSubmitter, metrics Metrics, activity Activity) *WsGateway {
	return &WsGateway{jobs: jobs, metrics: metrics, activity: activity}
}

// ** Websocket API Methods ** //

// WsDownloadVideo binds the commands session to the sending connection and
// submits a new job. Failures which occur before the job exists are reported
// only to the sender.
func (wsGateway *WsGateway) WsDownloadVideo(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
	wsGateway.activity.Touch()

	var command downloadCommand
	if err := message.Decode(&command); err != nil {
		log.Emit(logger.WARNING, "Malformed download_video command: %v\n", err)
		replyWithDownloadError(hub, message, command.SessionID, missingParamsMessage)
		return nil
	}

	if message.Origin != nil {
		hub.BindSession(command.SessionID, *message.Origin)
	}

	id, err := wsGateway.jobs.Submit(command.Token, command.Params)
	if err != nil {
		log.Emit(logger.WARNING, "Rejected download_video command for session %q: %v\n", command.SessionID, err)
		replyWithDownloadError(hub, message, command.SessionID, submissionErrorMessage(err))
		return nil
	}

	wsGateway.metrics.JobSubmitted()
	hub.Send(message.FormReply(TITLE_COMMAND_SUCCESS, map[string]interface{}{
		"session_id":  command.SessionID,
		"download_id": id.String(),
	}, websocket.Response))
	return nil
}

func submissionErrorMessage(err error) string {
	switch {
	case errors.Is(err, token.ErrInvalidToken):
		return invalidTokenMessage
	case errors.Is(err, job.ErrInvalidInput):
		return missingParamsMessage
	case errors.Is(err, job.ErrServerBusy):
		return serverBusyMessage
	default:
		return err.Error()
	}
}

func replyWithDownloadError(hub *websocket.SocketHub, message *websocket.SocketMessage, sessionID string, reason string) {
	body := map[string]interface{}{"error": reason}
	if sessionID != "" {
		body["session_id"] = sessionID
	}

	hub.Send(message.FormReply(activity.TITLE_DOWNLOAD_ERROR, body, websocket.ErrorResponse))
}
