package websocket

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is a struct that allows us to define the
// command that has been passed through the web socket.
// The Id field can be used when replying to this message
// so the receiving client is aware of which message this reply
// is for. Origin is much for the same - it allows us to
// send the reply to the websocket attached to the client
// with the matching UUID
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   socketMessageType      `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// Decode decodes the body of this message in to the struct pointed to by out,
// using the `mapstructure` tags of the target struct. Numbers and booleans are
// weakly converted to strings where the target requires it.
func (message *SocketMessage) Decode(out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(message.Body); err != nil {
		return fmt.Errorf("failed to decode arguments of command '%s': %w", message.Title, err)
	}

	return nil
}

// FormReply is a method on a SocketMessage that will
// return a NEW message that has the same origin/id as
// the original message, but with a new (caller provided) title,
// type, and arguments.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType socketMessageType) *SocketMessage {
	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: message.Origin,
	}
}
