package websocket

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
	"github.com/priyankadasarigt/ytdown/pkg/sync"
)

var socketLogger = logger.Get("WebSocket")

const (
	sendBufferSize    = 256
	receiveBufferSize = 64

	TitleConnectionEstablished = "CONNECTION_ESTABLISHED"
	TitleCommandFailure        = "COMMAND_FAILURE"
)

type SocketHandler func(*SocketHub, *SocketMessage) error

// SocketHub is the struct responsible for managing
// the websocket upgrading, connecting, pushing and
// receiving of messages.
//
// Clients may bind a session ID to their connection, after which messages
// addressed to that session are delivered to them. Delivery is fire-and-forget:
// there is no replay, no acknowledgement, and messages for a session without a
// connection are dropped.
type SocketHub struct {
	handlers           map[string]SocketHandler
	upgrader           *websocket.Upgrader
	clients            []*socketClient
	sessions           sync.TypedSyncMap[string, uuid.UUID]
	registerCh         chan *socketClient
	deregisterCh       chan *socketClient
	sendCh             chan *SocketMessage
	receiveCh          chan *SocketMessage
	doneCh             chan struct{}
	connectionCallback func() map[string]interface{}
	running            atomic.Bool
}

// New returns a new SocketHub with the channels, maps and slices initialised
// to sane starting values. If any allowedOrigins are provided, upgrade requests
// from any other origin are refused.
func New(allowedOrigins ...string) *SocketHub {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "" {
			origins[o] = struct{}{}
		}
	}

	return &SocketHub{
		handlers: make(map[string]SocketHandler),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}

				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		registerCh:   make(chan *socketClient),
		deregisterCh: make(chan *socketClient),
		sendCh:       make(chan *SocketMessage, sendBufferSize),
		receiveCh:    make(chan *SocketMessage, receiveBufferSize),
		doneCh:       make(chan struct{}),
	}
}

// WithConnectionCallback sets a callback that will be executed each time a new client
// connects to this socketHub. The map returned is merged in to the welcome message
// sent to the client.
func (hub *SocketHub) WithConnectionCallback(callback func() map[string]interface{}) {
	hub.connectionCallback = callback
}

// Binds a provided particular command to a particular socket handler
func (hub *SocketHub) BindCommand(command string, handler SocketHandler) *SocketHub {
	hub.handlers[command] = handler
	return hub
}

// Running reports whether the hub's main loop is active.
func (hub *SocketHub) Running() bool { return hub.running.Load() }

// Start begins the socket hub by listening on all related channels
// for incoming clients and messages. Start blocks until the context
// provided is cancelled. A hub cannot be restarted once closed.
func (hub *SocketHub) Start(ctx context.Context) {
	if ctx.Err() != nil {
		socketLogger.Emit(logger.STOP, "Refusing to start socket hub as provided context is already cancelled\n")
		return
	}
	if !hub.running.CompareAndSwap(false, true) {
		socketLogger.Emit(logger.WARNING, "Attempting to start socketHub when already running! Ignoring request.\n")
		return
	}
	socketLogger.Emit(logger.INFO, "Opening SocketHub!\n")

	hub.clients = make([]*socketClient, 0)
	defer hub.close()
	for {
		select {
		case message := <-hub.sendCh:
			// Send the message provided - either by broadcasting to all, or
			// sending to only the client with a UUID matching the message 'target'
			if message.Target != nil {
				if _, client := hub.findClient(*message.Target); client != nil {
					if err := client.SendMessage(message); err != nil {
						socketLogger.Emit(logger.ERROR, "Failed to send message to target {%v}: %v\n", message.Target, err.Error())
					}
				} else {
					socketLogger.Emit(logger.WARNING, "Attempted to send message to target {%v}, but no matching client was found.\n", message.Target)
				}

				continue
			}

			// No specific target
			hub.broadcastMessage(message)
		case message := <-hub.receiveCh:
			go hub.handleMessage(message)
		case client := <-hub.registerCh:
			if idx, _ := hub.findClient(client.id); idx > -1 {
				socketLogger.Emit(logger.ERROR, "Attempted to register client that is already registered (duplicate uuid)! Illegal!\n")
				client.Close()

				continue
			}

			hub.clients = append(hub.clients, client)
			socketLogger.Emit(logger.NEW, "Registered new client {%v}\n", client.id)
		case client := <-hub.deregisterCh:
			hub.unbindClient(client.id)
			if idx, _ := hub.findClient(client.id); idx != -1 {
				hub.clients = append(hub.clients[:idx], hub.clients[idx+1:]...)
				socketLogger.Emit(logger.REMOVE, "Deregistered client {%v}\n", client.id)

				continue
			}

			socketLogger.Emit(logger.WARNING, "Attempted to deregister unknown client {%v}\n", client.id)
		case <-ctx.Done():
			socketLogger.Emit(logger.REMOVE, "Shutting down socket hub! Closing all clients.\n")
			return
		}
	}
}

// Send queues the message for delivery without blocking. The message is dropped if
// the hub is not running, or if the hub is too far behind to accept it.
// A message provided that has a Target will only be sent to the client with
// a matching ID
func (hub *SocketHub) Send(message *SocketMessage) {
	if !hub.running.Load() {
		socketLogger.Emit(logger.WARNING, "Attempted to send message via socket hub, however the hub is offline. Ignoring message.\n")
		return
	}

	select {
	case hub.sendCh <- message:
	default:
		socketLogger.Emit(logger.WARNING, "Socket hub send buffer is full, dropping message '%s'\n", message.Title)
	}
}

// BindSession associates the session ID with the connected client, replacing any
// previous binding for that session.
func (hub *SocketHub) BindSession(sessionID string, client uuid.UUID) {
	if sessionID == "" {
		return
	}

	hub.sessions.Store(sessionID, client)
}

// SendToSession sends an update to the client bound to the session provided.
func (hub *SocketHub) SendToSession(sessionID string, title string, body map[string]interface{}) {
	client, ok := hub.sessions.Load(sessionID)
	if !ok {
		socketLogger.Emit(logger.DEBUG, "Dropping '%s' for session %q, no client bound\n", title, sessionID)
		return
	}

	hub.Send(&SocketMessage{Title: title, Body: body, Target: &client, Type: Update})
}

// Upgrades a given HTTP request to a websocket and adds the new clients to the hub
func (hub *SocketHub) UpgradeToSocket(w http.ResponseWriter, r *http.Request) {
	if !hub.running.Load() {
		socketLogger.Emit(logger.ERROR, "Failed to upgrade incoming HTTP request to a websocket: SocketHub has not been started!\n")
		http.Error(w, "socket hub offline", http.StatusServiceUnavailable)
		return
	}

	// Try generate UUID first - if we do this later and it fails... we've already
	// upgraded the connection to a websocket.
	id, err := uuid.NewRandom()
	if err != nil {
		socketLogger.Emit(logger.ERROR, "Failed to generate UUID for new connection - aborting!\n")
		return
	}

	sock, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		socketLogger.Emit(logger.ERROR, "Failed to upgrade incoming HTTP request to a websocket: %v\n", err.Error())
		return
	}

	client := &socketClient{id: id, socket: sock}
	select {
	case hub.registerCh <- client:
	case <-hub.doneCh:
		client.Close()
		return
	}

	body := make(map[string]interface{})
	if hub.connectionCallback != nil {
		for k, v := range hub.connectionCallback() {
			body[k] = v
		}
	}
	body["client"] = id

	hub.Send(&SocketMessage{
		Title:  TitleConnectionEstablished,
		Body:   body,
		Target: &id,
		Type:   Welcome,
	})

	// If Read returns, it's either because the client disconnected
	// or an error occured - either way, we need to deregister it.
	defer func() {
		select {
		case hub.deregisterCh <- client:
		case <-hub.doneCh:
		}
		client.Close()
	}()

	if err := client.Read(hub.receiveCh, hub.doneCh); err != nil {
		socketLogger.Emit(logger.DEBUG, "Client {%v} closed, error: %v\n", client.id, err.Error())
	}
}

// Closes the sockethub by deregistering and closing all
// connected clients and sockets
func (hub *SocketHub) close() {
	for _, client := range hub.clients {
		client.Close()
	}

	hub.clients = nil
	hub.running.Store(false)
	close(hub.doneCh)
	socketLogger.Emit(logger.STOP, "Socket hub is now closed!\n")
}

// handleMessage is an internal method that accepts a message
// and wil forward the command to the bound handler if one
// exists. If none exists, a failure is sent back to the client.
func (hub *SocketHub) handleMessage(command *SocketMessage) {
	if command.Type != Command {
		socketLogger.Emit(logger.WARNING, "SocketHub received a message from client {%v} of type {%v} - this type is not allowed, only commands can be sent to the server!\n", command.Origin, command.Type)
		return
	}

	replyWithError := func(err string) {
		hub.Send(command.FormReply(TitleCommandFailure, map[string]interface{}{"command": command.Title, "error": err}, ErrorResponse))
	}

	if handler, ok := hub.handlers[command.Title]; ok {
		if err := handler(hub, command); err != nil {
			socketLogger.Emit(logger.ERROR, "Handler for command '%v' returned error - %v\n", command.Title, err.Error())
			replyWithError(err.Error())
		} else {
			socketLogger.Emit(logger.SUCCESS, "Handler for command '%v' executed successfully\n", command.Title)
		}

		return
	}

	replyWithError("Unknown command")
	socketLogger.Emit(logger.WARNING, "No handler found for command '%v'\n", command.Title)
}

// unbindClient removes every session binding which points at the client provided.
func (hub *SocketHub) unbindClient(id uuid.UUID) {
	hub.sessions.Range(func(sessionID string, bound uuid.UUID) bool {
		if bound == id {
			hub.sessions.CompareAndDelete(sessionID, bound)
		}

		return true
	})
}

// findClient returns a socketClient with the matching uuid if
// one can be found - if not, nil is returned. Additionally, the index
// of the client inside of the client list is returned as well.
func (hub *SocketHub) findClient(id uuid.UUID) (int, *socketClient) {
	for idx, client := range hub.clients {
		if client.id == id {
			return idx, client
		}
	}

	return -1, nil
}

// broadcastMessage sends the provided message to every connected
// client - useful for pushing new state to all clients interested
func (hub *SocketHub) broadcastMessage(message *SocketMessage) {
	for _, client := range hub.clients {
		if err := client.SendMessage(message); err != nil {
			socketLogger.Emit(logger.WARNING, "Failed to broadcast message to client {%v}: %v\n", client.id, err)
		}
	}
}
