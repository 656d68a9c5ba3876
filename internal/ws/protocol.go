package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/manpreetbhatti/huddle/internal/codeshare"
	"github.com/manpreetbhatti/huddle/internal/room"
)

// Inbound events
const (
	EventCreateRoom       = "create_room"
	EventJoinRoom         = "join_room"
	EventSendMessage      = "send_message"
	EventCreateWhiteboard = "create_whiteboard"
	EventJoinWhiteboard   = "join_whiteboard"
	EventDraw             = "draw"
	EventClear            = "clear"
	EventCodeUpdate       = "code_update"
)

// Outbound events
const (
	EventAck            = "ack"
	EventReceiveMessage = "receive_message"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventCodeSync       = "code_sync"
)

var ErrInvalidRequest = errors.New("invalid request")

// Command is one decoded inbound event. The set of implementations is closed.
type Command interface {
	Event() string
}

type CreateRoom struct {
	DisplayName string
}

type JoinRoom struct {
	RoomCode    string
	DisplayName string
}

type SendMessage struct {
	Text string
}

type CreateWhiteboard struct{}

type JoinWhiteboard struct {
	Code string
}

// Draw carries the stroke payload untouched; the server never inspects it.
type Draw struct {
	Code    string
	Payload json.RawMessage
}

type Clear struct {
	Code string
}

type CodeUpdate struct {
	RoomCode string
	Update   codeshare.Update
	Payload  json.RawMessage
}

func (CreateRoom) Event() string       { return EventCreateRoom }
func (JoinRoom) Event() string         { return EventJoinRoom }
func (SendMessage) Event() string      { return EventSendMessage }
func (CreateWhiteboard) Event() string { return EventCreateWhiteboard }
func (JoinWhiteboard) Event() string   { return EventJoinWhiteboard }
func (Draw) Event() string             { return EventDraw }
func (Clear) Event() string            { return EventClear }
func (CodeUpdate) Event() string       { return EventCodeUpdate }

// NeedsAck reports whether the event is answered with an ack frame.
func NeedsAck(event string) bool {
	switch event {
	case EventCreateRoom, EventJoinRoom, EventCreateWhiteboard:
		return true
	}
	return false
}

// Request is a decoded inbound frame: {"event", "id", "payload"}.
type Request struct {
	Event   string
	ID      string
	Command Command
}

// Decode validates an inbound frame and turns it into a typed Command.
// On error the returned Request still carries Event and ID when they could
// be read, so the caller can answer ack-style requests.
func Decode(raw []byte) (Request, error) {
	if !gjson.ValidBytes(raw) {
		return Request{}, fmt.Errorf("malformed frame: %w", ErrInvalidRequest)
	}
	frame := gjson.ParseBytes(raw)
	if !frame.IsObject() {
		return Request{}, fmt.Errorf("frame is not an object: %w", ErrInvalidRequest)
	}

	req := Request{
		Event: frame.Get("event").String(),
		ID:    frame.Get("id").String(),
	}
	payload := frame.Get("payload")

	cmd, err := decodeCommand(req.Event, payload)
	if err != nil {
		return req, fmt.Errorf("%s: %w", req.Event, err)
	}
	req.Command = cmd
	return req, nil
}

func decodeCommand(event string, p gjson.Result) (Command, error) {
	switch event {
	case EventCreateRoom:
		return CreateRoom{DisplayName: stringOr(p, "displayName")}, nil

	case EventJoinRoom:
		if !p.IsObject() {
			return nil, ErrInvalidRequest
		}
		code := p.Get("roomCode").String()
		if strings.TrimSpace(code) == "" {
			return nil, ErrInvalidRequest
		}
		return JoinRoom{RoomCode: code, DisplayName: p.Get("displayName").String()}, nil

	case EventSendMessage:
		text := stringOr(p, "text")
		if strings.TrimSpace(text) == "" {
			return nil, ErrInvalidRequest
		}
		return SendMessage{Text: text}, nil

	case EventCreateWhiteboard:
		return CreateWhiteboard{}, nil

	case EventJoinWhiteboard:
		return JoinWhiteboard{Code: stringOr(p, "whiteboardCode")}, nil

	case EventDraw:
		if !p.IsObject() {
			return nil, ErrInvalidRequest
		}
		code := p.Get("whiteboardCode").String()
		if code == "" {
			return nil, ErrInvalidRequest
		}
		return Draw{Code: code, Payload: json.RawMessage(p.Raw)}, nil

	case EventClear:
		code := stringOr(p, "whiteboardCode")
		if code == "" {
			return nil, ErrInvalidRequest
		}
		return Clear{Code: code}, nil

	case EventCodeUpdate:
		return decodeCodeUpdate(p)

	case "":
		return nil, fmt.Errorf("missing event: %w", ErrInvalidRequest)
	default:
		return nil, fmt.Errorf("unknown event: %w", ErrInvalidRequest)
	}
}

// decodeCodeUpdate accepts {roomCode, filePathOrMap, content} where
// filePathOrMap is either a path string or a path->content object.
func decodeCodeUpdate(p gjson.Result) (Command, error) {
	if !p.IsObject() {
		return nil, ErrInvalidRequest
	}
	code := p.Get("roomCode").String()
	if code == "" {
		return nil, ErrInvalidRequest
	}

	target := p.Get("filePathOrMap")
	if !target.Exists() {
		target = p.Get("files")
		if !target.Exists() {
			target = p.Get("path")
		}
	}

	var u codeshare.Update
	switch {
	case target.IsObject():
		u.Files = make(map[string]string)
		var bad bool
		target.ForEach(func(k, v gjson.Result) bool {
			if v.Type != gjson.String {
				bad = true
				return false
			}
			u.Files[k.String()] = v.String()
			return true
		})
		if bad {
			return nil, ErrInvalidRequest
		}
	case target.Type == gjson.String && target.String() != "":
		u.Path = target.String()
		u.Content = p.Get("content").String()
	default:
		return nil, ErrInvalidRequest
	}

	return CodeUpdate{RoomCode: code, Update: u, Payload: json.RawMessage(p.Raw)}, nil
}

// stringOr reads a payload that is either a bare string or an object
// holding the string under key.
func stringOr(p gjson.Result, key string) string {
	if p.Type == gjson.String {
		return p.String()
	}
	if p.IsObject() {
		return p.Get(key).String()
	}
	return ""
}

// Frame is the outbound envelope.
type Frame struct {
	Event   string `json:"event"`
	ID      string `json:"id,omitempty"`
	Request string `json:"request,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

func encode(f Frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		// every payload type here marshals; reaching this is a programming error
		panic(fmt.Sprintf("encode %s frame: %v", f.Event, err))
	}
	return b
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type MessageView struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
}

func viewOf(m room.Message) MessageView {
	return MessageView{
		ID:        m.ID,
		Text:      m.Text,
		Sender:    m.Sender,
		Timestamp: m.Timestamp.UTC().Format(timestampLayout),
	}
}

func viewsOf(history []room.Message) []MessageView {
	views := make([]MessageView, len(history))
	for i, m := range history {
		views[i] = viewOf(m)
	}
	return views
}

type AckPayload struct {
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
	RoomCode       string        `json:"roomCode,omitempty"`
	WhiteboardCode string        `json:"whiteboardCode,omitempty"`
	History        []MessageView `json:"history,omitempty"`
	MemberNames    []string      `json:"memberNames,omitempty"`
}

type PresencePayload struct {
	RoomCode    string   `json:"roomCode"`
	DisplayName string   `json:"displayName"`
	MemberNames []string `json:"memberNames"`
}

type ClearPayload struct {
	WhiteboardCode string `json:"whiteboardCode"`
}

type CodeSyncPayload struct {
	RoomCode string            `json:"roomCode"`
	Files    map[string]string `json:"files"`
}

// ParseTimestamp reads a wire timestamp back; used by clients and tests.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

// errorText maps an ack failure to the string sent to the client.
func errorText(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return room.ErrRoomNotFound.Error()
	case errors.Is(err, ErrInvalidRequest):
		return ErrInvalidRequest.Error()
	default:
		return room.ErrInternal.Error()
	}
}
