package ws

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/manpreetbhatti/huddle/internal/codeshare"
	"github.com/manpreetbhatti/huddle/internal/room"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Command
	}{
		{
			name: "create room with bare name",
			raw:  `{"event":"create_room","payload":"Alice"}`,
			want: CreateRoom{DisplayName: "Alice"},
		},
		{
			name: "create room with object",
			raw:  `{"event":"create_room","payload":{"displayName":"Alice"}}`,
			want: CreateRoom{DisplayName: "Alice"},
		},
		{
			name: "create room without payload",
			raw:  `{"event":"create_room"}`,
			want: CreateRoom{},
		},
		{
			name: "join room",
			raw:  `{"event":"join_room","payload":{"roomCode":"ab12cd","displayName":"Bob"}}`,
			want: JoinRoom{RoomCode: "ab12cd", DisplayName: "Bob"},
		},
		{
			name: "send message",
			raw:  `{"event":"send_message","payload":"hi"}`,
			want: SendMessage{Text: "hi"},
		},
		{
			name: "create whiteboard",
			raw:  `{"event":"create_whiteboard"}`,
			want: CreateWhiteboard{},
		},
		{
			name: "join whiteboard",
			raw:  `{"event":"join_whiteboard","payload":{"whiteboardCode":"WB0001"}}`,
			want: JoinWhiteboard{Code: "WB0001"},
		},
		{
			name: "clear",
			raw:  `{"event":"clear","payload":"WB0001"}`,
			want: Clear{Code: "WB0001"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Command)
			assert.Equal(t, tt.want.Event(), req.Event)
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantEvent string
	}{
		{name: "not json", raw: `{"event":`},
		{name: "not an object", raw: `["create_room"]`},
		{name: "missing event", raw: `{"payload":"x"}`},
		{name: "unknown event", raw: `{"event":"teleport"}`, wantEvent: "teleport"},
		{name: "join without code", raw: `{"event":"join_room","payload":{"displayName":"Bob"}}`, wantEvent: EventJoinRoom},
		{name: "join with bare string", raw: `{"event":"join_room","payload":"AB12CD"}`, wantEvent: EventJoinRoom},
		{name: "blank message", raw: `{"event":"send_message","payload":"   "}`, wantEvent: EventSendMessage},
		{name: "draw without board", raw: `{"event":"draw","payload":{"strokeSegment":{}}}`, wantEvent: EventDraw},
		{name: "clear without board", raw: `{"event":"clear","payload":{}}`, wantEvent: EventClear},
		{name: "code update without room", raw: `{"event":"code_update","payload":{"filePathOrMap":"a","content":"b"}}`, wantEvent: EventCodeUpdate},
		{name: "code update without target", raw: `{"event":"code_update","payload":{"roomCode":"AB12CD"}}`, wantEvent: EventCodeUpdate},
		{name: "code update with non-string file", raw: `{"event":"code_update","payload":{"roomCode":"AB12CD","filePathOrMap":{"a":1}}}`, wantEvent: EventCodeUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode([]byte(tt.raw))
			assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
			assert.Nil(t, req.Command)
			assert.Equal(t, tt.wantEvent, req.Event)
		})
	}
}

func TestDecode_KeepsRequestID(t *testing.T) {
	req, err := Decode([]byte(`{"event":"join_room","id":"42","payload":{}}`))
	require.Error(t, err)
	assert.Equal(t, "42", req.ID)
	assert.True(t, NeedsAck(req.Event))
}

func TestDecode_DrawKeepsPayloadVerbatim(t *testing.T) {
	payload := `{"whiteboardCode":"WB0001","strokeSegment":{"x0":1.5,"y0":2,"color":"#ff0000","width":3}}`
	req, err := Decode([]byte(fmt.Sprintf(`{"event":"draw","payload":%s}`, payload)))
	require.NoError(t, err)

	draw, ok := req.Command.(Draw)
	require.True(t, ok)
	assert.Equal(t, "WB0001", draw.Code)
	assert.JSONEq(t, payload, string(draw.Payload))
}

func TestDecode_CodeUpdateShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want codeshare.Update
	}{
		{
			name: "single file",
			raw:  `{"roomCode":"AB12CD","filePathOrMap":"main.go","content":"package main"}`,
			want: codeshare.Update{Path: "main.go", Content: "package main"},
		},
		{
			name: "full map",
			raw:  `{"roomCode":"AB12CD","filePathOrMap":{"a.go":"A","b.go":"B"}}`,
			want: codeshare.Update{Files: map[string]string{"a.go": "A", "b.go": "B"}},
		},
		{
			name: "files key",
			raw:  `{"roomCode":"AB12CD","files":{"a.go":"A"}}`,
			want: codeshare.Update{Files: map[string]string{"a.go": "A"}},
		},
		{
			name: "path key",
			raw:  `{"roomCode":"AB12CD","path":"a.go","content":""}`,
			want: codeshare.Update{Path: "a.go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode([]byte(fmt.Sprintf(`{"event":"code_update","payload":%s}`, tt.raw)))
			require.NoError(t, err)
			cu, ok := req.Command.(CodeUpdate)
			require.True(t, ok)
			assert.Equal(t, "AB12CD", cu.RoomCode)
			assert.Equal(t, tt.want, cu.Update)
			assert.JSONEq(t, tt.raw, string(cu.Payload))
		})
	}
}

func TestNeedsAck(t *testing.T) {
	for _, ev := range []string{EventCreateRoom, EventJoinRoom, EventCreateWhiteboard} {
		assert.True(t, NeedsAck(ev), ev)
	}
	for _, ev := range []string{EventSendMessage, EventJoinWhiteboard, EventDraw, EventClear, EventCodeUpdate, "", "bogus"} {
		assert.False(t, NeedsAck(ev), ev)
	}
}

func TestMessageView(t *testing.T) {
	msg := room.Message{
		ID:        "2Hx",
		Text:      "hello",
		Sender:    "Alice",
		Timestamp: time.Date(2024, 3, 1, 12, 30, 45, 123_000_000, time.UTC),
	}
	frame := encode(Frame{Event: EventReceiveMessage, Payload: viewOf(msg)})

	assert.Equal(t, "2024-03-01T12:30:45.123Z", gjson.GetBytes(frame, "payload.timestamp").String())
	assert.False(t, gjson.GetBytes(frame, "id").Exists(), "broadcasts carry no request id")

	ts, err := ParseTimestamp(gjson.GetBytes(frame, "payload.timestamp").String())
	require.NoError(t, err)
	assert.True(t, ts.Equal(msg.Timestamp))
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "room not found", errorText(fmt.Errorf("join: %w", room.ErrRoomNotFound)))
	assert.Equal(t, "invalid request", errorText(ErrInvalidRequest))
	assert.Equal(t, "internal error", errorText(room.ErrInternal))
	assert.Equal(t, "internal error", errorText(errors.New("disk on fire")))
}
