package ws

import (
	"fmt"

	"github.com/manpreetbhatti/huddle/internal/db"
	"github.com/manpreetbhatti/huddle/internal/metrics"
	"github.com/manpreetbhatti/huddle/internal/room"
)

// Handlers below run on the hub goroutine only.

func (h *Hub) createRoom(s *session, cmd CreateRoom) (Result, error) {
	// secure a code before touching the current membership
	code, err := h.rooms.Allocate()
	if err != nil {
		h.logger.Error("create room failed", "conn", s.id(), "err", err)
		return Result{}, err
	}
	h.leaveRoom(s)

	rm, err := h.rooms.Open(code, s.id(), cmd.DisplayName)
	if err != nil {
		h.logger.Error("create room failed", "conn", s.id(), "err", err)
		return Result{}, err
	}
	s.name, _ = rm.NameOf(s.id())
	s.roomCode = rm.Code

	h.record(db.KindRoomOpened, rm.Code, s.name)
	h.logger.Info("room created", "room", rm.Code, "by", s.name)

	return Result{
		RoomCode:    rm.Code,
		History:     rm.History(),
		MemberNames: rm.MemberNames(),
	}, nil
}

func (h *Hub) joinRoom(s *session, cmd JoinRoom) (Result, error) {
	code := room.NormalizeCode(cmd.RoomCode)
	// look before leaving so a bad code changes nothing
	if _, ok := h.rooms.Get(code); !ok {
		return Result{}, fmt.Errorf("join %q: %w", code, room.ErrRoomNotFound)
	}
	if s.roomCode != code {
		h.leaveRoom(s)
	}

	rm, err := h.rooms.Join(code, s.id(), cmd.DisplayName)
	if err != nil {
		return Result{}, err
	}
	s.name, _ = rm.NameOf(s.id())
	s.roomCode = rm.Code

	names := rm.MemberNames()
	h.fanout(memberIDs(rm), s.id(), Frame{
		Event:   EventUserJoined,
		Payload: PresencePayload{RoomCode: rm.Code, DisplayName: s.name, MemberNames: names},
	})
	h.logger.Info("room joined", "room", rm.Code, "name", s.name, "members", len(names))

	res := Result{
		RoomCode:    rm.Code,
		History:     rm.History(),
		MemberNames: names,
	}
	if files := h.docs.Files(rm.Code); files != nil {
		res.followUps = append(res.followUps, Frame{
			Event:   EventCodeSync,
			Payload: CodeSyncPayload{RoomCode: rm.Code, Files: files},
		})
	}
	return res, nil
}

// sendMessage echoes to every member, the sender included.
func (h *Hub) sendMessage(s *session, cmd SendMessage) {
	if !s.inRoom() {
		h.dropped("no_room", s, EventSendMessage)
		return
	}
	rm, ok := h.rooms.RoomOf(s.id())
	if !ok {
		h.dropped("no_room", s, EventSendMessage)
		return
	}

	msg := room.NewMessage(s.name, cmd.Text)
	if !h.rooms.Append(rm.Code, msg) {
		h.dropped("no_room", s, EventSendMessage)
		return
	}
	metrics.ChatMessages.Inc()
	h.record(db.KindMessage, rm.Code, s.name)

	h.fanout(memberIDs(rm), "", Frame{Event: EventReceiveMessage, Payload: viewOf(msg)})
}

func (h *Hub) createWhiteboard(s *session) (Result, error) {
	code, err := h.boards.Create(s.id())
	if err != nil {
		h.logger.Error("create whiteboard failed", "conn", s.id(), "err", err)
		return Result{}, err
	}
	s.boardCode = code

	h.record(db.KindWhiteboardOpened, code, s.name)
	h.logger.Info("whiteboard created", "whiteboard", code)
	return Result{WhiteboardCode: code}, nil
}

// joinWhiteboard ignores unknown codes.
func (h *Hub) joinWhiteboard(s *session, cmd JoinWhiteboard) {
	if !h.boards.Join(cmd.Code, s.id()) {
		h.logger.Debug("join of unknown whiteboard ignored", "conn", s.id(), "whiteboard", cmd.Code)
		return
	}
	s.boardCode, _ = h.boards.BoardOf(s.id())
}

func (h *Hub) draw(s *session, cmd Draw) {
	h.relayToBoard(s, cmd.Code, Frame{Event: EventDraw, Payload: cmd.Payload})
}

func (h *Hub) clearBoard(s *session, cmd Clear) {
	code := room.NormalizeCode(cmd.Code)
	h.relayToBoard(s, code, Frame{Event: EventClear, Payload: ClearPayload{WhiteboardCode: code}})
}

func (h *Hub) relayToBoard(s *session, code string, f Frame) {
	if !h.boards.Exists(code) {
		h.dropped("no_whiteboard", s, f.Event)
		return
	}
	h.fanout(h.boards.Participants(code), s.id(), f)
}

// codeUpdate stores the update and relays the raw payload to the rest of
// the room. Concurrent edits are not merged; the last one wins.
func (h *Hub) codeUpdate(s *session, cmd CodeUpdate) {
	rm, ok := h.rooms.Get(cmd.RoomCode)
	if !ok {
		h.dropped("no_room", s, EventCodeUpdate)
		return
	}
	h.docs.Apply(rm.Code, cmd.Update)
	h.fanout(memberIDs(rm), s.id(), Frame{Event: EventCodeUpdate, Payload: cmd.Payload})
}

// leaveRoom takes s out of its room. Remaining members get user_left; a
// room left empty is gone along with its shared files.
func (h *Hub) leaveRoom(s *session) {
	res, ok := h.rooms.Leave(s.id())
	s.roomCode = ""
	if !ok {
		return
	}

	if res.Closed {
		h.docs.Drop(res.Code)
		h.record(db.KindRoomClosed, res.Code, res.Name)
		h.logger.Info("room closed", "room", res.Code)
		return
	}

	rm, ok := h.rooms.Get(res.Code)
	if !ok {
		return
	}
	h.fanout(memberIDs(rm), "", Frame{
		Event:   EventUserLeft,
		Payload: PresencePayload{RoomCode: res.Code, DisplayName: res.Name, MemberNames: res.MemberNames},
	})
	h.logger.Info("room left", "room", res.Code, "name", res.Name, "members", len(res.MemberNames))
}

func (h *Hub) leaveWhiteboard(s *session) {
	h.boards.Leave(s.id())
	s.boardCode = ""
}

func (h *Hub) dropped(reason string, s *session, event string) {
	metrics.DroppedEvents.WithLabelValues(reason).Inc()
	h.logger.Debug("event dropped", "reason", reason, "event", event, "conn", s.id())
}
