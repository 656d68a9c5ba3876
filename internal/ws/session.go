package ws

// Peer is the hub's handle on one live connection.
type Peer interface {
	ID() string
	// Send queues an encoded frame without blocking. An error means the
	// peer can no longer keep up and should be dropped.
	Send(frame []byte) error
	Close() error
}

// session is the per-connection binding: who the connection says it is
// and which room and whiteboard it is currently in. Only the hub
// goroutine touches it.
type session struct {
	peer      Peer
	name      string
	roomCode  string
	boardCode string
}

func newSession(p Peer) *session {
	return &session{peer: p}
}

func (s *session) id() string { return s.peer.ID() }

func (s *session) inRoom() bool { return s.roomCode != "" }
