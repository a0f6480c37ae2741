package upload

import "fmt"

// DefaultChunkSize is the APPEND segment size used when neither the platform
// nor the caller sets one.
const DefaultChunkSize = 1_000_000

// State is a step of the chunked upload state machine.
type State int

const (
	StateInit State = iota
	StateAppending
	StateFinalizing
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAppending:
		return "appending"
	case StateFinalizing:
		return "finalizing"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the bookkeeping for one chunked upload. It belongs to the
// Orchestrator call that created it and is dropped once that call returns.
type Session struct {
	MediaID          string
	TotalBytes       int
	ChunkSize        int
	NextSegmentIndex int
	State            State
}

func newSession(totalBytes, chunkSize int) *Session {
	return &Session{TotalBytes: totalBytes, ChunkSize: chunkSize, State: StateInit}
}

// advance moves the session forward. Failed is reachable from every
// non-terminal state; everything else must follow Init→Appending→Finalizing→Complete.
func (s *Session) advance(to State) error {
	if s.State == StateComplete || s.State == StateFailed {
		return fmt.Errorf("upload session %s: cannot move from terminal state %s to %s", s.MediaID, s.State, to)
	}
	if to != StateFailed && to != s.State+1 {
		return fmt.Errorf("upload session %s: invalid transition %s -> %s", s.MediaID, s.State, to)
	}
	s.State = to
	return nil
}

func (s *Session) fail() {
	_ = s.advance(StateFailed)
}

// Segments splits payload into chunkSize pieces in order. A payload no larger
// than chunkSize (including an empty one) yields exactly one segment.
func Segments(payload []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if len(payload) <= chunkSize {
		return [][]byte{payload}
	}
	n := (len(payload) + chunkSize - 1) / chunkSize
	out := make([][]byte, 0, n)
	for offset := 0; offset < len(payload); offset += chunkSize {
		end := min(offset+chunkSize, len(payload))
		out = append(out, payload[offset:end])
	}
	return out
}
