package mailbox

import (
	"context"
	"net"
	"sync"
	"time"
)

// Criteria narrows a mailbox search. Server-side date filters only have
// day granularity, so Since merely shrinks the candidate set; callers must
// re-check message times themselves.
type Criteria struct {
	UnseenOnly bool
	Since      time.Time // zero means no lower bound
}

// Ref identifies one message within a live session. It is only valid for
// the session that produced it and is never persisted.
type Ref struct {
	SeqNum uint32 // IMAP sequence number
	Num    int    // POP3 message number
	UID    string // POP3 unique id, when the server supports UIDL
}

// Session is one authenticated connection to a mailbox.
type Session interface {
	// SelectInbox opens the configured folder. POP3 has a single
	// maildrop, so its implementation is a no-op.
	SelectInbox() error

	// Search returns refs matching the criteria. An empty result is
	// (nil, nil), never an error.
	Search(c Criteria) ([]Ref, error)

	// Fetch returns the full raw RFC 5322 message. A failure for one ref
	// must not abort the batch; callers skip and continue.
	Fetch(ref Ref) ([]byte, error)

	// MarkConsumed flags the message so it is not reconsidered by future
	// polls. Best-effort: failures are logged, never returned.
	MarkConsumed(ref Ref)

	// Close releases the connection. Safe to call on every exit path.
	Close()
}

// Dialer opens a fresh session. One session is dialed per account per
// poll cycle; sessions are not shared across cycles.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

const dialTimeout = 30 * time.Second

// sessionTimeout is a hard deadline set on the raw connection at dial
// time. Every protocol command after that shares it, so a server that
// stops responding mid-session fails the cycle instead of wedging the
// poller's in-flight guard.
const sessionTimeout = 2 * time.Minute

// closeOnCancel force-closes conn when ctx is cancelled, unblocking any
// read or write in flight. The returned stop function releases the
// watcher; calling it after the session is closed is safe.
func closeOnCancel(ctx context.Context, conn net.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
