package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	pop3client "github.com/knadh/go-pop3"

	"github.com/ylr9527/mail-wx/internal/dedup"
)

// POP3Dialer opens POP3/POP3S sessions for one account. POP3 has no read
// flag, so "unread" is tracked client-side: consumed message UIDs go into
// the account's tracker and are excluded from later searches.
type POP3Dialer struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	tracker  *dedup.Tracker
	logger   *slog.Logger
}

// NewPOP3 creates a new POP3 dialer.
func NewPOP3(host string, port int, username, password string, useTLS bool, tracker *dedup.Tracker, logger *slog.Logger) *POP3Dialer {
	return &POP3Dialer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		tracker:  tracker,
		logger:   logger,
	}
}

func (d *POP3Dialer) Dial(ctx context.Context) (Session, error) {
	bd := &boundNetDialer{ctx: ctx}
	client := pop3client.New(pop3client.Opt{
		Host:        d.host,
		Port:        d.port,
		TLSEnabled:  d.useTLS,
		DialTimeout: dialTimeout,
		Dialer:      bd,
	})
	conn, err := client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("pop3 connect %s:%d: %w", d.host, d.port, err)
	}
	if err := conn.Auth(d.username, d.password); err != nil {
		_ = conn.Quit()
		bd.stop()
		return nil, fmt.Errorf("pop3 auth %s: %w", d.username, err)
	}
	return &pop3Session{
		conn:    conn,
		stop:    bd.stop,
		tracker: d.tracker,
		logger:  d.logger.With("account", d.username),
	}, nil
}

// boundNetDialer plugs into the POP3 client so the raw connection gets the
// same session deadline and cancellation watcher as the IMAP path.
type boundNetDialer struct {
	ctx      context.Context
	stopFunc func()
}

func (b *boundNetDialer) Dial(network, addr string) (net.Conn, error) {
	nd := net.Dialer{Timeout: dialTimeout}
	conn, err := nd.DialContext(b.ctx, network, addr)
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(sessionTimeout))
	b.stopFunc = closeOnCancel(b.ctx, conn)
	return conn, nil
}

func (b *boundNetDialer) stop() {
	if b.stopFunc != nil {
		b.stopFunc()
	}
}

type pop3Session struct {
	conn    *pop3client.Conn
	stop    func()
	tracker *dedup.Tracker
	logger  *slog.Logger
}

// SelectInbox is a no-op: POP3 exposes a single maildrop.
func (s *pop3Session) SelectInbox() error {
	return nil
}

func (s *pop3Session) Search(c Criteria) ([]Ref, error) {
	ids, err := s.conn.Uidl(0)
	if err != nil {
		// UIDL is optional; fall back to a plain LIST.
		ids, err = s.conn.List(0)
		if err != nil {
			return nil, fmt.Errorf("pop3 list: %w", err)
		}
	}

	var refs []Ref
	for _, m := range ids {
		ref := Ref{Num: m.ID, UID: m.UID}
		if c.UnseenOnly && s.tracker.Seen(trackerKey(ref)) {
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *pop3Session) Fetch(ref Ref) ([]byte, error) {
	buf, err := s.conn.RetrRaw(ref.Num)
	if err != nil {
		return nil, fmt.Errorf("pop3 retrieve %d: %w", ref.Num, err)
	}
	return buf.Bytes(), nil
}

func (s *pop3Session) MarkConsumed(ref Ref) {
	if err := s.tracker.Mark(trackerKey(ref)); err != nil {
		s.logger.Warn("pop3 mark consumed failed", "uid", ref.UID, "num", ref.Num, "error", err)
	}
}

func (s *pop3Session) Close() {
	if err := s.conn.Quit(); err != nil {
		s.logger.Debug("pop3 quit", "error", err)
	}
	s.stop()
}

// trackerKey keys a message in the consumed-state tracker. Servers without
// UIDL support fall back to the maildrop sequence number; that key is only
// stable while no mail is deleted, but it still stops a message with no
// Message-ID from being re-notified every cycle.
func trackerKey(ref Ref) string {
	if ref.UID != "" {
		return "uidl:" + ref.UID
	}
	return fmt.Sprintf("seq:%d", ref.Num)
}
