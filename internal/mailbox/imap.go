package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPDialer opens IMAP/IMAPS sessions for one account.
type IMAPDialer struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	folder   string
	logger   *slog.Logger
}

// NewIMAP creates a new IMAP dialer.
func NewIMAP(host string, port int, username, password string, useTLS bool, folder string, logger *slog.Logger) *IMAPDialer {
	if folder == "" {
		folder = "INBOX"
	}
	return &IMAPDialer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		folder:   folder,
		logger:   logger,
	}
}

func (d *IMAPDialer) Dial(ctx context.Context) (Session, error) {
	addr := net.JoinHostPort(d.host, strconv.Itoa(d.port))

	netDialer := &net.Dialer{Timeout: dialTimeout}
	var conn net.Conn
	var err error
	if d.useTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: netDialer,
			Config:    &tls.Config{ServerName: d.host},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}

	// Bound the whole session: deadline for slow servers, watcher for
	// cancellation. Either one unblocks a stuck command by killing the
	// connection.
	_ = conn.SetDeadline(time.Now().Add(sessionTimeout))
	stop := closeOnCancel(ctx, conn)

	client := imapclient.New(conn, &imapclient.Options{})
	if err := client.Login(d.username, d.password).Wait(); err != nil {
		client.Close()
		stop()
		return nil, fmt.Errorf("imap login %s: %w", d.username, err)
	}

	return &imapSession{
		client: client,
		stop:   stop,
		folder: d.folder,
		logger: d.logger.With("account", d.username),
	}, nil
}

type imapSession struct {
	client *imapclient.Client
	stop   func()
	folder string
	logger *slog.Logger
}

func (s *imapSession) SelectInbox() error {
	if _, err := s.client.Select(s.folder, nil).Wait(); err != nil {
		return fmt.Errorf("imap select %s: %w", s.folder, err)
	}
	return nil
}

func (s *imapSession) Search(c Criteria) ([]Ref, error) {
	criteria := &imap.SearchCriteria{}
	if c.UnseenOnly {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}
	if !c.Since.IsZero() {
		criteria.Since = c.Since
	}

	data, err := s.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	seqNums := data.AllSeqNums()
	if len(seqNums) == 0 {
		return nil, nil
	}
	refs := make([]Ref, 0, len(seqNums))
	for _, n := range seqNums {
		refs = append(refs, Ref{SeqNum: n})
	}
	return refs, nil
}

func (s *imapSession) Fetch(ref Ref) ([]byte, error) {
	// Peek so fetching alone never sets \Seen; consuming is explicit.
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	msgs, err := s.client.Fetch(imap.SeqSetNum(ref.SeqNum), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch %d: %w", ref.SeqNum, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("imap fetch %d: no data returned", ref.SeqNum)
	}

	body := msgs[0].FindBodySection(bodySection)
	if len(body) == 0 {
		return nil, fmt.Errorf("imap fetch %d: empty body", ref.SeqNum)
	}
	return body, nil
}

func (s *imapSession) MarkConsumed(ref Ref) {
	storeCmd := s.client.Store(imap.SeqSetNum(ref.SeqNum), &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		s.logger.Warn("imap mark seen failed", "seq", ref.SeqNum, "error", err)
	}
}

func (s *imapSession) Close() {
	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Debug("imap logout", "error", err)
	}
	s.client.Close()
	s.stop()
}
