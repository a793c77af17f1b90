// Package poller runs one account's end-to-end poll cycle: open session,
// select candidates, normalize, dispatch, mark consumed, close session.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ylr9527/mail-wx/internal/config"
	"github.com/ylr9527/mail-wx/internal/dedup"
	"github.com/ylr9527/mail-wx/internal/mailbox"
	"github.com/ylr9527/mail-wx/internal/normalize"
	"github.com/ylr9527/mail-wx/internal/policy"
	"github.com/ylr9527/mail-wx/internal/status"
)

// Dispatcher delivers one normalized message. Implemented by
// notify.Notifier; faked in tests.
type Dispatcher interface {
	Notify(ctx context.Context, msg normalize.Message) error
}

// Poller owns one account's mutable poll state. At most one cycle per
// account is in flight at a time; an overlapping cycle is skipped, not
// queued.
type Poller struct {
	account    config.Account
	strategy   policy.Strategy
	dialer     mailbox.Dialer
	dispatcher Dispatcher
	tracker    *dedup.Tracker
	status     *status.Status
	logger     *slog.Logger

	mu                sync.Mutex
	polling           bool
	lastCheck         time.Time
	consecutiveErrors int
}

// New creates a Poller for the given account.
func New(
	acct config.Account,
	strategy policy.Strategy,
	dialer mailbox.Dialer,
	dispatcher Dispatcher,
	tracker *dedup.Tracker,
	st *status.Status,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		account:    acct,
		strategy:   strategy,
		dialer:     dialer,
		dispatcher: dispatcher,
		tracker:    tracker,
		status:     st,
		logger:     logger,
	}
}

// Name returns the account name.
func (p *Poller) Name() string {
	return p.account.Name
}

// RunCycle performs one poll cycle. ran is false when a cycle for this
// account was already in flight and this one was skipped. A non-nil error
// covers both cycle-level failures (connect, select, search) and delivery
// failures; per-message fetch/decode problems are logged and skipped
// without failing the cycle.
func (p *Poller) RunCycle(ctx context.Context) (ran bool, err error) {
	if !p.begin() {
		p.logger.Info("poll already in flight, skipping", "account", p.account.Name)
		return false, nil
	}

	cycleID := uuid.NewString()
	log := p.logger.With("account", p.account.Name, "cycle_id", cycleID)
	log.Debug("cycle start")

	err = p.cycle(ctx, log)
	p.end(err)
	if err != nil {
		log.Error("cycle failed", "error", err)
	}
	return true, err
}

func (p *Poller) cycle(ctx context.Context, log *slog.Logger) error {
	now := time.Now().UTC()

	session, err := p.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer session.Close()

	if err := session.SelectInbox(); err != nil {
		return fmt.Errorf("select inbox: %w", err)
	}

	refs, err := session.Search(p.strategy.Criteria(now))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(refs) == 0 {
		log.Debug("no candidates")
		return nil
	}
	log.Info("found candidates", "count", len(refs))

	deliveryFailures := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cycle interrupted: %w", err)
		}
		if !p.processMessage(ctx, log, session, ref, now) {
			deliveryFailures++
		}
	}
	if deliveryFailures > 0 {
		return fmt.Errorf("%d of %d notification(s) failed to deliver", deliveryFailures, len(refs))
	}
	return nil
}

// processMessage runs the inner per-message state machine. It returns
// false only on a delivery failure; fetch/decode problems skip the
// message and report true so siblings keep flowing.
func (p *Poller) processMessage(ctx context.Context, log *slog.Logger, session mailbox.Session, ref mailbox.Ref, now time.Time) bool {
	raw, err := session.Fetch(ref)
	if err != nil {
		log.Warn("fetch failed, skipping message", "error", err)
		return true
	}

	msg, err := normalize.Parse(raw, now)
	if err != nil {
		log.Warn("unparsable message, skipping", "error", err)
		return true
	}
	msg.Account = p.account.Username
	msg.Provider = p.account.Provider

	if msg.ID != "" && p.tracker.Seen(msg.ID) {
		log.Debug("already forwarded, consuming", "msg_id", msg.ID)
		session.MarkConsumed(ref)
		return true
	}

	if !p.strategy.InWindow(msg.ReceivedAt, now) {
		log.Debug("outside window, consuming without notification",
			"msg_id", msg.ID,
			"received_at", msg.ReceivedAt,
		)
		session.MarkConsumed(ref)
		return true
	}

	delivered := true
	if err := p.dispatcher.Notify(ctx, msg); err != nil {
		// Best-effort delivery: the message is consumed either way so
		// the next poll does not send it again.
		log.Error("notification failed", "msg_id", msg.ID, "error", err)
		delivered = false
	}

	session.MarkConsumed(ref)
	if msg.ID != "" {
		if err := p.tracker.Mark(msg.ID); err != nil {
			log.Warn("record forwarded id failed", "msg_id", msg.ID, "error", err)
		}
	}
	if delivered {
		log.Info("notified", "msg_id", msg.ID, "subject", msg.Subject)
	}
	return delivered
}

func (p *Poller) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.polling {
		return false
	}
	p.polling = true
	return true
}

func (p *Poller) end(err error) {
	p.mu.Lock()
	p.polling = false
	p.lastCheck = time.Now().UTC()
	if err != nil {
		p.consecutiveErrors++
	} else {
		p.consecutiveErrors = 0
	}
	lastCheck, consecutive := p.lastCheck, p.consecutiveErrors
	p.mu.Unlock()

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	p.status.RecordAccount(p.account.Name, lastCheck, errMsg, consecutive)
}

// ConsecutiveErrors returns the account's current error streak.
func (p *Poller) ConsecutiveErrors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveErrors
}
