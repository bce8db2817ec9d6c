// Package poller ingests unread mail into the processing queue. The
// unique (user_id, provider_message_id) constraint makes concurrent
// polls safe; the poller only reports what it inserted.
package poller

import (
	"context"
	"time"

	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/logger"
)

const unreadQuery = "is:unread"

// Config holds the polling knobs.
type Config struct {
	MaxResults     int           // messages fetched per user per tick
	InterUserDelay time.Duration // pause between users (provider quota smoothing)
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MaxResults: 50, InterUserDelay: 500 * time.Millisecond}
}

// PollResult summarizes one user's poll.
type PollResult struct {
	UserID  int64
	NewIDs  []int64 // queue row ids created this tick
	Skipped int     // already-known messages
}

// Poller scans user mailboxes for unread messages.
type Poller struct {
	users     out.UserRepository
	providers out.MailProviderFactory
	queue     out.QueueRepository
	cfg       Config
	log       *logger.Logger
}

// NewPoller creates the poller.
func NewPoller(users out.UserRepository, providers out.MailProviderFactory, queue out.QueueRepository, cfg Config) *Poller {
	return &Poller{
		users:     users,
		providers: providers,
		queue:     queue,
		cfg:       cfg,
		log:       logger.Default().WithField("component", "poller"),
	}
}

// PollAllUsers polls every active user with mail tokens, sequentially
// with a small delay between users. A failing user never stops the
// sweep; transient errors surface per user in the next tick anyway.
func (p *Poller) PollAllUsers(ctx context.Context) ([]PollResult, error) {
	users, err := p.users.ListActiveWithTokens(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]PollResult, 0, len(users))
	for i, u := range users {
		if i > 0 && p.cfg.InterUserDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(p.cfg.InterUserDelay):
			}
		}

		res, err := p.PollUserMails(ctx, u.ID)
		if err != nil {
			p.log.WithUser(u.ID).WithError(err).Error("poll failed")
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

// PollUserMails fetches the user's unread messages and inserts a pending
// queue row for each new one. Per-message failures are logged and
// skipped; a failing list call aborts only this user.
func (p *Poller) PollUserMails(ctx context.Context, userID int64) (*PollResult, error) {
	provider, err := p.providers.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	messages, err := provider.ListMessages(ctx, unreadQuery, p.cfg.MaxResults)
	if err != nil {
		return nil, err
	}

	res := &PollResult{UserID: userID}
	for _, m := range messages {
		item := &domain.EmailQueueItem{
			UserID:            userID,
			ProviderMessageID: m.ID,
			ProviderThreadID:  m.ThreadID,
			Sender:            m.From,
			Subject:           m.Subject,
			ReceivedAt:        m.Date,
			Status:            domain.StatusPending,
		}

		inserted, created, err := p.queue.InsertIfAbsent(ctx, item)
		if err != nil {
			if apperr.IsTransient(err) {
				return nil, err
			}
			p.log.WithUser(userID).WithError(err).Warn("skipping message %s", m.ID)
			continue
		}
		if !created {
			res.Skipped++
			continue
		}
		res.NewIDs = append(res.NewIDs, inserted.ID)
	}

	p.log.WithUser(userID).Info("poll done: %d new, %d skipped", len(res.NewIDs), res.Skipped)
	return res, nil
}
