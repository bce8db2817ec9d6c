package poller

import (
	"context"
	"testing"
	"time"

	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
)

type stubUsers struct{ users []domain.User }

func (s *stubUsers) GetByID(ctx context.Context, id int64) (*domain.User, error) { return nil, nil }
func (s *stubUsers) GetByChatID(ctx context.Context, chatID int64) (*domain.User, error) {
	return nil, nil
}
func (s *stubUsers) ListActiveWithTokens(ctx context.Context) ([]domain.User, error) {
	return s.users, nil
}
func (s *stubUsers) UpdateTokens(ctx context.Context, userID int64, encryptedAccess, encryptedRefresh string, expiry time.Time) error {
	return nil
}

type stubProvider struct {
	out.MailProvider
	messages []out.MailMessage
	listErr  error
}

func (s *stubProvider) ListMessages(ctx context.Context, query string, maxResults int) ([]out.MailMessage, error) {
	return s.messages, s.listErr
}

type stubFactory struct{ providers map[int64]*stubProvider }

func (s *stubFactory) ForUser(ctx context.Context, userID int64) (out.MailProvider, error) {
	p, ok := s.providers[userID]
	if !ok {
		return nil, apperr.NotFound("provider")
	}
	return p, nil
}

// recordingQueue treats a fixed set of message ids as already known.
type recordingQueue struct {
	out.QueueRepository
	known    map[string]bool
	inserted []*domain.EmailQueueItem
	nextID   int64
}

func (q *recordingQueue) InsertIfAbsent(ctx context.Context, item *domain.EmailQueueItem) (*domain.EmailQueueItem, bool, error) {
	if q.known[item.ProviderMessageID] {
		return nil, false, nil
	}
	q.nextID++
	cp := *item
	cp.ID = q.nextID
	q.inserted = append(q.inserted, &cp)
	return &cp, true, nil
}

func TestPollUserMailsDeduplicates(t *testing.T) {
	provider := &stubProvider{messages: []out.MailMessage{
		{ID: "m1", ThreadID: "t1", From: "a@b.com", Subject: "one", Date: time.Now()},
		{ID: "m2", ThreadID: "t2", From: "c@d.com", Subject: "two", Date: time.Now()},
		{ID: "m3", ThreadID: "t3", From: "e@f.com", Subject: "three", Date: time.Now()},
	}}
	queue := &recordingQueue{known: map[string]bool{"m2": true}}

	p := NewPoller(&stubUsers{}, &stubFactory{providers: map[int64]*stubProvider{5: provider}}, queue, Config{MaxResults: 50})

	res, err := p.PollUserMails(context.Background(), 5)
	if err != nil {
		t.Fatalf("PollUserMails: %v", err)
	}
	if len(res.NewIDs) != 2 {
		t.Errorf("expected 2 new rows, got %v", res.NewIDs)
	}
	if res.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", res.Skipped)
	}
	if len(queue.inserted) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(queue.inserted))
	}
	first := queue.inserted[0]
	if first.UserID != 5 || first.ProviderMessageID != "m1" || first.Status != domain.StatusPending {
		t.Errorf("unexpected inserted row: %+v", first)
	}
}

func TestPollAllUsersSurvivesFailingUser(t *testing.T) {
	good := &stubProvider{messages: []out.MailMessage{
		{ID: "m1", ThreadID: "t1", From: "a@b.com", Subject: "one", Date: time.Now()},
	}}
	bad := &stubProvider{listErr: apperr.ServerError("mail", nil)}

	users := &stubUsers{users: []domain.User{{ID: 1, Active: true}, {ID: 2, Active: true}}}
	factory := &stubFactory{providers: map[int64]*stubProvider{1: bad, 2: good}}
	queue := &recordingQueue{known: map[string]bool{}}

	p := NewPoller(users, factory, queue, Config{MaxResults: 50})

	results, err := p.PollAllUsers(context.Background())
	if err != nil {
		t.Fatalf("PollAllUsers: %v", err)
	}
	if len(results) != 1 || results[0].UserID != 2 {
		t.Fatalf("expected only the healthy user's result, got %+v", results)
	}
	if len(results[0].NewIDs) != 1 {
		t.Errorf("expected one new row for user 2, got %v", results[0].NewIDs)
	}
}
