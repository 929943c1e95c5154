package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/znz-systems/solebook/internal/cache"
	"github.com/znz-systems/solebook/internal/mailclient"
	"github.com/znz-systems/solebook/internal/models"
	"github.com/znz-systems/solebook/internal/store"
	"github.com/znz-systems/solebook/internal/trigger"
)

var pollNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeConnections struct {
	mu        sync.Mutex
	active    []models.EmailConnection
	listErr   error
	checked   map[uuid.UUID]time.Time
	failures  map[uuid.UUID]string
	passwords map[uuid.UUID]string
}

func newFakeConnections(conns ...models.EmailConnection) *fakeConnections {
	return &fakeConnections{
		active:    conns,
		checked:   map[uuid.UUID]time.Time{},
		failures:  map[uuid.UUID]string{},
		passwords: map[uuid.UUID]string{},
	}
}

func (f *fakeConnections) ListActive(ctx context.Context) ([]models.EmailConnection, error) {
	return f.active, f.listErr
}

func (f *fakeConnections) Credential(ctx context.Context, conn models.EmailConnection) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passwords[conn.ID], nil
}

func (f *fakeConnections) RecordSuccess(ctx context.Context, conn models.EmailConnection, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked[conn.ID] = checkedAt
	return nil
}

func (f *fakeConnections) RecordFailure(ctx context.Context, conn models.EmailConnection, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[conn.ID] = cause.Error()
	return nil
}

type fakeTriggers map[int64][]models.TriggerPhrase

func (f fakeTriggers) ListFresh(ctx context.Context, userID int64) ([]models.TriggerPhrase, error) {
	return f[userID], nil
}

// memPhrases is a TriggerPhraseStore shared by several trigger services, the
// way separate processes share one database.
type memPhrases struct {
	mu   sync.Mutex
	rows []models.TriggerPhrase
}

func (m *memPhrases) CreateTriggerPhrase(ctx context.Context, userID int64, p, label string) (*models.TriggerPhrase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := phrase(userID, p)
	t.Label = label
	m.rows = append(m.rows, t)
	return &t, nil
}

func (m *memPhrases) ListTriggerPhrasesByUserID(ctx context.Context, userID int64) ([]models.TriggerPhrase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TriggerPhrase
	for _, t := range m.rows {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memPhrases) DeleteTriggerPhrase(ctx context.Context, userID int64, id uuid.UUID) error {
	return store.ErrNotFound
}

type memWriter struct {
	mu   sync.Mutex
	rows map[string]models.EmailNotificationCreateParams
}

func newMemWriter() *memWriter {
	return &memWriter{rows: map[string]models.EmailNotificationCreateParams{}}
}

func (w *memWriter) CreateEmailNotification(ctx context.Context, params models.EmailNotificationCreateParams) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := fmt.Sprintf("%d/%s", params.UserID, params.DedupKey)
	if _, ok := w.rows[key]; ok {
		return false, nil
	}
	w.rows[key] = params
	return true, nil
}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

type fakeSession struct {
	mu       sync.Mutex
	messages []mailclient.Message
	block    bool
	since    time.Time
	fetched  []uint32
	closed   bool
	aborted  bool
}

func (s *fakeSession) SearchSince(ctx context.Context, since time.Time) ([]uint32, error) {
	s.mu.Lock()
	s.since = since
	block := s.block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	uids := make([]uint32, 0, len(s.messages))
	for _, m := range s.messages {
		uids = append(uids, m.UID)
	}
	return uids, nil
}

func (s *fakeSession) Fetch(ctx context.Context, uids []uint32, bodyPrefix int) ([]mailclient.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append([]uint32(nil), uids...)
	want := map[uint32]bool{}
	for _, uid := range uids {
		want[uid] = true
	}
	var out []mailclient.Message
	for _, m := range s.messages {
		if want[m.UID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
}

func (s *fakeSession) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.aborted
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	errs     map[string]error
	dials    int
}

func (d *fakeDialer) Dial(ctx context.Context, account mailclient.Account) (mailclient.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if err := d.errs[account.Host]; err != nil {
		return nil, err
	}
	s, ok := d.sessions[account.Host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return s, nil
}

func connection(userID int64, host string, lastCheck *time.Time) models.EmailConnection {
	return models.EmailConnection{
		ID:          uuid.New(),
		UserID:      userID,
		Email:       fmt.Sprintf("user%d@example.com", userID),
		Host:        host,
		Port:        993,
		IsActive:    true,
		LastCheckAt: lastCheck,
	}
}

func phrase(userID int64, p string) models.TriggerPhrase {
	return models.TriggerPhrase{ID: models.TriggerPhraseID(userID, p), UserID: userID, Phrase: p}
}

func plainMessage(uid uint32, subject, body string) mailclient.Message {
	raw := "Subject: " + subject + "\r\nContent-Type: text/plain\r\n\r\n" + body
	return mailclient.Message{
		UID:          uid,
		Subject:      subject,
		From:         "Nike <noreply@nike.com>",
		Date:         pollNow.Add(-time.Hour),
		InternalDate: pollNow.Add(-time.Hour),
		Body:         []byte(raw),
	}
}

func newTestPoller(conns *fakeConnections, triggers fakeTriggers, w *memWriter, d *fakeDialer, opts Options) *Poller {
	if opts.Now == nil {
		opts.Now = func() time.Time { return pollNow }
	}
	return New(conns, triggers, w, d, nil, opts)
}

func TestFirstPollUsesDefaultWindow(t *testing.T) {
	conn := connection(1, "imap.a", nil)
	session := &fakeSession{}
	p := newTestPoller(newFakeConnections(conn), fakeTriggers{1: {phrase(1, "order confirmed")}}, newMemWriter(),
		&fakeDialer{sessions: map[string]*fakeSession{"imap.a": session}}, Options{})

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pollNow.Add(-24*time.Hour), session.since)
}

func TestPollUsesStoredCursor(t *testing.T) {
	last := pollNow.Add(-10 * time.Minute)
	conn := connection(1, "imap.a", &last)
	session := &fakeSession{}
	p := newTestPoller(newFakeConnections(conn), fakeTriggers{1: {phrase(1, "shipped")}}, newMemWriter(),
		&fakeDialer{sessions: map[string]*fakeSession{"imap.a": session}}, Options{})

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, last, session.since)
}

func TestTwoTriggersOneMessageTwoRows(t *testing.T) {
	conn := connection(1, "imap.a", nil)
	conns := newFakeConnections(conn)
	session := &fakeSession{messages: []mailclient.Message{
		plainMessage(42, "Your order has shipped", "Order confirmed and on its way"),
	}}
	w := newMemWriter()
	p := newTestPoller(conns, fakeTriggers{1: {phrase(1, "order confirmed"), phrase(1, "shipped")}}, w,
		&fakeDialer{sessions: map[string]*fakeSession{"imap.a": session}}, Options{})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 2, res.TotalNewNotifications)
	assert.Equal(t, 2, w.count())
	assert.Equal(t, pollNow, conns.checked[conn.ID])
	assert.True(t, session.closed)
}

func TestSecondRunCreatesNothing(t *testing.T) {
	conn := connection(1, "imap.a", nil)
	session := &fakeSession{messages: []mailclient.Message{plainMessage(7, "Shipped!", "")}}
	w := newMemWriter()
	p := newTestPoller(newFakeConnections(conn), fakeTriggers{1: {phrase(1, "shipped")}}, w,
		&fakeDialer{sessions: map[string]*fakeSession{"imap.a": session}}, Options{})

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalNewNotifications)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.TotalNewNotifications)
	assert.Equal(t, 1, w.count())
}

func TestOneFailureDoesNotStopOthers(t *testing.T) {
	x := connection(1, "imap.x", nil)
	y := connection(2, "imap.y", nil)
	conns := newFakeConnections(x, y)
	ySession := &fakeSession{messages: []mailclient.Message{plainMessage(1, "Order confirmed", "")}}
	d := &fakeDialer{
		sessions: map[string]*fakeSession{"imap.y": ySession},
		errs:     map[string]error{"imap.x": fmt.Errorf("%w: bad password", mailclient.ErrAuth)},
	}
	p := newTestPoller(conns, fakeTriggers{1: {phrase(1, "order confirmed")}, 2: {phrase(2, "order confirmed")}},
		newMemWriter(), d, Options{})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Connections, 2)
	assert.NotEmpty(t, res.Connections[0].Error)
	assert.Empty(t, res.Connections[1].Error)
	assert.Equal(t, 1, res.Connections[1].NewNotificationCount)

	assert.Contains(t, conns.failures, x.ID)
	assert.NotContains(t, conns.failures, y.ID)
	assert.NotContains(t, conns.checked, x.ID)
	assert.Equal(t, pollNow, conns.checked[y.ID])
}

func TestZeroTriggersOpensNoSession(t *testing.T) {
	conns := newFakeConnections(connection(1, "imap.a", nil))
	d := &fakeDialer{sessions: map[string]*fakeSession{"imap.a": {}}}
	p := newTestPoller(conns, fakeTriggers{}, newMemWriter(), d, Options{})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Connections[0].Skipped)
	assert.Zero(t, d.dials)
	assert.Empty(t, conns.checked)
	assert.Empty(t, conns.failures)
}

func TestTimeoutLeavesCursorAndAbortsSession(t *testing.T) {
	conn := connection(1, "imap.slow", nil)
	conns := newFakeConnections(conn)
	session := &fakeSession{block: true}
	p := newTestPoller(conns, fakeTriggers{1: {phrase(1, "shipped")}}, newMemWriter(),
		&fakeDialer{sessions: map[string]*fakeSession{"imap.slow": session}},
		Options{ConnectionTimeout: 50 * time.Millisecond})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Connections[0].Error, "timed out")
	assert.NotContains(t, conns.checked, conn.ID)
	assert.Contains(t, conns.failures, conn.ID)
	assert.Eventually(t, session.ended, time.Second, 10*time.Millisecond)
}

func TestFetchLimitKeepsNewest(t *testing.T) {
	var msgs []mailclient.Message
	for uid := uint32(1); uid <= 10; uid++ {
		msgs = append(msgs, plainMessage(uid, "hello", ""))
	}
	session := &fakeSession{messages: msgs}
	p := newTestPoller(newFakeConnections(connection(1, "imap.a", nil)), fakeTriggers{1: {phrase(1, "shipped")}},
		newMemWriter(), &fakeDialer{sessions: map[string]*fakeSession{"imap.a": session}}, Options{FetchLimit: 3})

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint32{8, 9, 10}, session.fetched)
}

func TestMessagesBeforeCursorIgnored(t *testing.T) {
	last := pollNow.Add(-30 * time.Minute)
	old := plainMessage(1, "Shipped", "")
	old.InternalDate = pollNow.Add(-2 * time.Hour)
	fresh := plainMessage(2, "Shipped", "")
	fresh.InternalDate = pollNow.Add(-5 * time.Minute)

	w := newMemWriter()
	session := &fakeSession{messages: []mailclient.Message{old, fresh}}
	p := newTestPoller(newFakeConnections(connection(1, "imap.a", &last)), fakeTriggers{1: {phrase(1, "shipped")}},
		w, &fakeDialer{sessions: map[string]*fakeSession{"imap.a": session}}, Options{})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalNewNotifications)
}

func TestListFailureIsFatal(t *testing.T) {
	conns := newFakeConnections()
	conns.listErr = errors.New("connection refused")
	p := newTestPoller(conns, fakeTriggers{}, newMemWriter(), &fakeDialer{}, Options{})

	_, err := p.Run(context.Background())
	assert.Error(t, err)
}

func TestExpiredDeadlineSkipsConnections(t *testing.T) {
	conns := newFakeConnections(connection(1, "imap.a", nil))
	d := &fakeDialer{sessions: map[string]*fakeSession{"imap.a": {}}}
	p := newTestPoller(conns, fakeTriggers{1: {phrase(1, "shipped")}}, newMemWriter(), d, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Connections[0].Skipped)
	assert.Zero(t, d.dials)
	assert.Empty(t, conns.failures)
}

func TestTriggerAddedElsewhereIsMatchedNextRun(t *testing.T) {
	ctx := context.Background()
	shared := &memPhrases{}
	newService := func() *trigger.Service {
		return trigger.NewService(shared, cache.NewLRU[int64, []models.TriggerPhrase](16, time.Hour))
	}
	polling, api := newService(), newService()

	_, err := polling.Add(ctx, 1, "sold", "")
	require.NoError(t, err)
	warm, err := polling.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, warm, 1)

	conn := connection(1, "imap.a", nil)
	session := &fakeSession{messages: []mailclient.Message{plainMessage(5, "Sold and shipped", "")}}
	w := newMemWriter()
	p := New(newFakeConnections(conn), polling, w,
		&fakeDialer{sessions: map[string]*fakeSession{"imap.a": session}}, nil,
		Options{Now: func() time.Time { return pollNow }})

	first, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalNewNotifications)

	// Added through another instance; the polling instance's cache still
	// holds the one-phrase list.
	_, err = api.Add(ctx, 1, "shipped", "")
	require.NoError(t, err)

	second, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.TotalNewNotifications)
	assert.Equal(t, 2, w.count())
}

func TestRunDeadlineReportedSeparately(t *testing.T) {
	conn := connection(1, "imap.slow", nil)
	conns := newFakeConnections(conn)
	session := &fakeSession{block: true}
	p := newTestPoller(conns, fakeTriggers{1: {phrase(1, "shipped")}}, newMemWriter(),
		&fakeDialer{sessions: map[string]*fakeSession{"imap.slow": session}},
		Options{Deadline: 50 * time.Millisecond, ConnectionTimeout: time.Minute})

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Connections[0].Error, "poll deadline reached")
	assert.NotContains(t, res.Connections[0].Error, "timed out")
	assert.NotContains(t, conns.checked, conn.ID)
	assert.Contains(t, conns.failures, conn.ID)
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	triggers := []models.TriggerPhrase{phrase(1, "Order Confirmed"), phrase(1, "refund")}
	got := Match(triggers, "ORDER CONFIRMED #123", "thanks for shopping")
	require.Len(t, got, 1)
	assert.Equal(t, "Order Confirmed", got[0].Phrase)
}

func TestDedupKeyStable(t *testing.T) {
	c, tr := uuid.New(), uuid.New()
	assert.Equal(t, DedupKey(c, 5, tr), DedupKey(c, 5, tr))
	assert.NotEqual(t, DedupKey(c, 5, tr), DedupKey(c, 6, tr))
	assert.Len(t, DedupKey(c, 5, tr), 64)
}
