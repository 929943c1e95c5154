// Package poller checks every active mailbox for messages that match the
// owner's trigger phrases and records one email notification per
// (message, phrase) pair.
package poller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/znz-systems/solebook/internal/mailclient"
	"github.com/znz-systems/solebook/internal/metrics"
	"github.com/znz-systems/solebook/internal/models"
)

var (
	ErrConnectionTimeout = errors.New("connection timed out")
	ErrPollDeadline      = errors.New("poll deadline reached")
)

type ConnectionRegistry interface {
	ListActive(ctx context.Context) ([]models.EmailConnection, error)
	Credential(ctx context.Context, conn models.EmailConnection) (string, error)
	RecordSuccess(ctx context.Context, conn models.EmailConnection, checkedAt time.Time) error
	RecordFailure(ctx context.Context, conn models.EmailConnection, cause error) error
}

type TriggerRegistry interface {
	ListFresh(ctx context.Context, userID int64) ([]models.TriggerPhrase, error)
}

type NotificationWriter interface {
	CreateEmailNotification(ctx context.Context, params models.EmailNotificationCreateParams) (bool, error)
}

type Options struct {
	Workers           int
	ConnectionTimeout time.Duration
	Deadline          time.Duration
	FetchLimit        int
	BodyPrefixBytes   int
	SnippetLength     int
	DefaultWindow     time.Duration
	Now               func() time.Time
}

type ConnectionResult struct {
	UserID               int64     `json:"userId"`
	ConnectionID         uuid.UUID `json:"connectionId"`
	NewNotificationCount int       `json:"newNotificationCount"`
	Error                string    `json:"error,omitempty"`
	Skipped              bool      `json:"skipped,omitempty"`
}

type Result struct {
	Checked               int                `json:"checked"`
	TotalNewNotifications int                `json:"totalNewNotifications"`
	Connections           []ConnectionResult `json:"perConnectionResults"`
}

type Poller struct {
	connections ConnectionRegistry
	triggers    TriggerRegistry
	writer      NotificationWriter
	dialer      mailclient.Dialer
	logger      *slog.Logger

	workers           int
	connectionTimeout time.Duration
	deadline          time.Duration
	fetchLimit        int
	bodyPrefixBytes   int
	snippetLength     int
	defaultWindow     time.Duration
	now               func() time.Time
}

func New(connections ConnectionRegistry, triggers TriggerRegistry, writer NotificationWriter, dialer mailclient.Dialer, logger *slog.Logger, opts Options) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		connections:       connections,
		triggers:          triggers,
		writer:            writer,
		dialer:            dialer,
		logger:            logger,
		workers:           opts.Workers,
		connectionTimeout: opts.ConnectionTimeout,
		deadline:          opts.Deadline,
		fetchLimit:        opts.FetchLimit,
		bodyPrefixBytes:   opts.BodyPrefixBytes,
		snippetLength:     opts.SnippetLength,
		defaultWindow:     opts.DefaultWindow,
		now:               opts.Now,
	}
	if p.workers <= 0 {
		p.workers = 5
	}
	if p.connectionTimeout <= 0 {
		p.connectionTimeout = 45 * time.Second
	}
	if p.deadline <= 0 {
		p.deadline = 4 * time.Minute
	}
	if p.fetchLimit <= 0 {
		p.fetchLimit = 100
	}
	if p.bodyPrefixBytes <= 0 {
		p.bodyPrefixBytes = 8192
	}
	if p.snippetLength <= 0 {
		p.snippetLength = 200
	}
	if p.defaultWindow <= 0 {
		p.defaultWindow = 24 * time.Hour
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// Run polls every active connection once. Failures of individual
// connections are reported in the result; only failing to list connections
// is returned as an error.
func (p *Poller) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	conns, err := p.connections.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active connections: %w", err)
	}

	results := make([]ConnectionResult, len(conns))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, conn := range conns {
		g.Go(func() error {
			results[i] = p.pollConnection(ctx, conn)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Checked: len(conns), Connections: results}
	for _, r := range results {
		res.TotalNewNotifications += r.NewNotificationCount
	}

	metrics.PollRuns.Inc()
	metrics.PollRunDuration.Observe(time.Since(started).Seconds())
	p.logger.Info("email poll finished",
		"connections", res.Checked,
		"new_notifications", res.TotalNewNotifications,
		"duration_ms", time.Since(started).Milliseconds())
	return res, nil
}

type outcome struct {
	count int
	err   error
}

func (p *Poller) pollConnection(ctx context.Context, conn models.EmailConnection) ConnectionResult {
	res := ConnectionResult{UserID: conn.UserID, ConnectionID: conn.ID}
	log := p.logger.With("user_id", conn.UserID, "connection_id", conn.ID)

	if err := ctx.Err(); err != nil {
		res.Skipped = true
		res.Error = "poll deadline reached before this connection started"
		metrics.PollConnections.WithLabelValues(metrics.ResultSkipped).Inc()
		return res
	}

	triggers, err := p.triggers.ListFresh(ctx, conn.UserID)
	if err != nil {
		return p.fail(ctx, log, conn, res, fmt.Errorf("load trigger phrases: %w", err))
	}
	if len(triggers) == 0 {
		res.Skipped = true
		metrics.PollConnections.WithLabelValues(metrics.ResultSkipped).Inc()
		return res
	}

	startedAt := p.now()
	connCtx, cancel := context.WithTimeout(ctx, p.connectionTimeout)
	defer cancel()

	slot := &sessionSlot{}
	done := make(chan outcome, 1)
	go func() {
		n, err := p.check(connCtx, conn, triggers, startedAt, slot)
		done <- outcome{count: n, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-connCtx.Done():
		// The worker goroutine is abandoned; its result is dropped and it
		// never touches the cursor.
		slot.abort()
		o.err = connCtx.Err()
	}
	if o.err != nil {
		// The run deadline also cancels connCtx, so check it first.
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			o.err = fmt.Errorf("%w after %s, before this connection finished", ErrPollDeadline, p.deadline)
		case errors.Is(connCtx.Err(), context.DeadlineExceeded):
			o.err = fmt.Errorf("%w after %s", ErrConnectionTimeout, p.connectionTimeout)
		}
	}

	if o.err != nil {
		return p.fail(ctx, log, conn, res, o.err)
	}

	res.NewNotificationCount = o.count
	recordCtx, cancelRecord := detached(ctx)
	defer cancelRecord()
	if err := p.connections.RecordSuccess(recordCtx, conn, startedAt); err != nil {
		log.Error("failed to advance poll cursor", "error", err)
		res.Error = err.Error()
		metrics.PollConnections.WithLabelValues(metrics.ResultError).Inc()
		return res
	}
	metrics.PollConnections.WithLabelValues(metrics.ResultOK).Inc()
	log.Info("mailbox checked", "new_notifications", o.count)
	return res
}

func (p *Poller) fail(ctx context.Context, log *slog.Logger, conn models.EmailConnection, res ConnectionResult, cause error) ConnectionResult {
	res.Error = cause.Error()
	result := metrics.ResultError
	if errors.Is(cause, ErrConnectionTimeout) || errors.Is(cause, ErrPollDeadline) {
		result = metrics.ResultTimeout
	}
	metrics.PollConnections.WithLabelValues(result).Inc()
	log.Warn("mailbox check failed", "error", cause)

	recordCtx, cancel := detached(ctx)
	defer cancel()
	if err := p.connections.RecordFailure(recordCtx, conn, cause); err != nil {
		log.Error("failed to record connection error", "error", err)
	}
	return res
}

func (p *Poller) check(ctx context.Context, conn models.EmailConnection, triggers []models.TriggerPhrase, startedAt time.Time, slot *sessionSlot) (int, error) {
	password, err := p.connections.Credential(ctx, conn)
	if err != nil {
		return 0, err
	}

	session, err := p.dialer.Dial(ctx, mailclient.Account{
		Host:     conn.Host,
		Port:     conn.Port,
		Username: conn.Email,
		Password: password,
	})
	if err != nil {
		return 0, err
	}
	if !slot.set(session) {
		return 0, ErrConnectionTimeout
	}

	count, err := p.scan(ctx, session, conn, triggers, p.windowStart(conn, startedAt))
	if err != nil {
		session.Abort()
		return count, err
	}
	if closeErr := session.Close(); closeErr != nil {
		p.logger.Debug("mailbox logout failed", "connection_id", conn.ID, "error", closeErr)
	}
	return count, nil
}

// detached outlives the invocation deadline so a connection's outcome is
// still written when the run ends mid-write.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

// windowStart is the connection's cursor, or DefaultWindow before startedAt
// for a connection that has never completed a poll.
func (p *Poller) windowStart(conn models.EmailConnection, startedAt time.Time) time.Time {
	if conn.LastCheckAt != nil {
		return *conn.LastCheckAt
	}
	return startedAt.Add(-p.defaultWindow)
}

func (p *Poller) scan(ctx context.Context, session mailclient.Session, conn models.EmailConnection, triggers []models.TriggerPhrase, since time.Time) (int, error) {
	uids, err := session.SearchSince(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(uids) > p.fetchLimit {
		uids = uids[len(uids)-p.fetchLimit:]
	}
	if len(uids) == 0 {
		return 0, nil
	}

	msgs, err := session.Fetch(ctx, uids, p.bodyPrefixBytes)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, msg := range msgs {
		if !msg.InternalDate.IsZero() && msg.InternalDate.Before(since) {
			continue
		}
		snippet := ExtractSnippet(msg.Body, p.snippetLength)
		matched := Match(triggers, msg.Subject, snippet)
		emailDate := msg.Date
		if emailDate.IsZero() {
			emailDate = msg.InternalDate
		}
		for _, t := range matched {
			ok, err := p.writer.CreateEmailNotification(ctx, models.EmailNotificationCreateParams{
				UserID:        conn.UserID,
				ConnectionID:  conn.ID,
				TriggerID:     t.ID,
				DedupKey:      DedupKey(conn.ID, msg.UID, t.ID),
				TriggerPhrase: t.Phrase,
				TriggerLabel:  t.Label,
				Subject:       msg.Subject,
				From:          msg.From,
				Snippet:       snippet,
				EmailDate:     emailDate,
			})
			if err != nil {
				return created, fmt.Errorf("store email notification: %w", err)
			}
			if ok {
				created++
				metrics.EmailNotificationsCreated.Inc()
			}
		}
	}
	return created, nil
}

// Match returns every trigger whose phrase occurs in subject or snippet,
// ignoring case.
func Match(triggers []models.TriggerPhrase, subject, snippet string) []models.TriggerPhrase {
	text := strings.ToLower(subject + " " + snippet)
	var out []models.TriggerPhrase
	for _, t := range triggers {
		phrase := strings.ToLower(strings.TrimSpace(t.Phrase))
		if phrase != "" && strings.Contains(text, phrase) {
			out = append(out, t)
		}
	}
	return out
}

// DedupKey identifies one (connection, message, trigger) cause.
func DedupKey(connectionID uuid.UUID, uid uint32, triggerID uuid.UUID) string {
	sum := sha256.Sum256([]byte(connectionID.String() + ":" + strconv.FormatUint(uint64(uid), 10) + ":" + triggerID.String()))
	return hex.EncodeToString(sum[:])
}

// sessionSlot hands the open session from the worker goroutine to the
// timeout path.
type sessionSlot struct {
	mu      sync.Mutex
	session mailclient.Session
	aborted bool
}

// set stores s. It returns false, after aborting s, when the slot was
// already aborted.
func (sl *sessionSlot) set(s mailclient.Session) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.aborted {
		s.Abort()
		return false
	}
	sl.session = s
	return true
}

func (sl *sessionSlot) abort() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.aborted = true
	if sl.session != nil {
		sl.session.Abort()
	}
}
