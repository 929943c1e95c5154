package mailclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const inbox = "INBOX"

// IMAPDialer opens IMAP sessions over implicit TLS.
type IMAPDialer struct {
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	TLSConfig      *tls.Config
}

func (d *IMAPDialer) Dial(ctx context.Context, account Account) (Session, error) {
	tlsConfig := &tls.Config{ServerName: account.Host, MinVersion: tls.VersionTLS12}
	if d.TLSConfig != nil {
		tlsConfig = d.TLSConfig.Clone()
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = account.Host
		}
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.DialTimeout},
		Config:    tlsConfig,
	}
	conn, err := dialer.DialContext(ctx, "tcp", account.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", account.Addr(), err)
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("imap greeting from %s: %w", account.Host, err)
	}
	c.Timeout = d.CommandTimeout

	s := &imapSession{client: c}
	err = s.do(ctx, func() error {
		if err := c.Login(account.Username, account.Password); err != nil {
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
		if _, err := c.Select(inbox, true); err != nil {
			return fmt.Errorf("examine %s: %w", inbox, err)
		}
		return nil
	})
	if err != nil {
		s.Abort()
		return nil, err
	}
	return s, nil
}

type imapSession struct {
	client    *client.Client
	abortOnce sync.Once
}

// do runs a blocking client call and tears the connection down if ctx ends
// first.
func (s *imapSession) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Abort()
		case <-done:
		}
	}()

	err := fn()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *imapSession) SearchSince(ctx context.Context, since time.Time) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	var uids []uint32
	err := s.do(ctx, func() error {
		var err error
		uids, err = s.client.UidSearch(criteria)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("uid search since %s: %w", since.Format("02-Jan-2006"), err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *imapSession) Fetch(ctx context.Context, uids []uint32, bodyPrefix int) ([]Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true, Partial: []int{0, bodyPrefix}}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	out := make([]Message, 0, len(uids))
	err := s.do(ctx, func() error {
		ch := make(chan *imap.Message, 16)
		done := make(chan error, 1)
		go func() {
			done <- s.client.UidFetch(seqset, items, ch)
		}()
		for msg := range ch {
			out = append(out, convert(msg, section, bodyPrefix))
		}
		return <-done
	})
	if err != nil {
		return nil, fmt.Errorf("uid fetch: %w", err)
	}
	return out, nil
}

func (s *imapSession) Close() error {
	err := s.client.Logout()
	s.Abort()
	return err
}

func (s *imapSession) Abort() {
	s.abortOnce.Do(func() {
		_ = s.client.Terminate()
	})
}

func convert(msg *imap.Message, section *imap.BodySectionName, bodyPrefix int) Message {
	m := Message{UID: msg.Uid, InternalDate: msg.InternalDate}
	if env := msg.Envelope; env != nil {
		m.Subject = env.Subject
		m.Date = env.Date
		if len(env.From) > 0 {
			m.From = FormatAddress(env.From[0].PersonalName, env.From[0].MailboxName, env.From[0].HostName)
		}
	}
	if m.Date.IsZero() {
		m.Date = msg.InternalDate
	}
	if body := msg.GetBody(section); body != nil {
		m.Body, _ = io.ReadAll(io.LimitReader(body, int64(bodyPrefix)))
	}
	return m
}

// FormatAddress renders "Name <mailbox@host>", or the bare address when
// there is no display name.
func FormatAddress(name, mailbox, host string) string {
	addr := mailbox
	if host != "" {
		addr = mailbox + "@" + host
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return addr
	}
	if addr == "" {
		return name
	}
	return name + " <" + addr + ">"
}
