// Package mailclient is the read-only mailbox access the poller needs:
// connect, search by receipt date, fetch envelopes with a bounded body
// prefix, disconnect.
package mailclient

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var ErrAuth = errors.New("mailbox authentication failed")

type Account struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (a Account) Addr() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}

type Message struct {
	UID          uint32
	Subject      string
	From         string
	Date         time.Time
	InternalDate time.Time
	// Body is a prefix of the raw RFC 822 message and may be cut anywhere.
	Body []byte
}

type Dialer interface {
	// Dial connects, authenticates and opens the inbox read-only.
	Dial(ctx context.Context, account Account) (Session, error)
}

type Session interface {
	// SearchSince returns the UIDs of messages received on or after since,
	// in ascending order. Servers compare dates only, so results may include
	// messages from earlier the same day.
	SearchSince(ctx context.Context, since time.Time) ([]uint32, error)
	// Fetch returns envelope data plus at most bodyPrefix bytes of each
	// message.
	Fetch(ctx context.Context, uids []uint32, bodyPrefix int) ([]Message, error)
	// Close logs out cleanly.
	Close() error
	// Abort drops the connection without a logout. Safe to call at any time
	// and more than once.
	Abort()
}
