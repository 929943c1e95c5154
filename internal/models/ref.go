package models

import (
	"errors"
	"strconv"
	"strings"
)

type RefKind string

const (
	RefStock   RefKind = "stock"
	RefListing RefKind = "listing"
	RefEmail   RefKind = "email"
)

var ErrInvalidRef = errors.New("invalid notification reference")

// NotificationRef identifies one notification across both backing stores.
// Rule notifications are addressed by the inventory item they were computed
// from; email notifications by their own id.
type NotificationRef struct {
	Kind     RefKind `json:"kind"`
	SourceID string  `json:"sourceId"`
}

func (r NotificationRef) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return ErrInvalidRef
	}
	switch r.Kind {
	case RefStock, RefListing, RefEmail:
		return nil
	default:
		return ErrInvalidRef
	}
}

func (r NotificationRef) IsRule() bool {
	return r.Kind == RefStock || r.Kind == RefListing
}

// RuleKey is the dismissal-ledger key for a rule reference.
func (r NotificationRef) RuleKey() string {
	return RuleKey(r.Kind, r.SourceID)
}

// String renders the reference as a single opaque id for presentation.
func (r NotificationRef) String() string {
	return string(r.Kind) + ":" + r.SourceID
}

// RuleKey builds the ledger key ("stock-{id}", "listing-{id}").
func RuleKey(kind RefKind, itemID string) string {
	return string(kind) + "-" + itemID
}

func formatUserScoped(userID int64, value string) string {
	return strconv.FormatInt(userID, 10) + "/" + value
}
