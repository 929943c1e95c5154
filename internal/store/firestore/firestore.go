// Package firestore is the Cloud Firestore backend for the notification
// engine. Every document carries a user_id field and every query is scoped
// by it.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/znz-systems/solebook/internal/store"
)

const (
	inventoryCollection          = "inventory_items"
	dismissalCollection          = "notification_dismissals"
	connectionCollection         = "email_connections"
	triggerCollection            = "trigger_phrases"
	emailNotificationsCollection = "email_notifications"
)

type Config struct {
	ProjectID string
	// CredentialsJSON is a service account key. Application default
	// credentials are used when it is empty.
	CredentialsJSON string
}

func NewClient(ctx context.Context, cfg Config) (*firestore.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		if !json.Valid([]byte(cfg.CredentialsJSON)) {
			return nil, errors.New("firestore credentials are not valid JSON")
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	slog.Info("firestore client initialized", "project_id", cfg.ProjectID)
	return client, nil
}

func NewStores(client *firestore.Client) store.Stores {
	return store.Stores{
		Inventory:          NewInventoryStore(client),
		Dismissals:         NewDismissalStore(client),
		Connections:        NewEmailConnectionStore(client),
		Triggers:           NewTriggerPhraseStore(client),
		EmailNotifications: NewEmailNotificationStore(client),
		Ping: func(ctx context.Context) error {
			return ping(ctx, client)
		},
		Close: client.Close,
	}
}

// ping issues the cheapest possible read. Firestore has no health RPC.
func ping(ctx context.Context, client *firestore.Client) error {
	iter := client.Collection(connectionCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

func notFound(err error) error {
	if isNotFound(err) {
		return store.ErrNotFound
	}
	return err
}

func userDocID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// scopedDocID builds a per-user document id. Keys are escaped because
// Firestore ids may not contain '/'.
func scopedDocID(userID int64, key string) string {
	return userDocID(userID) + "_" + url.PathEscape(key)
}
