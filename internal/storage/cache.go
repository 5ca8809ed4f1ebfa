package storage

import (
	"context"
	"time"

	"sangam/internal/models"

	"github.com/c-pro/geche"
)

type userStore interface {
	GetUser(userID string) (models.User, error)
	UpsertUser(user models.User) error
	UpdatePresence(userID string, online bool, lastSeen time.Time) error
	SetPushSubscription(userID string, sub *models.PushSubscription) error
}

// CachedDirectory keeps recently read user records in memory.
// Writes go to the underlying store and drop the cached copy.
type CachedDirectory struct {
	store userStore
	users geche.Geche[string, models.User]
}

func NewCachedDirectory(ctx context.Context, store userStore, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		store: store,
		users: geche.NewMapTTLCache[string, models.User](ctx, ttl, ttl),
	}
}

func (d *CachedDirectory) GetUser(userID string) (models.User, error) {
	if user, err := d.users.Get(userID); err == nil {
		return user, nil
	}

	user, err := d.store.GetUser(userID)
	if err != nil {
		return models.User{}, err
	}
	d.users.Set(userID, user)
	return user, nil
}

func (d *CachedDirectory) UpsertUser(user models.User) error {
	defer func() { _ = d.users.Del(user.ID) }()
	return d.store.UpsertUser(user)
}

func (d *CachedDirectory) UpdatePresence(userID string, online bool, lastSeen time.Time) error {
	defer func() { _ = d.users.Del(userID) }()
	return d.store.UpdatePresence(userID, online, lastSeen)
}

func (d *CachedDirectory) SetPushSubscription(userID string, sub *models.PushSubscription) error {
	defer func() { _ = d.users.Del(userID) }()
	return d.store.SetPushSubscription(userID, sub)
}
