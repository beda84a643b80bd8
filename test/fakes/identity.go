package fakes

import (
	"context"
	"sync"

	"github.com/oktaras/ad-marketplace-backend-sub000/identity"
)

// Directory links platform users to parties. A party's private chat id is its
// platform user id, as with Telegram.
type Directory struct {
	mu      sync.RWMutex
	parties map[int64]string
	users   map[string]int64
}

func NewDirectory() *Directory {
	return &Directory{
		parties: make(map[int64]string),
		users:   make(map[string]int64),
	}
}

func (d *Directory) Link(partyID string, platformUserID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parties[platformUserID] = partyID
	d.users[partyID] = platformUserID
}

func (d *Directory) ResolvePlatformUser(ctx context.Context, platformUserID int64) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	partyID, ok := d.parties[platformUserID]
	if !ok {
		return "", identity.ErrUnknownSender
	}
	return partyID, nil
}

func (d *Directory) ChatIDForParty(ctx context.Context, partyID string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.users[partyID]
	if !ok {
		return 0, identity.ErrUserNotFound
	}
	return id, nil
}
