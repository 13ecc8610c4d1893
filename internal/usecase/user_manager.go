// File: internal/usecase/user_manager.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/aiorreal/quota-core/internal/domain"
	"github.com/aiorreal/quota-core/internal/domain/model"
	"github.com/aiorreal/quota-core/internal/domain/ports/store"
)

// UserManager anchors a user's existence in the quota domain: an
// upsert-only record with no delete path, touched on every ensure call
// without clobbering the original creation fields.
type UserManager struct {
	store store.Store
}

// NewUserManager constructs a UserManager over store.
func NewUserManager(s store.Store) *UserManager {
	return &UserManager{store: s}
}

// Ensure upserts the users_quota document for userID: creates it if
// absent, touches updatedAt (and email, if provided) if present.
func (m *UserManager) Ensure(ctx context.Context, userID string, email string) (*model.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("ensure user: %w", domain.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	doc, ok, err := m.store.Get(ctx, nil, store.CollectionUsers, userID)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}

	var u *model.User
	if ok {
		u = userFromFields(userID, doc.Fields)
		u.Touch(email, now)
	} else {
		u = model.NewUser(userID, email, now)
	}

	if err := m.store.Set(ctx, nil, store.CollectionUsers, userID, userToFields(u), true, 0); err != nil {
		return nil, fmt.Errorf("set user %s: %w", userID, err)
	}
	return u, nil
}

// Get returns the user record, or ok=false if absent.
func (m *UserManager) Get(ctx context.Context, userID string) (*model.User, bool, error) {
	doc, ok, err := m.store.Get(ctx, nil, store.CollectionUsers, userID)
	if err != nil {
		return nil, false, fmt.Errorf("get user %s: %w", userID, err)
	}
	if !ok {
		return nil, false, nil
	}
	return userFromFields(userID, doc.Fields), true, nil
}

func userToFields(u *model.User) map[string]any {
	return map[string]any{
		"userId":    u.ID,
		"email":     u.Email,
		"createdAt": encodeTime(&u.CreatedAt),
		"updatedAt": encodeTime(&u.UpdatedAt),
	}
}

func userFromFields(userID string, f map[string]any) *model.User {
	u := &model.User{ID: userID, Email: asString(f["email"])}
	if t := decodeTime(f["createdAt"]); t != nil {
		u.CreatedAt = *t
	}
	if t := decodeTime(f["updatedAt"]); t != nil {
		u.UpdatedAt = *t
	}
	return u
}
