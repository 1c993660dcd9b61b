// Package usersdb persists users as documents in the "users" collection.
package usersdb

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core/user"
	"github.com/chuoapp/chuo/storage/store"
)

const Collection = "users"

// userDoc is the stored shape of a user. The password hash is json-hidden on
// the domain type so it gets its own field here.
type userDoc struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	IsActive     bool      `json:"is_active"`
	Roles        []string  `json:"roles"`
	PasswordHash []byte    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastLogin    time.Time `json:"last_login"`
}

func toDoc(usr user.User) userDoc {
	return userDoc{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     usr.Username,
		Email:        usr.Email,
		IsActive:     usr.IsActive,
		Roles:        usr.Roles,
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt,
		UpdatedAt:    usr.UpdatedAt,
		LastLogin:    usr.LastLogin,
	}
}

func (doc userDoc) toUser() user.User {
	return user.User{
		ID:           doc.ID,
		Name:         doc.Name,
		Username:     doc.Username,
		Email:        doc.Email,
		IsActive:     doc.IsActive,
		Roles:        doc.Roles,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		LastLogin:    doc.LastLogin,
	}
}

func (doc userDoc) fields() (map[string]interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling user")
	}
	var fields map[string]interface{}
	if err = json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "unmarshalling user")
	}
	return fields, nil
}

type userRepository struct {
	db store.Store
}

func NewUserRepository(db store.Store) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) query(ctx context.Context) ([]user.User, error) {
	raws, err := repo.db.Find(ctx, store.Query{Collection: Collection})
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(raws))
	for _, raw := range raws {
		var doc userDoc
		if err = json.Unmarshal(raw, &doc); err != nil {
			return nil, errors.Wrap(err, "unmarshalling user")
		}
		users = append(users, doc.toUser())
	}
	return users, nil
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	exclUsrsLen := len(excludedUsers)
	if exclUsrsLen > 1 {
		sort.Slice(excludedUsers, func(i, j int) bool { return excludedUsers[i].ID < excludedUsers[j].ID })
	}

	users, err := repo.query(ctx)
	if err != nil {
		return err
	}
	for _, usr := range users {
		if isExcluded(usr, excludedUsers, exclUsrsLen) {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.NewString()
	}
	if err := repo.db.Create(ctx, Collection, usr.ID, toDoc(usr)); err != nil {
		return user.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (repo *userRepository) QueryAllUsers(ctx context.Context) ([]user.User, error) {
	return repo.query(ctx)
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	raw, err := repo.db.Get(ctx, Collection, id)
	if err != nil {
		if errors.Cause(err) == store.ErrNotFound {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	var doc userDoc
	if err = json.Unmarshal(raw, &doc); err != nil {
		return user.User{}, errors.Wrap(err, "unmarshalling user")
	}
	return doc.toUser(), nil
}

func (repo *userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return repo.findOne(ctx, store.Where{"username": username})
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.findOne(ctx, store.Where{"email": email})
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	users, err := repo.query(ctx)
	if err != nil {
		return user.User{}, err
	}
	for _, usr := range users {
		if (usr.Username == username) || (usr.Email == username) {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	users, err := repo.query(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]user.User, 0, len(users))
	for _, usr := range users {
		if filter.Search != "" && !matchesSearch(usr, filter.Search) {
			continue
		}
		if filter.Roles != nil && !hasAnyRole(usr, filter.Roles) {
			continue
		}
		if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
			continue
		}
		if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		matched = append(matched, usr)
	}
	return matched, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	origUsr, err := repo.GetUserByID(ctx, usr.ID)
	if err != nil {
		return user.User{}, err
	}

	// only save set fields
	if usr.Roles != nil {
		origUsr.Roles = usr.Roles
	}
	if usr.PasswordHash != nil {
		origUsr.PasswordHash = usr.PasswordHash
	}
	if isActive != nil {
		origUsr.IsActive = *isActive
	}
	if usr.Name != "" {
		origUsr.Name = usr.Name
	}
	if usr.Username != "" {
		origUsr.Username = usr.Username
	}
	if usr.Email != "" {
		origUsr.Email = usr.Email
	}
	if !usr.UpdatedAt.IsZero() {
		origUsr.UpdatedAt = usr.UpdatedAt
	}
	if !usr.LastLogin.IsZero() {
		origUsr.LastLogin = usr.LastLogin
	}

	fields, err := toDoc(origUsr).fields()
	if err != nil {
		return user.User{}, err
	}
	if err = repo.db.Update(ctx, Collection, usr.ID, fields); err != nil {
		if errors.Cause(err) == store.ErrNotFound {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	return origUsr, nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	ops := make([]store.Op, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, store.DeleteOp(Collection, id))
	}
	if err := repo.db.Batch(ctx, ops...); err != nil {
		if errors.Cause(err) == store.ErrNotFound {
			return user.ErrNotFound
		}
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

func (repo *userRepository) findOne(ctx context.Context, where store.Where) (user.User, error) {
	raws, err := repo.db.Find(ctx, store.Query{Collection: Collection, Where: where})
	if err != nil {
		return user.User{}, errors.Wrap(err, "querying users")
	}
	if len(raws) == 0 {
		return user.User{}, user.ErrNotFound
	}
	var doc userDoc
	if err = json.Unmarshal(raws[0], &doc); err != nil {
		return user.User{}, errors.Wrap(err, "unmarshalling user")
	}
	return doc.toUser(), nil
}

func matchesSearch(usr user.User, search string) bool {
	search = strings.ToLower(search)
	return strings.Contains(strings.ToLower(usr.Name), search) ||
		strings.Contains(strings.ToLower(usr.Username), search) ||
		strings.Contains(strings.ToLower(usr.Email), search)
}

func hasAnyRole(usr user.User, roles []string) bool {
	for _, role := range roles {
		for _, usrRole := range usr.Roles {
			if usrRole == role {
				return true
			}
		}
	}
	return false
}

func isExcluded(usr user.User, excludedUsers []user.User, n int) bool {
	if n <= 0 {
		return false
	}
	idx := sort.Search(n, func(i int) bool { return excludedUsers[i].ID >= usr.ID })
	return idx < n && excludedUsers[idx].ID == usr.ID
}
