// Package userloader batches actor lookups for history and timeline responses.
package userloader

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/repository"

	"github.com/graph-gophers/dataloader"
)

type ctxKey string

const userLoaderKey ctxKey = "userLoader"

// Lookup resolves user ids to accounts. Unknown ids are left out of the result.
type Lookup interface {
	Users(ctx context.Context, ids []int64) (map[int64]domain.User, error)
}

type UserLoader struct {
	Loader *dataloader.Loader
}

func NewUserLoader(repo repository.UserRepository) *UserLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]int64, len(keys))
		for i, k := range keys {
			id, err := strconv.ParseInt(k.String(), 10, 64)
			if err != nil {
				return failAll(len(keys), fmt.Errorf("invalid user id %q: %w", k.String(), err))
			}
			ids[i] = id
		}

		users, err := repo.GetByIDs(dbctx.New(ctx), ids)
		if err != nil {
			return failAll(len(keys), err)
		}

		userMap := make(map[int64]domain.User, len(users))
		for _, u := range users {
			userMap[u.ID] = u
		}

		// Results must line up with keys.
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if u, ok := userMap[id]; ok {
				results[i] = &dataloader.Result{Data: u}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &UserLoader{Loader: loader}
}

// Users loads every id in one batch. Duplicate and zero ids are skipped.
func (l *UserLoader) Users(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	keys := make([]string, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, strconv.FormatInt(id, 10))
	}
	out := make(map[int64]domain.User, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	data, errs := l.Loader.LoadMany(ctx, dataloader.NewKeysFromStrings(keys))()
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for _, item := range data {
		if u, ok := item.(domain.User); ok {
			out[u.ID] = u
		}
	}
	return out, nil
}

// failAll gives every key in a batch the same error.
func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}

// WithLoader stores a request-scoped loader on ctx.
func WithLoader(ctx context.Context, loader *UserLoader) context.Context {
	return context.WithValue(ctx, userLoaderKey, loader)
}

// FromContext returns the loader attached by WithLoader, if any.
func FromContext(ctx context.Context) *UserLoader {
	if ctx == nil {
		return nil
	}
	if l, ok := ctx.Value(userLoaderKey).(*UserLoader); ok {
		return l
	}
	return nil
}

// Directory prefers the request-scoped loader and falls back to a fresh one,
// so services work the same inside and outside HTTP handlers.
type Directory struct {
	repo repository.UserRepository
}

func NewDirectory(repo repository.UserRepository) *Directory {
	return &Directory{repo: repo}
}

func (d *Directory) Users(ctx context.Context, ids []int64) (map[int64]domain.User, error) {
	loader := FromContext(ctx)
	if loader == nil {
		loader = NewUserLoader(d.repo)
	}
	return loader.Users(ctx, ids)
}
