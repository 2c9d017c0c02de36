package repository

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rpattn/buildtrack/internal/db"
	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
)

type userRepository struct {
	queries *db.Queries
}

// NewUserRepository creates a new user repository
func NewUserRepository(queries *db.Queries) UserRepository {
	return &userRepository{queries: queries}
}

func (r *userRepository) Create(dbc dbctx.Context, user domain.User) (domain.User, error) {
	row, err := queriesFor(r.queries, dbc).CreateUser(dbc.Context(), db.CreateUserParams{
		Email:     user.Email,
		FirstName: pgtype.Text{String: user.FirstName, Valid: user.FirstName != ""},
		LastName:  pgtype.Text{String: user.LastName, Valid: user.LastName != ""},
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return userFromRow(row), nil
}

func (r *userRepository) GetByIDs(dbc dbctx.Context, ids []int64) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	rows, err := queriesFor(r.queries, dbc).GetUsersByIDs(dbc.Context(), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	users := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, userFromRow(row))
	}
	return users, nil
}
