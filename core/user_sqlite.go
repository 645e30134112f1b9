package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{
		db: db,
	}
}

func (s *SQLiteUserStore) CreateUser(ctx context.Context, input SignupInput) (*User, error) {
	existing, err := s.GetUserByEmail(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("checking if user exists: %w", err)
	}

	if existing != nil {
		return nil, ErrConflictedUser
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{
		ID:             uuid.New().String(),
		Name:           input.Name,
		Email:          input.Email,
		ProfilePicPath: input.ProfilePicPath,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password, profile_pic_path)
		VALUES (@id, @name, @email, @password, @profile_pic_path)`,
		sql.Named("id", user.ID), sql.Named("name", user.Name),
		sql.Named("email", user.Email), sql.Named("password", string(hashed)),
		sql.Named("profile_pic_path", user.ProfilePicPath))
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return user, nil
}

func (s *SQLiteUserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, profile_pic_path FROM users WHERE id = ? LIMIT 1", id)
	return scanUser(row)
}

func (s *SQLiteUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, profile_pic_path FROM users WHERE email = ? LIMIT 1", email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	user := new(User)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.ProfilePicPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return user, nil
}

func (s *SQLiteUserStore) GetUsersByIDs(ctx context.Context, ids ...string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	values := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, profile_pic_path FROM users WHERE id IN ("+
			strings.Repeat("?,", len(ids)-1)+"?)", values...)
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	found := make(map[string]User, len(ids))
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.ProfilePicPath); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		found[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	users := make([]User, 0, len(found))
	for _, id := range ids {
		if user, ok := found[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

func (s *SQLiteUserStore) ComparePassword(ctx context.Context, email, password string) (bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT password FROM users WHERE email = ? LIMIT 1", email)

	var storedPassword string
	if err := row.Scan(&storedPassword); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("scanning password: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedPassword), []byte(password)); err != nil {
		return false, nil
	}

	return true, nil
}
