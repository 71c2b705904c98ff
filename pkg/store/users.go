package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/storefront/pkg/models"
	"gorm.io/gorm"
)

type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, "username", user.Username, 0); err != nil {
			return err
		}
		if err := checkUnique(tx, "email", user.Email, 0); err != nil {
			return err
		}
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return collision(tx, map[string]string{"username": user.Username, "email": user.Email}, 0)
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
}

func (s *UserStore) Get(ctx context.Context, id uint) (*models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.first(ctx, "username = ?", username)
}

func (s *UserStore) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Update applies a partial update keyed by column name and returns the
// stored row.
func (s *UserStore) Update(ctx context.Context, id uint, updates map[string]any) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return notFound(err)
		}
		for _, field := range []string{"username", "email"} {
			if v, ok := updates[field].(string); ok {
				if err := checkUnique(tx, field, v, id); err != nil {
					return err
				}
			}
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				fields := map[string]string{}
				for _, field := range []string{"username", "email"} {
					if v, ok := updates[field].(string); ok {
						fields[field] = v
					}
				}
				return collision(tx, fields, id)
			}
			return fmt.Errorf("failed to update user: %w", err)
		}
		return tx.First(&user, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.User{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureSuperuser creates the bootstrap admin or resets its password and
// flags when it already exists.
func (s *UserStore) EnsureSuperuser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	user, err := s.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		user = &models.User{
			Username:    username,
			FullName:    username,
			Email:       email,
			Password:    passwordHash,
			IsStaff:     true,
			IsSuperuser: true,
		}
		if err := s.Create(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	case err != nil:
		return nil, err
	}

	return s.Update(ctx, user.ID, map[string]any{
		"password":     passwordHash,
		"is_staff":     true,
		"is_superuser": true,
	})
}

func (s *UserStore) first(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where(query, arg).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func checkUnique(tx *gorm.DB, field, value string, exceptID uint) error {
	var count int64
	q := tx.Model(&models.User{}).Where(field+" = ?", value)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check %s: %w", field, err)
	}
	if count > 0 {
		return &DuplicateError{Field: field}
	}
	return nil
}

// collision names the unique column a rejected write ran into. A concurrent
// writer can commit between the pre-check and the write, so the columns are
// checked again; when the other row is not visible the email is blamed.
func collision(tx *gorm.DB, fields map[string]string, exceptID uint) error {
	blamed := "email"
	if _, ok := fields["email"]; !ok {
		blamed = "username"
	}
	for _, field := range []string{"username", "email"} {
		value, ok := fields[field]
		if !ok {
			continue
		}
		if err := checkUnique(tx, field, value, exceptID); err != nil {
			return err
		}
	}
	return &DuplicateError{Field: blamed}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
