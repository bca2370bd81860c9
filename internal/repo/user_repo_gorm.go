package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"opinion-poll/internal/domain"
)

type UserRepo struct{ db *gorm.DB }

func NewUserRepo(db *gorm.DB) *UserRepo { return &UserRepo{db: db} }

// GetOrCreate inserts u unless the username exists and returns the
// stored row. The insert goes first so concurrent first contacts settle
// on the unique index instead of racing a read.
func (r *UserRepo) GetOrCreate(ctx context.Context, u *domain.User) (*domain.User, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "username"}}, DoNothing: true}).
		Create(u)
	if res.Error != nil && !isDupKey(res.Error) {
		return nil, res.Error
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return u, nil
	}
	// 唯一冲突：以已存在的行为准
	existing, err := r.FindByUsername(ctx, u.Username)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.New("user vanished after duplicate insert")
	}
	return existing, nil
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	err := r.db.WithContext(ctx).Create(u).Error
	if isDupKey(err) {
		return domain.ErrUsernameTaken
	}
	return err
}

func (r *UserRepo) FindByID(ctx context.Context, id uint64) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &u, err
}

func (r *UserRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) List(ctx context.Context, q string, offset, limit int) ([]domain.User, int64, error) {
	var users []domain.User
	tx := r.db.WithContext(ctx).Model(&domain.User{})
	if s := strings.TrimSpace(q); s != "" {
		tx = tx.Where("username LIKE ?", "%"+s+"%")
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := tx.Offset(offset).Limit(limit).Order("created_at desc, id desc").Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepo) SetRole(ctx context.Context, id uint64, role string) error {
	return r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Update("role", role).Error
}
