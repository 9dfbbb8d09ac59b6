package repository

import (
	"errors"
	"log"
	"time"

	"github.com/user/marquee/internal/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// EnsureAdmin 如果管理员账号不存在则按配置创建（密码为空时跳过）
func (r *UserRepository) EnsureAdmin(email, password string) error {
	if email == "" || password == "" {
		log.Println("[UserRepository] 未配置管理员账号，跳过创建")
		return nil
	}

	existing, err := r.FindByEmail(email)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return r.db.Create(&model.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         "admin",
		CreatedAt:    time.Now(),
	}).Error
}

// FindByEmail 按邮箱查找用户，未找到返回 nil
func (r *UserRepository) FindByEmail(email string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Authenticate 校验邮箱密码，成功返回用户
func (r *UserRepository) Authenticate(email, password string) (*model.User, error) {
	user, err := r.FindByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	return user, nil
}
