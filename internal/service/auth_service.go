package service

import (
	"courseforge_backend/internal/config"
	"courseforge_backend/internal/model"
	"courseforge_backend/internal/repository"
	"courseforge_backend/internal/util"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type RegisterRequest struct {
	Name        string `json:"name" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	CompanyName string `json:"companyName" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthService 注册登录与口令校验
type AuthService struct {
	users     *repository.UserRepository
	jwtConfig config.JWTConfig
}

func NewAuthService(users *repository.UserRepository, jwtConfig config.JWTConfig) *AuthService {
	return &AuthService{users: users, jwtConfig: jwtConfig}
}

// Register 注册新用户并建立其所属团队
func (s *AuthService) Register(req RegisterRequest) (*model.User, error) {
	if _, err := s.users.FindByEmail(req.Email); err == nil {
		return nil, util.ErrEmailRegistered
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	company := &model.Company{Name: req.CompanyName}
	if err := s.users.CreateCompany(company); err != nil {
		return nil, err
	}

	user := &model.User{
		Name:      req.Name,
		Email:     req.Email,
		Password:  string(hashed),
		Role:      model.Creator,
		CompanyID: company.ID,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login 校验口令并签发 JWT
func (s *AuthService) Login(req LoginRequest) (string, *model.User, error) {
	user, err := s.users.FindByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, util.ErrInvalidPassword
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return "", nil, util.ErrInvalidPassword
	}

	token, err := util.GenerateJWT(user, s.jwtConfig.Secret, s.jwtConfig.ExpireTime)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}
