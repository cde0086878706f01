package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/venuehq/backoffice/internal/domain"
	"github.com/venuehq/backoffice/internal/repository"
	"github.com/venuehq/backoffice/internal/utils"
	"github.com/venuehq/backoffice/pkg/auth"
	"github.com/venuehq/backoffice/pkg/logger"
)

type StaffAuthService interface {
	Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error)
}

type staffAuthService struct {
	staff     repository.StaffRepository
	jwtSecret string
	tokenTTL  time.Duration
}

func NewStaffAuthService(staff repository.StaffRepository, jwtSecret string, tokenTTL time.Duration) StaffAuthService {
	return &staffAuthService{staff: staff, jwtSecret: jwtSecret, tokenTTL: tokenTTL}
}

func (s *staffAuthService) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	email := utils.NormalizeEmail(req.Email)
	if !utils.IsValidEmail(email) || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.staff.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find staff user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	match, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("compare password: %w", err)
	}
	if !match {
		logger.WarnContext(ctx, "Staff login failed", "staff_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	accessToken, err := auth.NewStaffToken(user.ID, user.Email, user.Role, s.jwtSecret, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue staff token: %w", err)
	}

	logger.InfoContext(ctx, "Staff logged in", "staff_id", user.ID, "role", user.Role)
	return &domain.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.tokenTTL.Seconds()),
		Role:        user.Role,
	}, nil
}
