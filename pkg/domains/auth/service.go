package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/finbot/pkg/constant"
	"github.com/finbot/pkg/dtos"
	"github.com/finbot/pkg/entities"
	"github.com/golang-jwt/jwt"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrNoSigningSecret means the SECRET env var is unset; tokens signed with an
// empty key would all verify against each other, so we refuse to issue any.
var ErrNoSigningSecret = errors.New("jwt signing secret is not configured")

const (
	tokenTTL      = 24 * time.Hour
	resetTokenTTL = time.Hour
)

type Service interface {
	Register(ctx context.Context, req dtos.DTOForUserCreate) (string, error)
	Login(ctx context.Context, req dtos.DTOForUserLogin) (string, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token string, newPassword string) error
}

type service struct {
	repository Repository
	log        zerolog.Logger
}

func NewService(r Repository, log zerolog.Logger) Service {
	return &service{
		repository: r,
		log:        log.With().Str("component", "auth").Logger(),
	}
}

func (s *service) Register(ctx context.Context, req dtos.DTOForUserCreate) (string, error) {
	existingUser, err := s.repository.FindUserByEmailOrPhone(ctx, req.Email, req.Phone)
	if err != nil && err != gorm.ErrRecordNotFound {
		return "", fmt.Errorf(constant.SOMETHING_WENT_WRONG)
	}
	if existingUser.ID != 0 {
		return "", fmt.Errorf(constant.ALREADY_EXISTS, "User")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	user := entities.User{
		Email:    req.Email,
		Password: string(passwordHash),
		Name:     req.Name,
		Surname:  req.Surname,
		Phone:    req.Phone,
	}
	if err := s.repository.CreateUser(ctx, user); err != nil {
		return "", err
	}

	s.log.Info().Str("email", req.Email).Msg("operator account registered")
	return s.issueToken(user.ID)
}

func (s *service) Login(ctx context.Context, req dtos.DTOForUserLogin) (string, error) {
	user, err := s.repository.FindUserByEmail(ctx, req.Email)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", fmt.Errorf(constant.EMAIL_OR_PHONE)
		}
		return "", fmt.Errorf(constant.SOMETHING_WENT_WRONG)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		s.log.Warn().Str("email", req.Email).Msg("login rejected: bad password")
		return "", fmt.Errorf(constant.UNAUTHORIZED_ACCESS)
	}

	return s.issueToken(user.ID)
}

func (s *service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.repository.FindUserByEmail(ctx, email)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf(constant.EMAIL_OR_PHONE)
		}
		return fmt.Errorf(constant.SOMETHING_WENT_WRONG)
	}

	user.ResetToken = generateResetToken()
	user.ResetExpiresAt = time.Now().Add(resetTokenTTL)
	if err := s.repository.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf(constant.SOMETHING_WENT_WRONG)
	}

	// Delivery (email/SMS) is out of scope; the token sits on the row until
	// the operator redeems it.
	s.log.Info().Str("email", email).Msg("password reset token issued")
	return nil
}

func (s *service) ResetPassword(ctx context.Context, token string, newPassword string) error {
	user, err := s.repository.FindUserByResetToken(ctx, token)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf(constant.INVALID_TOKEN)
		}
		return fmt.Errorf(constant.SOMETHING_WENT_WRONG)
	}

	if time.Now().After(user.ResetExpiresAt) {
		return fmt.Errorf(constant.TOKEN_EXPIRED)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf(constant.SOMETHING_WENT_WRONG)
	}

	user.Password = string(hashedPassword)
	user.ResetToken = ""
	user.ResetExpiresAt = time.Time{}
	if err := s.repository.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf(constant.SOMETHING_WENT_WRONG)
	}

	s.log.Info().Uint("user_id", user.ID).Msg("password reset completed")
	return nil
}

// issueToken signs a session JWT for the user. Signing uses the same SECRET
// the auth middleware verifies with.
func (s *service) issueToken(userID uint) (string, error) {
	secret := os.Getenv("SECRET")
	if secret == "" {
		s.log.Error().Msg("SECRET is unset, refusing to issue tokens")
		return "", ErrNoSigningSecret
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  userID,
		"exp": time.Now().Add(tokenTTL).Unix(),
	})
	return token.SignedString([]byte(secret))
}

func generateResetToken() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
