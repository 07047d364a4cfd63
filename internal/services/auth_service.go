package services

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"libraryapi/internal/apperrors"
	"libraryapi/internal/auth"
	"libraryapi/internal/models"
	"libraryapi/internal/repositories"
)

var (
	// ErrUserExists is returned when registration collides with an existing
	// email or username.
	ErrUserExists = apperrors.Conflict("USER_EXISTS", "user with this email or username already exists")

	// ErrInvalidCredentials is returned for a wrong email or password; the two
	// cases are deliberately indistinguishable.
	ErrInvalidCredentials = apperrors.Unauthorized("INVALID_CREDENTIALS", "invalid email or password")
)

// RegisterInput carries the validated fields for a new account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     models.UserRole
}

// AuthService handles registration, login, and token-backed user lookups.
type AuthService interface {
	Register(in RegisterInput) (*models.User, error)
	Login(email, password string) (string, *models.User, error)
	GetUser(id uuid.UUID) (*models.User, error)
}

type authService struct {
	userRepo repositories.UserRepository
	tokens   *auth.TokenService
}

// NewAuthService wires up the auth dependencies.
func NewAuthService(userRepo repositories.UserRepository, tokens *auth.TokenService) AuthService {
	return &authService{userRepo: userRepo, tokens: tokens}
}

// Register creates a user with a hashed password. The role defaults to MEMBER.
func (s *authService) Register(in RegisterInput) (*models.User, error) {
	if _, err := s.userRepo.FindByEmailOrUsername(nil, in.Email, in.Username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		log.Printf("[ERROR] Register: failed to hash password: %v", err)
		return nil, err
	}

	role := in.Role
	if role == "" {
		role = models.UserRoleMember
	}

	user := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.userRepo.Create(nil, user); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		log.Printf("[ERROR] Register: failed to create user: %v", err)
		return nil, err
	}
	log.Printf("[INFO] Register: created user %q (id=%s, role=%s)", user.Username, user.ID, user.Role)
	return user, nil
}

// Login verifies the credentials and issues a session token.
func (s *authService) Login(email, password string) (string, *models.User, error) {
	user, err := s.userRepo.GetByEmail(nil, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		log.Printf("[ERROR] Login: failed to issue token for user %s: %v", user.ID, err)
		return "", nil, err
	}
	log.Printf("[INFO] Login: user %s logged in", user.ID)
	return token, user, nil
}

// GetUser returns the user for a verified token subject.
func (s *authService) GetUser(id uuid.UUID) (*models.User, error) {
	user, err := s.userRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}
