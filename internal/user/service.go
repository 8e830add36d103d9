package user

import (
	"context"
	"strings"
	"time"

	"homepro/internal/account"
	"homepro/internal/auth"
	ierr "homepro/internal/errors"
	"homepro/internal/logger"
	"homepro/internal/mutation"

	"github.com/google/uuid"
)

var (
	ErrEmailExists = ierr.NewError("email already exists").
			WithHint("Email already registered").
			Mark(ierr.ErrInvalidOperation)
	ErrInvalidCredentials = ierr.NewError("invalid credentials").
				WithHint("Invalid email or password").
				Mark(ierr.ErrPermissionDenied)
)

// AccountCreator opens the professional account and its trial once the user
// row exists.
type AccountCreator interface {
	Signup(ctx context.Context, req mutation.SignupRequest) (*account.Snapshot, error)
}

type Welcomer interface {
	SendWelcome(ctx context.Context, email, name, primaryCategory string, trialEndsAt time.Time) error
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*LoginResponse, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	GetByID(ctx context.Context, userID string) (*User, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, *User, error)
}

type service struct {
	repo     Repository
	accounts AccountCreator
	welcomer Welcomer
	tokens   *auth.Issuer
}

func NewService(repo Repository, accounts AccountCreator, welcomer Welcomer, jwtSecret string) Service {
	return &service{
		repo:     repo,
		accounts: accounts,
		welcomer: welcomer,
		tokens:   auth.NewIssuer(jwtSecret),
	}
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*LoginResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if strings.TrimSpace(req.PrimaryCategory) == "" {
		return nil, ierr.NewError("primary category is required").
			WithHint("Choose the service category you offer").
			Mark(ierr.ErrValidation)
	}

	exists, err := s.repo.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailExists
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrSystem)
	}

	u, err := s.repo.Create(ctx, &User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         auth.RoleProfessional,
	})
	if err != nil {
		return nil, err
	}

	snap, err := s.accounts.Signup(ctx, mutation.SignupRequest{
		AccountID:         u.ID,
		PrimaryCategory:   req.PrimaryCategory,
		PaymentCustomerID: req.PaymentCustomerID,
	})
	if err != nil {
		logger.Error("account signup failed after user creation", "user_id", u.ID, "error", err)
		return nil, err
	}

	if s.welcomer != nil {
		if err := s.welcomer.SendWelcome(ctx, u.Email, u.Name, snap.PrimaryCategory, snap.Subscription.TrialEndsAt); err != nil {
			logger.Warn("welcome email not queued", "user_id", u.ID, "error", err)
		}
	}

	resp, err := s.issue(u)
	if err != nil {
		return nil, err
	}
	resp.Account = snap
	return resp, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}

	return s.issue(u)
}

func (s *service) GetByID(ctx context.Context, userID string) (*User, error) {
	return s.repo.FindByID(ctx, userID)
}

func (s *service) RefreshToken(ctx context.Context, refreshToken string) (string, *User, error) {
	claims, err := s.tokens.Verify(refreshToken, auth.KindRefresh)
	if err != nil {
		return "", nil, ierr.WithError(err).
			WithHint("Invalid or expired refresh token").
			Mark(ierr.ErrPermissionDenied)
	}

	// The role is re-read so a demotion takes effect at the next refresh.
	u, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		return "", nil, err
	}

	accessToken, err := s.tokens.Access(u.principal())
	if err != nil {
		return "", nil, ierr.WithError(err).Mark(ierr.ErrSystem)
	}

	return accessToken, u, nil
}

func (s *service) issue(u *User) (*LoginResponse, error) {
	tokens, err := s.tokens.Issue(u.principal())
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrSystem)
	}

	return &LoginResponse{
		AccessToken:  tokens.Access,
		RefreshToken: tokens.Refresh,
		User:         *u,
	}, nil
}
