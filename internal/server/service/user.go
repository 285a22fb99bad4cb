package service

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	argon2 "github.com/mdouchement/simple-argon2"
	"github.com/mdouchement/timecapsule/internal/database"
	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/mdouchement/timecapsule/internal/server/serializer"
	"github.com/mdouchement/timecapsule/internal/tcerror"
	"github.com/pkg/errors"
)

// Issuer is the JWT issuer claim.
const Issuer = "github.com/mdouchement/timecapsule"

type (
	// A UserService handles the user accounts.
	UserService struct {
		db         database.Client
		signingKey []byte
	}

	// RegisterParams are used to register a user.
	RegisterParams struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	// LoginParams are used to login a user.
	LoginParams struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	// MilestoneParams are used to set the milestone credential of a user.
	// An empty token removes the credential.
	MilestoneParams struct {
		Token string `json:"token"`
	}
)

// NewUser returns a new UserService.
func NewUser(db database.Client, signingKey []byte) *UserService {
	return &UserService{
		db:         db,
		signingKey: signingKey,
	}
}

// Create creates a user with the given credentials.
func (s *UserService) Create(email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)

	// Check if the email is free to use.
	u, err := s.db.FindUserByMail(email)
	if err != nil && !s.db.IsNotFound(err) {
		return nil, errors.Wrap(err, "could not get access to database")
	}
	if u != nil {
		return nil, tcerror.NewWithTagCode(http.StatusUnauthorized, "", "This email is already registered.")
	}

	// Initialize user
	user := model.NewUser()
	user.Email = email

	// Crypt password
	user.Password, err = argon2.GenerateFromPasswordString(password, argon2.Default)
	if err != nil {
		return nil, errors.Wrap(err, "could not store user password safe")
	}
	user.PasswordUpdatedAt = time.Now().Unix()

	// Persist the model
	if err := s.db.Save(user); err != nil {
		if s.db.IsAlreadyExists(err) {
			return nil, tcerror.NewWithTagCode(http.StatusUnauthorized, "", "This email is already registered.")
		}
		return nil, errors.Wrap(err, "could not persist user")
	}

	return user, nil
}

// Register creates a user and returns its token.
func (s *UserService) Register(params RegisterParams) (Render, error) {
	user, err := s.Create(params.Email, params.Password)
	if err != nil {
		return nil, err
	}
	return s.authenticated(user)
}

// Login authenticates a user and returns its token.
func (s *UserService) Login(params LoginParams) (Render, error) {
	// Retrieve user
	user, err := s.db.FindUserByMail(strings.TrimSpace(params.Email))
	if err != nil {
		if s.db.IsNotFound(err) {
			return nil, tcerror.NewWithTagCode(http.StatusUnauthorized, "", "Invalid email or password.")
		}
		return nil, errors.Wrap(err, "could not get user")
	}

	// Verify password
	if err = argon2.CompareHashAndPasswordString(user.Password, params.Password); err != nil {
		if err == argon2.ErrMismatchedHashAndPassword {
			return nil, tcerror.NewWithTagCode(http.StatusUnauthorized, "", "Invalid email or password.")
		}
		return nil, errors.Wrap(err, "could not validate password")
	}

	return s.authenticated(user)
}

// Milestone stores the milestone credential of the given user.
func (s *UserService) Milestone(user *model.User, params MilestoneParams) (Render, error) {
	user.MilestoneCredential = strings.TrimSpace(params.Token)

	if err := s.db.Save(user); err != nil {
		return nil, errors.Wrap(err, "could not persist user")
	}
	return M{
		"user": serializer.User(user),
	}, nil
}

func (s *UserService) authenticated(user *model.User) (Render, error) {
	token, err := s.Token(user)
	if err != nil {
		return nil, err
	}

	return M{
		"user":  serializer.User(user),
		"token": token,
	}, nil
}

// Token returns a signed JWT for the given user.
func (s *UserService) Token(u *model.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": u.ID,
		"iss":     Issuer,
		"iat":     time.Now().Unix(), // Unix Timestamp in seconds
	})

	t, err := token.SignedString(s.signingKey)
	return t, errors.Wrap(err, "could not generate token")
}
