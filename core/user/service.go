package user

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core"
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrSchoolNotFound = errors.New("school not found")
	ErrUserExists     = errors.New("a user with this username or email already exists")
	ErrNotPrincipal   = errors.New("user is not a principal")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []User, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		UpdateOrCreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)

		CreateSchool(ctx context.Context, school School, exec ...core.DBExecutor) (School, error)
		GetSchool(ctx context.Context, id string, exec ...core.DBExecutor) (School, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers); err != nil {
		if errors.Cause(err) == ErrUserExists {
			return core.NewValidationError(err, core.FieldError{Field: "username", Error: err.Error()})
		}
		return errors.Wrap(err, "checking uniqueness")
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	uname = core.CleanString(uname, true /* lower */)
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: []string{uname}})
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetPassword(ctx context.Context, uname, pwd string) error {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}

func (svc *Service) CreateSchool(ctx context.Context, ns NewSchool) (School, error) {
	principal, err := svc.GetByID(ctx, ns.PrincipalID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return School{}, core.NewValidationError(err, core.FieldError{Field: "principal_id", Error: err.Error()})
		}
		return School{}, errors.Wrap(err, "finding principal")
	}
	if !principal.IsPrincipal() {
		return School{}, core.NewValidationError(ErrNotPrincipal, core.FieldError{Field: "principal_id", Error: ErrNotPrincipal.Error()})
	}
	return svc.repo.CreateSchool(ctx, School{
		Name:        core.CleanString(ns.Name),
		PrincipalID: principal.ID,
		CreatedAt:   time.Now().UTC(),
	})
}

func (svc *Service) GetSchool(ctx context.Context, id string) (School, error) {
	if _, err := uuid.Parse(id); err != nil {
		return School{}, ErrSchoolNotFound
	}
	return svc.repo.GetSchool(ctx, id)
}
