package user_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tutorly/core"
	"github.com/trezcool/tutorly/core/user"
	"github.com/trezcool/tutorly/testutil"
)

func TestService_Create(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	testutil.CreateRoleUser(t, env.UserRepo, "sam", user.RoleStudent)

	tests := []struct {
		name     string
		data     user.NewUser
		wantErr  bool
		wantFlds []string
	}{
		{
			name:     "username taken",
			data:     user.NewUser{Name: "Sam Two", Username: " SAM ", Password: "Tr0ub4dor&3x", PasswordConfirm: "Tr0ub4dor&3x"},
			wantErr:  true,
			wantFlds: []string{"username"},
		},
		{
			name:    "passwords differ",
			data:    user.NewUser{Name: "Tim", Username: "tim", Password: "Tr0ub4dor&3x", PasswordConfirm: "nope"},
			wantErr: true,
		},
		{
			name:    "no username nor email",
			data:    user.NewUser{Name: "Tim", Password: "Tr0ub4dor&3x", PasswordConfirm: "Tr0ub4dor&3x"},
			wantErr: true,
		},
		{
			name:    "unknown role",
			data:    user.NewUser{Name: "Tim", Username: "tim", Password: "Tr0ub4dor&3x", PasswordConfirm: "Tr0ub4dor&3x", Roles: []string{"wizard:"}},
			wantErr: true,
		},
		{
			name: "ok",
			data: user.NewUser{Name: " Tim ", Username: "Tim", Email: "TIM@example.com", Password: "Tr0ub4dor&3x", PasswordConfirm: "Tr0ub4dor&3x", Roles: []string{user.RoleTutor}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.data.Validate(ctx, env.Validate, env.Users)
			if tt.wantErr {
				require.Error(t, err)
				var vErr *core.ValidationError
				if errors.As(err, &vErr) {
					for i, fld := range tt.wantFlds {
						assert.Equal(t, fld, vErr.Fields[i].Field)
					}
				}
				return
			}
			require.NoError(t, err)

			usr, err := env.Users.Create(ctx, tt.data)
			require.NoError(t, err)
			assert.NotEmpty(t, usr.ID)
			assert.Equal(t, "Tim", usr.Name)
			assert.Equal(t, "tim", usr.Username)
			assert.Equal(t, "tim@example.com", usr.Email)
			assert.True(t, usr.IsActive)
			assert.True(t, usr.IsTutor())
			assert.NoError(t, usr.CheckPassword("Tr0ub4dor&3x"))
		})
	}
}

func TestService_CreateSchool(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	paul := testutil.CreateRoleUser(t, env.UserRepo, "paul", user.RolePrincipal)
	tina := testutil.CreateRoleUser(t, env.UserRepo, "tina", user.RoleTutor)

	_, err := env.Users.CreateSchool(ctx, user.NewSchool{Name: "Hill", PrincipalID: tina.ID})
	assert.True(t, core.IsValidationError(err))

	_, err = env.Users.CreateSchool(ctx, user.NewSchool{Name: "Hill", PrincipalID: "5f0c6b0e-8a43-4d4b-9d57-1c8a5e2f9b10"})
	assert.True(t, core.IsValidationError(err))

	school, err := env.Users.CreateSchool(ctx, user.NewSchool{Name: "  Hill  School ", PrincipalID: paul.ID})
	require.NoError(t, err)
	assert.Equal(t, "Hill School", school.Name)

	got, err := env.Users.GetSchool(ctx, school.ID)
	require.NoError(t, err)
	assert.Equal(t, paul.ID, got.PrincipalID)

	_, err = env.Users.GetSchool(ctx, "not-a-uuid")
	assert.Equal(t, user.ErrSchoolNotFound, errors.Cause(err))
}

var resetURLRegex = regexp.MustCompile(`/password-reset/([^/\s]+)/([^/\s"]+)`)

func TestPasswordReset(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	sam := testutil.CreateUser(t, env.UserRepo, "Sam", "sam", "sam@example.com", "Tr0ub4dor&3x", []string{user.RoleStudent}, true)
	testutil.CreateUser(t, env.UserRepo, "Ina", "ina", "ina@example.com", "Tr0ub4dor&3x", []string{user.RoleStudent}, false)

	assert.Equal(t, user.ErrNotFound, errors.Cause(env.Resets.Request(ctx, "nobody@example.com")))
	assert.Equal(t, user.ErrNotFound, errors.Cause(env.Resets.Request(ctx, "ina@example.com")))
	assert.Empty(t, env.Mailer.Sent())

	require.NoError(t, env.Resets.Request(ctx, " SAM@example.com "))
	sent := env.Mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "sam@example.com", sent[0].To[0].Address)
	match := resetURLRegex.FindStringSubmatch(sent[0].TextContent)
	require.Len(t, match, 3)
	uid, token := match[1], match[2]
	assert.Equal(t, user.EncodeUID(sam), uid)

	tests := []struct {
		name    string
		data    user.ResetUserPassword
		wantErr bool
	}{
		{name: "missing token", data: user.ResetUserPassword{UID: uid, Password: "N3w-passphrase", PasswordConfirm: "N3w-passphrase"}, wantErr: true},
		{name: "bad uid", data: user.ResetUserPassword{UID: "!!", Token: token, Password: "N3w-passphrase", PasswordConfirm: "N3w-passphrase"}, wantErr: true},
		{name: "tampered token", data: user.ResetUserPassword{UID: uid, Token: token + "x", Password: "N3w-passphrase", PasswordConfirm: "N3w-passphrase"}, wantErr: true},
		{name: "weak password", data: user.ResetUserPassword{UID: uid, Token: token, Password: "12345678", PasswordConfirm: "12345678"}, wantErr: true},
		{name: "ok", data: user.ResetUserPassword{UID: uid, Token: token, Password: "N3w-passphrase", PasswordConfirm: "N3w-passphrase"}},
		// the password hash changed, so the token is spent
		{name: "token reused", data: user.ResetUserPassword{UID: uid, Token: token, Password: "An0ther-one!", PasswordConfirm: "An0ther-one!"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.Resets.Confirm(ctx, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}

	usr, err := env.Users.GetByID(ctx, sam.ID)
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("N3w-passphrase"))
}
