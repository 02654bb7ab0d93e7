package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donor-finder/internal/auth"
	"donor-finder/internal/models"
)

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	group := models.BloodGroupABNeg
	unavailable := false

	user, err := env.authSvc.Register(ctx(), RegisterInput{
		Name:         "Ayesha",
		Email:        "Ayesha@Example.com ",
		Password:     "secret123",
		Role:         models.RoleDonor,
		BloodGroup:   &group,
		City:         "Lahore",
		Phone:        "0300-1234567",
		Availability: &unavailable,
		Location:     &models.GeoPoint{Longitude: 74.35, Latitude: 31.52},
	})
	require.NoError(t, err)
	assert.Equal(t, "ayesha@example.com", user.Email)
	assert.NotEqual(t, "secret123", user.PasswordHash)

	stored, err := env.users.GetByID(ctx(), user.ID)
	require.NoError(t, err)
	assert.False(t, stored.Availability)

	_, err = env.authSvc.Register(ctx(), RegisterInput{Name: "x", Email: "ayesha@example.com", Password: "pw123456", City: "c", Phone: "p"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	token, loggedIn, err := env.authSvc.Login(ctx(), "AYESHA@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
	assert.NotEmpty(t, token)

	_, _, err = env.authSvc.Login(ctx(), "ayesha@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = env.authSvc.Login(ctx(), "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	bad := models.BloodGroup("Q+")

	_, err := env.authSvc.Register(ctx(), RegisterInput{Name: "d", Email: "d@x.io", Password: "pw123456", Role: models.RoleDonor})
	assert.ErrorIs(t, err, ErrBloodGroupRequired)

	_, err = env.authSvc.Register(ctx(), RegisterInput{Name: "d", Email: "d@x.io", Password: "pw123456", Role: models.RoleDonor, BloodGroup: &bad})
	assert.ErrorIs(t, err, ErrInvalidBloodGroup)

	_, err = env.authSvc.Register(ctx(), RegisterInput{Name: "a", Email: "a@x.io", Password: "pw123456", Role: models.RoleAdmin})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = env.authSvc.Register(ctx(), RegisterInput{Name: "s", Email: "s@x.io", Password: "12345", City: "Lahore", Phone: "1"})
	assert.ErrorIs(t, err, auth.ErrPasswordLength)

	patient, err := env.authSvc.Register(ctx(), RegisterInput{Name: "p", Email: "p@x.io", Password: "pw123456", City: "Lahore", Phone: "1"})
	require.NoError(t, err)
	assert.Equal(t, models.RolePatient, patient.Role)
	assert.True(t, patient.Availability)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.authSvc.Register(ctx(), RegisterInput{Name: "p", Email: "p@x.io", Password: "pw123456", City: "Lahore", Phone: "1"})
	require.NoError(t, err)

	token, _, err := env.authSvc.Login(ctx(), "p@x.io", "pw123456")
	require.NoError(t, err)

	svc := env.authSvc.(*authService)
	claims, err := auth.ValidateToken(ctx(), token, svc.cfg.JWTSecretKey, svc.blacklist)
	require.NoError(t, err)

	require.NoError(t, env.authSvc.Logout(ctx(), claims))
	_, err = auth.ValidateToken(ctx(), token, svc.cfg.JWTSecretKey, svc.blacklist)
	assert.ErrorIs(t, err, auth.ErrTokenRevoked)
}
