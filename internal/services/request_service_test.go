package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"donor-finder/internal/events"
	"donor-finder/internal/models"
	"donor-finder/internal/testutil"
)

func countNotifications(t *testing.T, env *testEnv, recipientID uint, kind models.NotificationType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND type = ?", recipientID, kind).Count(&n).Error)
	return n
}

func TestRequestLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	patient := testutil.CreateUser(t, env.db, "P", models.RolePatient)
	donor := testutil.CreateUser(t, env.db, "Dn", models.RoleDonor, testutil.WithBloodGroup(models.BloodGroupOPos))
	env.pusher.online[donor.ID] = true

	request, err := env.requestSvc.Create(ctx(), Actor{ID: patient.ID, Role: models.RolePatient}, CreateRequestInput{
		DonorID:    donor.ID,
		BloodGroup: models.BloodGroupOPos,
		Message:    "urgent",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.Equal(t, patient.ID, request.PatientID)
	assert.Equal(t, donor.ID, request.DonorID)

	assert.Equal(t, int64(1), countNotifications(t, env, donor.ID, models.NotificationRequestSent))
	pushes := env.pusher.pushesFor(donor.ID)
	require.Len(t, pushes, 1)
	assert.Equal(t, "new_notification", pushes[0].event)
	view, ok := pushes[0].payload.(models.NotificationView)
	require.True(t, ok)
	require.NotNil(t, view.SenderInfo)
	assert.Equal(t, "P", view.SenderInfo.Name)
	assert.Contains(t, view.Message, "urgent")

	updated, err := env.requestSvc.UpdateStatus(ctx(), Actor{ID: donor.ID, Role: models.RoleDonor}, request.ID, models.RequestStatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusAccepted, updated.Status)
	assert.Equal(t, int64(1), countNotifications(t, env, patient.ID, models.NotificationRequestAccepted))

	// patient is offline: the notification is still there to poll
	assert.Empty(t, env.pusher.pushesFor(patient.ID))
	unread, err := env.notificationSvc.UnreadCount(ctx(), patient.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestCreateRequestRejections(t *testing.T) {
	env := newTestEnv(t)
	patient := testutil.CreateUser(t, env.db, "p", models.RolePatient)
	otherPatient := testutil.CreateUser(t, env.db, "p2", models.RolePatient)
	donor := testutil.CreateUser(t, env.db, "d", models.RoleDonor)
	admin := testutil.CreateUser(t, env.db, "a", models.RoleAdmin)
	in := CreateRequestInput{DonorID: donor.ID, BloodGroup: models.BloodGroupOPos}

	_, err := env.requestSvc.Create(ctx(), Actor{ID: donor.ID, Role: models.RoleDonor}, in)
	assert.ErrorIs(t, err, ErrForbiddenRole)
	_, err = env.requestSvc.Create(ctx(), Actor{ID: admin.ID, Role: models.RoleAdmin}, in)
	assert.ErrorIs(t, err, ErrForbiddenRole)

	_, err = env.requestSvc.Create(ctx(), Actor{ID: patient.ID, Role: models.RolePatient},
		CreateRequestInput{DonorID: otherPatient.ID, BloodGroup: models.BloodGroupOPos})
	assert.ErrorIs(t, err, ErrTargetNotDonor)

	_, err = env.requestSvc.Create(ctx(), Actor{ID: patient.ID, Role: models.RolePatient},
		CreateRequestInput{DonorID: 4242, BloodGroup: models.BloodGroupOPos})
	assert.ErrorIs(t, err, ErrDonorNotFound)

	_, err = env.requestSvc.Create(ctx(), Actor{ID: patient.ID, Role: models.RolePatient},
		CreateRequestInput{DonorID: donor.ID, BloodGroup: "Z"})
	assert.ErrorIs(t, err, ErrInvalidBloodGroup)

	var n int64
	require.NoError(t, env.db.Model(&models.Request{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestUpdateStatusOnlyByRequestDonor(t *testing.T) {
	env := newTestEnv(t)
	patient := testutil.CreateUser(t, env.db, "p", models.RolePatient)
	donor := testutil.CreateUser(t, env.db, "d", models.RoleDonor)
	otherDonor := testutil.CreateUser(t, env.db, "d2", models.RoleDonor)

	request, err := env.requestSvc.Create(ctx(), Actor{ID: patient.ID, Role: models.RolePatient},
		CreateRequestInput{DonorID: donor.ID, BloodGroup: models.BloodGroupOPos})
	require.NoError(t, err)

	_, err = env.requestSvc.UpdateStatus(ctx(), Actor{ID: patient.ID, Role: models.RolePatient}, request.ID, models.RequestStatusAccepted)
	assert.ErrorIs(t, err, ErrForbiddenRole)

	_, err = env.requestSvc.UpdateStatus(ctx(), Actor{ID: otherDonor.ID, Role: models.RoleDonor}, request.ID, models.RequestStatusAccepted)
	assert.ErrorIs(t, err, ErrNotRequestDonor)

	_, err = env.requestSvc.UpdateStatus(ctx(), Actor{ID: donor.ID, Role: models.RoleDonor}, 9999, models.RequestStatusAccepted)
	assert.ErrorIs(t, err, ErrRequestNotFound)

	_, err = env.requestSvc.UpdateStatus(ctx(), Actor{ID: donor.ID, Role: models.RoleDonor}, request.ID, "maybe")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	stored, err := env.requests.GetByID(ctx(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, stored.Status)
}

func TestUpdateStatusRepeatedDoesNotDuplicateNotification(t *testing.T) {
	env := newTestEnv(t)
	patient := testutil.CreateUser(t, env.db, "p", models.RolePatient)
	donor := testutil.CreateUser(t, env.db, "d", models.RoleDonor)
	actor := Actor{ID: donor.ID, Role: models.RoleDonor}

	request, err := env.requestSvc.Create(ctx(), Actor{ID: patient.ID, Role: models.RolePatient},
		CreateRequestInput{DonorID: donor.ID, BloodGroup: models.BloodGroupOPos})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = env.requestSvc.UpdateStatus(ctx(), actor, request.ID, models.RequestStatusRejected)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), countNotifications(t, env, patient.ID, models.NotificationRequestRejected))

	// setting pending emits nothing
	_, err = env.requestSvc.UpdateStatus(ctx(), actor, request.ID, models.RequestStatusPending)
	require.NoError(t, err)
	var total int64
	require.NoError(t, env.db.Model(&models.Notification{}).Where("recipient_id = ?", patient.ID).Count(&total).Error)
	assert.Equal(t, int64(1), total)
}

func TestListRequestsRoleScoped(t *testing.T) {
	env := newTestEnv(t)
	patient := testutil.CreateUser(t, env.db, "p", models.RolePatient)
	donorA := testutil.CreateUser(t, env.db, "a", models.RoleDonor, testutil.WithCity("Multan"))
	donorB := testutil.CreateUser(t, env.db, "b", models.RoleDonor)
	pActor := Actor{ID: patient.ID, Role: models.RolePatient}

	first, err := env.requestSvc.Create(ctx(), pActor, CreateRequestInput{DonorID: donorA.ID, BloodGroup: models.BloodGroupOPos})
	require.NoError(t, err)
	second, err := env.requestSvc.Create(ctx(), pActor, CreateRequestInput{DonorID: donorB.ID, BloodGroup: models.BloodGroupOPos})
	require.NoError(t, err)

	asPatient, err := env.requestSvc.List(ctx(), pActor)
	require.NoError(t, err)
	require.Len(t, asPatient, 2)
	assert.Equal(t, second.ID, asPatient[0].ID)
	assert.Equal(t, first.ID, asPatient[1].ID)
	require.NotNil(t, asPatient[1].DonorInfo)
	assert.Equal(t, "Multan", asPatient[1].DonorInfo.City)
	require.NotNil(t, asPatient[1].DonorInfo.BloodGroup)
	require.NotNil(t, asPatient[1].PatientInfo)
	assert.Equal(t, patient.Email, asPatient[1].PatientInfo.Email)
	assert.Empty(t, asPatient[1].PatientInfo.City)

	asDonor, err := env.requestSvc.List(ctx(), Actor{ID: donorA.ID, Role: models.RoleDonor})
	require.NoError(t, err)
	require.Len(t, asDonor, 1)
	assert.Equal(t, first.ID, asDonor[0].ID)

	_, err = env.requestSvc.List(ctx(), Actor{ID: 1, Role: models.RoleAdmin})
	assert.ErrorIs(t, err, ErrForbiddenRole)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.RequestEvent) error {
	return errors.New("broker unavailable")
}

func (failingPublisher) Close() {}

func TestCreateRequestSurvivesPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	svc := NewRequestService(env.users, env.requests, failingPublisher{}, zap.NewNop())
	patient := testutil.CreateUser(t, env.db, "p", models.RolePatient)
	donor := testutil.CreateUser(t, env.db, "d", models.RoleDonor)

	request, err := svc.Create(ctx(), Actor{ID: patient.ID, Role: models.RolePatient},
		CreateRequestInput{DonorID: donor.ID, BloodGroup: models.BloodGroupOPos})
	require.NoError(t, err)
	assert.NotZero(t, request.ID)
	assert.Zero(t, countNotifications(t, env, donor.ID, models.NotificationRequestSent))
}
