package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donor-finder/internal/models"
	"donor-finder/internal/storage"
	"donor-finder/internal/testutil"
)

func TestToggleFavorite(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormUserRepository(db)
	ctx := context.Background()
	patient := testutil.CreateUser(t, db, "P", models.RolePatient)
	d1 := testutil.CreateUser(t, db, "D1", models.RoleDonor)
	d2 := testutil.CreateUser(t, db, "D2", models.RoleDonor)

	ids, err := repo.ToggleFavorite(ctx, patient.ID, d2.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{d2.ID}, ids)

	ids, err = repo.ToggleFavorite(ctx, patient.ID, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{d1.ID, d2.ID}, ids)

	ids, err = repo.ToggleFavorite(ctx, patient.ID, d2.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{d1.ID}, ids)

	// favorites are per user
	ids, err = repo.GetFavoriteIDs(ctx, d1.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAddDonationKeepsLatestDate(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormUserRepository(db)
	ctx := context.Background()
	donor := testutil.CreateUser(t, db, "D", models.RoleDonor)

	recent := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	older := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	user, err := repo.AddDonation(ctx, donor.ID, &models.Donation{Date: recent, Location: "A"})
	require.NoError(t, err)
	require.NotNil(t, user.LastDonationDate)
	assert.True(t, user.LastDonationDate.Equal(recent))

	// back-filling an older donation leaves the latest date alone
	user, err = repo.AddDonation(ctx, donor.ID, &models.Donation{Date: older, Location: "B"})
	require.NoError(t, err)
	assert.True(t, user.LastDonationDate.Equal(recent))
	assert.Len(t, user.DonationHistory, 2)
}

func TestCreateUserKeepsUnavailable(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormUserRepository(db)
	off := testutil.CreateUser(t, db, "Off", models.RoleDonor, testutil.WithAvailability(false))
	on := testutil.CreateUser(t, db, "On", models.RoleDonor)
	assert.False(t, off.Availability)

	got, err := repo.GetByID(context.Background(), off.ID)
	require.NoError(t, err)
	assert.False(t, got.Availability)

	got, err = repo.GetByID(context.Background(), on.ID)
	require.NoError(t, err)
	assert.True(t, got.Availability)
}

func TestRepairMissingLocations(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormUserRepository(db)
	ctx := context.Background()
	located := testutil.CreateUser(t, db, "Located", models.RoleDonor, testutil.WithLocation(67.0, 24.8))
	missing := testutil.CreateUser(t, db, "Missing", models.RoleDonor)

	fallback := models.GeoPoint{Longitude: 74.3587, Latitude: 31.5204}
	n, err := repo.RepairMissingLocations(ctx, fallback)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repo.GetByID(ctx, missing.ID)
	require.NoError(t, err)
	p, ok := got.Location()
	require.True(t, ok)
	assert.Equal(t, fallback, p)

	got, err = repo.GetByID(ctx, located.ID)
	require.NoError(t, err)
	p, _ = got.Location()
	assert.Equal(t, 67.0, p.Longitude)

	n, err = repo.RepairMissingLocations(ctx, fallback)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFindDonorsInBoxAndCounts(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormUserRepository(db)
	ctx := context.Background()
	inside := testutil.CreateUser(t, db, "In", models.RoleDonor, testutil.WithLocation(74.35, 31.52))
	testutil.CreateUser(t, db, "Out", models.RoleDonor, testutil.WithLocation(67.0, 24.8), testutil.WithBloodGroup(models.BloodGroupBNeg))
	testutil.CreateUser(t, db, "Patient", models.RolePatient, testutil.WithLocation(74.35, 31.52))

	donors, err := repo.FindDonorsInBox(ctx, 31, 32, 74, 75)
	require.NoError(t, err)
	require.Len(t, donors, 1)
	assert.Equal(t, inside.ID, donors[0].ID)

	located, err := repo.ListLocatedDonors(ctx)
	require.NoError(t, err)
	assert.Len(t, located, 2)

	groups, err := repo.CountDonorsByBloodGroup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, groups[models.BloodGroupOPos])
	assert.EqualValues(t, 1, groups[models.BloodGroupBNeg])
}

func TestNotificationDedupKeyIsUnique(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormNotificationRepository(db)
	ctx := context.Background()
	patient := testutil.CreateUser(t, db, "P", models.RolePatient)
	donor := testutil.CreateUser(t, db, "D", models.RoleDonor)

	key := models.NotificationDedupKey(1, models.NotificationRequestSent)
	first := &models.Notification{RecipientID: donor.ID, SenderID: patient.ID, Type: models.NotificationRequestSent, Message: "m", DedupKey: &key}
	require.NoError(t, repo.Create(ctx, first))

	dup := &models.Notification{RecipientID: donor.ID, SenderID: patient.ID, Type: models.NotificationRequestSent, Message: "m", DedupKey: &key}
	assert.ErrorIs(t, repo.Create(ctx, dup), storage.ErrDuplicateNotification)

	found, err := repo.GetByDedupKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	require.NotNil(t, found.Sender)
	assert.Equal(t, "P", found.Sender.Name)
}

func TestNotificationOwnershipScoping(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormNotificationRepository(db)
	ctx := context.Background()
	patient := testutil.CreateUser(t, db, "P", models.RolePatient)
	donor := testutil.CreateUser(t, db, "D", models.RoleDonor)

	n := &models.Notification{RecipientID: donor.ID, SenderID: patient.ID, Type: models.NotificationRequestSent, Message: "m"}
	require.NoError(t, repo.Create(ctx, n))

	_, err := repo.MarkRead(ctx, n.ID, patient.ID)
	assert.Error(t, err)
	assert.Error(t, repo.Delete(ctx, n.ID, patient.ID))

	count, err := repo.CountUnread(ctx, donor.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	read, err := repo.MarkRead(ctx, n.ID, donor.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	require.NoError(t, repo.Delete(ctx, n.ID, donor.ID))
	list, err := repo.ListForRecipient(ctx, donor.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCountByStatus(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := storage.NewGormRequestRepository(db)
	ctx := context.Background()
	patient := testutil.CreateUser(t, db, "P", models.RolePatient)
	donor := testutil.CreateUser(t, db, "D", models.RoleDonor)

	for i := 0; i < 3; i++ {
		r := &models.Request{PatientID: patient.ID, DonorID: donor.ID, BloodGroup: models.BloodGroupOPos, Status: models.RequestStatusPending}
		require.NoError(t, repo.Create(ctx, r))
		if i == 0 {
			require.NoError(t, repo.UpdateStatus(ctx, r.ID, models.RequestStatusAccepted))
		}
	}
	assert.Error(t, repo.UpdateStatus(ctx, 9999, models.RequestStatusAccepted))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts[models.RequestStatusPending])
	assert.EqualValues(t, 1, counts[models.RequestStatusAccepted])

	listed, err := repo.ListForDonor(ctx, donor.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestParseID(t *testing.T) {
	id, err := storage.ParseID("42")
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	for _, raw := range []string{"", "0", "-1", "abc", "99999999999999999999"} {
		_, err := storage.ParseID(raw)
		assert.ErrorIs(t, err, storage.ErrInvalidID, raw)
	}
}
