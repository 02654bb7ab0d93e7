package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donor-finder/internal/models"
	"donor-finder/internal/testutil"
)

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func bgPtr(g models.BloodGroup) *models.BloodGroup { return &g }

func viewIDs(views []DonorView) []uint {
	ids := make([]uint, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	return ids
}

func TestEligibilityCooldown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	assert.True(t, models.EligibleAt(nil, now))
	assert.True(t, models.EligibleAt([]models.Donation{{Date: now.Add(-91 * day)}}, now))
	assert.False(t, models.EligibleAt([]models.Donation{{Date: now.Add(-89 * day)}}, now))
	assert.True(t, models.EligibleAt([]models.Donation{{Date: now.Add(-90 * day)}}, now))
	// the latest entry decides, regardless of order
	assert.False(t, models.EligibleAt([]models.Donation{
		{Date: now.Add(-200 * day)},
		{Date: now.Add(-10 * day)},
		{Date: now.Add(-120 * day)},
	}, now))
}

func TestSearchFilters(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()

	fresh := testutil.CreateUser(t, env.db, "fresh", models.RoleDonor, testutil.WithBloodGroup(models.BloodGroupAPos), testutil.WithCity("Lahore"))
	recent := testutil.CreateUser(t, env.db, "recent", models.RoleDonor, testutil.WithCity("Karachi"),
		testutil.WithLastDonation(now.Add(-30*24*time.Hour)))
	old := testutil.CreateUser(t, env.db, "old", models.RoleDonor, testutil.WithCity("lahore cantt"),
		testutil.WithLastDonation(now.Add(-120*24*time.Hour)), testutil.WithAvailability(false))
	testutil.CreateUser(t, env.db, "patient", models.RolePatient)

	all, err := env.donorSvc.Search(ctx(), nil, DonorFilter{})
	require.NoError(t, err)
	assert.Equal(t, []uint{fresh.ID, recent.ID, old.ID}, viewIDs(all))
	for _, v := range all {
		assert.Empty(t, v.PasswordHash)
		assert.Equal(t, v.ID != recent.ID, v.IsEligible, "donor %s", v.Name)
	}

	byCity, err := env.donorSvc.Search(ctx(), nil, DonorFilter{City: strPtr("LAHORE")})
	require.NoError(t, err)
	assert.Equal(t, []uint{fresh.ID, old.ID}, viewIDs(byCity))

	byGroup, err := env.donorSvc.Search(ctx(), nil, DonorFilter{BloodGroup: bgPtr(models.BloodGroupAPos)})
	require.NoError(t, err)
	assert.Equal(t, []uint{fresh.ID}, viewIDs(byGroup))

	available, err := env.donorSvc.Search(ctx(), nil, DonorFilter{Availability: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, []uint{fresh.ID, recent.ID}, viewIDs(available))

	eligible, err := env.donorSvc.Search(ctx(), nil, DonorFilter{IsEligible: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, []uint{fresh.ID, old.ID}, viewIDs(eligible))

	ineligible, err := env.donorSvc.Search(ctx(), nil, DonorFilter{IsEligible: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, []uint{recent.ID}, viewIDs(ineligible))

	_, err = env.donorSvc.Search(ctx(), nil, DonorFilter{BloodGroup: bgPtr("C+")})
	assert.ErrorIs(t, err, ErrInvalidBloodGroup)
}

func TestSearchFavoritesOnly(t *testing.T) {
	env := newTestEnv(t)
	patient := testutil.CreateUser(t, env.db, "p", models.RolePatient)
	d1 := testutil.CreateUser(t, env.db, "d1", models.RoleDonor)
	testutil.CreateUser(t, env.db, "d2", models.RoleDonor)
	actor := &Actor{ID: patient.ID, Role: models.RolePatient}

	empty, err := env.donorSvc.Search(ctx(), actor, DonorFilter{FavoritesOnly: true})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	anonymous, err := env.donorSvc.Search(ctx(), nil, DonorFilter{FavoritesOnly: true})
	require.NoError(t, err)
	assert.Empty(t, anonymous)

	_, err = env.donorSvc.ToggleFavorite(ctx(), *actor, d1.ID)
	require.NoError(t, err)
	favs, err := env.donorSvc.Search(ctx(), actor, DonorFilter{FavoritesOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []uint{d1.ID}, viewIDs(favs))
}

func TestToggleFavoriteRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	patient := testutil.CreateUser(t, env.db, "p", models.RolePatient)
	keep := testutil.CreateUser(t, env.db, "keep", models.RoleDonor)
	target := testutil.CreateUser(t, env.db, "target", models.RoleDonor)
	actor := Actor{ID: patient.ID, Role: models.RolePatient}

	original, err := env.donorSvc.ToggleFavorite(ctx(), actor, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{keep.ID}, original)

	added, err := env.donorSvc.ToggleFavorite(ctx(), actor, target.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{keep.ID, target.ID}, added)

	removed, err := env.donorSvc.ToggleFavorite(ctx(), actor, target.ID)
	require.NoError(t, err)
	assert.Equal(t, original, removed)

	_, err = env.donorSvc.ToggleFavorite(ctx(), actor, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestNearbyNeverExceedsRadius(t *testing.T) {
	env := newTestEnv(t)
	center := models.GeoPoint{Longitude: 74.3587, Latitude: 31.5204}

	a := testutil.CreateUser(t, env.db, "a", models.RoleDonor, testutil.WithLocation(74.3587, 31.5300))
	b := testutil.CreateUser(t, env.db, "b", models.RoleDonor, testutil.WithLocation(74.4000, 31.5204),
		testutil.WithBloodGroup(models.BloodGroupBNeg))
	testutil.CreateUser(t, env.db, "far", models.RoleDonor, testutil.WithLocation(74.3587, 32.0))
	testutil.CreateUser(t, env.db, "patient", models.RolePatient, testutil.WithLocation(74.3587, 31.5205))

	views, err := env.donorSvc.Nearby(ctx(), NearbyQuery{Latitude: center.Latitude, Longitude: center.Longitude})
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID, b.ID}, viewIDs(views))
	for _, v := range views {
		require.NotNil(t, v.DistanceMeters)
		assert.LessOrEqual(t, *v.DistanceMeters, env.geoCfg.DefaultRadiusMeters)
		require.NotNil(t, v.Location)
		assert.LessOrEqual(t, center.DistanceMeters(*v.Location), env.geoCfg.DefaultRadiusMeters)
		assert.Empty(t, v.PasswordHash)
	}

	for _, radius := range []float64{500, 1100, 4000, 60000} {
		got, err := env.donorSvc.Nearby(ctx(), NearbyQuery{Latitude: center.Latitude, Longitude: center.Longitude, RadiusMeters: radius})
		require.NoError(t, err)
		for _, v := range got {
			assert.LessOrEqual(t, *v.DistanceMeters, radius)
		}
	}

	filtered, err := env.donorSvc.Nearby(ctx(), NearbyQuery{
		Latitude: center.Latitude, Longitude: center.Longitude, BloodGroup: bgPtr(models.BloodGroupBNeg),
	})
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID}, viewIDs(filtered))
}

func TestNearbyValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.donorSvc.Nearby(ctx(), NearbyQuery{Latitude: 95, Longitude: 0})
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = env.donorSvc.Nearby(ctx(), NearbyQuery{Latitude: 0, Longitude: 0, RadiusMeters: -1})
	assert.ErrorIs(t, err, ErrInvalidRadius)

	_, err = env.donorSvc.Nearby(ctx(), NearbyQuery{Latitude: 0, Longitude: 0, RadiusMeters: 1e9})
	assert.ErrorIs(t, err, ErrInvalidRadius)

	views, err := env.donorSvc.Nearby(ctx(), NearbyQuery{Latitude: 0, Longitude: 0})
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestAddDonationKeepsLatestDate(t *testing.T) {
	env := newTestEnv(t)
	donor := testutil.CreateUser(t, env.db, "d", models.RoleDonor)
	patient := testutil.CreateUser(t, env.db, "p", models.RolePatient)
	actor := Actor{ID: donor.ID, Role: models.RoleDonor}

	newer := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	older := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)

	_, err := env.donorSvc.AddDonation(ctx(), actor, DonationInput{Date: newer, Location: "Jinnah Hospital"})
	require.NoError(t, err)
	user, err := env.donorSvc.AddDonation(ctx(), actor, DonationInput{Date: older, Location: "Services Hospital", Notes: "backfill"})
	require.NoError(t, err)

	assert.Len(t, user.DonationHistory, 2)
	require.NotNil(t, user.LastDonationDate)
	assert.True(t, user.LastDonationDate.Equal(newer))

	_, err = env.donorSvc.AddDonation(ctx(), Actor{ID: patient.ID, Role: models.RolePatient}, DonationInput{Date: newer, Location: "x"})
	assert.ErrorIs(t, err, ErrForbiddenRole)
}

func TestUpdateLocationAndRepair(t *testing.T) {
	env := newTestEnv(t)
	donor := testutil.CreateUser(t, env.db, "d", models.RoleDonor)
	testutil.CreateUser(t, env.db, "p", models.RolePatient)

	_, err := env.donorSvc.UpdateLocation(ctx(), Actor{ID: donor.ID, Role: models.RoleDonor}, models.GeoPoint{Longitude: 200, Latitude: 0})
	assert.ErrorIs(t, err, ErrInvalidLocation)

	user, err := env.donorSvc.UpdateLocation(ctx(), Actor{ID: donor.ID, Role: models.RoleDonor}, models.GeoPoint{Longitude: 73.0479, Latitude: 33.6844})
	require.NoError(t, err)
	p, ok := user.Location()
	require.True(t, ok)
	assert.Equal(t, 33.6844, p.Latitude)

	repaired, err := env.donorSvc.RepairLocations(ctx())
	require.NoError(t, err)
	assert.Equal(t, int64(1), repaired)

	again, err := env.donorSvc.RepairLocations(ctx())
	require.NoError(t, err)
	assert.Zero(t, again)

	n, err := env.donorSvc.ReindexGeo(ctx())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
