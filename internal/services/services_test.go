package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"donor-finder/internal/auth"
	"donor-finder/internal/config"
	"donor-finder/internal/events"
	"donor-finder/internal/geo"
	"donor-finder/internal/storage"
	"donor-finder/internal/testutil"
)

type pushRecord struct {
	userID  uint
	event   string
	payload interface{}
}

// fakePusher records pushes; users in online receive them.
type fakePusher struct {
	mu     sync.Mutex
	online map[uint]bool
	pushes []pushRecord
}

func newFakePusher(online ...uint) *fakePusher {
	p := &fakePusher{online: map[uint]bool{}}
	for _, id := range online {
		p.online[id] = true
	}
	return p
}

func (p *fakePusher) Push(userID uint, event string, payload interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online[userID] {
		return false
	}
	p.pushes = append(p.pushes, pushRecord{userID: userID, event: event, payload: payload})
	return true
}

func (p *fakePusher) pushesFor(userID uint) []pushRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pushRecord
	for _, r := range p.pushes {
		if r.userID == userID {
			out = append(out, r)
		}
	}
	return out
}

type testEnv struct {
	db            *gorm.DB
	users         storage.UserRepository
	requests      storage.RequestRepository
	notifications storage.NotificationRepository
	pusher        *fakePusher
	geoCfg        config.GeoConfig

	authSvc         AuthService
	donorSvc        DonorService
	requestSvc      RequestService
	notificationSvc NotificationService
	statsSvc        StatsService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	logger := zap.NewNop()

	env := &testEnv{
		db:            db,
		users:         storage.NewGormUserRepository(db),
		requests:      storage.NewGormRequestRepository(db),
		notifications: storage.NewGormNotificationRepository(db),
		pusher:        newFakePusher(),
		geoCfg: config.GeoConfig{
			DefaultRadiusMeters: 10000,
			MaxRadiusMeters:     500000,
			RepairLongitude:     74.3587,
			RepairLatitude:      31.5204,
		},
	}
	index := geo.NewSQLIndex(env.users)
	env.notificationSvc = NewNotificationService(env.notifications, env.users, env.pusher, 50, logger, nil)
	publisher := events.SyncPublisher{Handler: env.notificationSvc.HandleRequestEvent}
	env.requestSvc = NewRequestService(env.users, env.requests, publisher, logger)
	env.donorSvc = NewDonorService(env.users, index, env.geoCfg, logger)
	env.authSvc = NewAuthService(env.users, index, auth.NewMemoryBlacklist(),
		config.AuthConfig{JWTSecretKey: "svc-secret", JWTExpiry: time.Hour}, logger)
	env.statsSvc = NewStatsService(env.users, env.requests)
	return env
}

func ctx() context.Context { return context.Background() }
