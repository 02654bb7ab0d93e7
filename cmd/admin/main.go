package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	redisDriver "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"donor-finder/internal/auth"
	"donor-finder/internal/config"
	"donor-finder/internal/geo"
	"donor-finder/internal/logging"
	"donor-finder/internal/models"
	appRedis "donor-finder/internal/redis"
	"donor-finder/internal/services"
	"donor-finder/internal/storage"
)

func usage() {
	fmt.Println("使用方法:")
	fmt.Println("  ./admin repair-locations                 - 为缺少坐标的用户填充默认坐标")
	fmt.Println("  ./admin reindex-geo                      - 根据数据库重建地理索引")
	fmt.Println("  ./admin promote-admin <email>            - 将用户提升为管理员")
	fmt.Println("  ./admin seed-test-donors [lat] [lng]     - 在指定坐标附近创建测试献血者")
	fmt.Println("  ./admin check-requests                   - 按状态统计献血请求")
	fmt.Println("  ./admin issue-token <email>              - 为用户签发访问令牌")
}

func main() {
	// 简单命令行参数解析
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(os.Getenv("DONOR_FINDER_CONFIG"))
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, closeDB, err := openDB(cfg, logger)
	if err != nil {
		log.Fatalf("无法连接数据库: %v", err)
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	userRepo := storage.NewGormUserRepository(db)

	// 执行指定的命令
	switch os.Args[1] {
	case "repair-locations":
		donorService := services.NewDonorService(userRepo, geo.NewSQLIndex(userRepo), cfg.Geo, logger)
		n, err := donorService.RepairLocations(ctx)
		if err != nil {
			log.Fatalf("修复失败: %v", err)
		}
		fmt.Printf("已修复 %d 个缺少坐标的用户 (默认坐标 lng=%.4f lat=%.4f)\n", n, cfg.Geo.RepairLongitude, cfg.Geo.RepairLatitude)

	case "reindex-geo":
		index, closeIndex := openIndex(ctx, cfg, userRepo, logger)
		defer closeIndex()
		donorService := services.NewDonorService(userRepo, index, cfg.Geo, logger)
		n, err := donorService.ReindexGeo(ctx)
		if err != nil {
			log.Fatalf("重建地理索引失败: %v", err)
		}
		fmt.Printf("地理索引 (%s) 已重建，共 %d 个献血者\n", index.Name(), n)

	case "promote-admin":
		if len(os.Args) < 3 {
			log.Fatalf("需要指定用户邮箱")
		}
		promoteAdmin(ctx, userRepo, os.Args[2])

	case "seed-test-donors":
		lat, lng := cfg.Geo.RepairLatitude, cfg.Geo.RepairLongitude
		if len(os.Args) >= 4 {
			if lat, err = strconv.ParseFloat(os.Args[2], 64); err != nil {
				log.Fatalf("无效的纬度: %v", err)
			}
			if lng, err = strconv.ParseFloat(os.Args[3], 64); err != nil {
				log.Fatalf("无效的经度: %v", err)
			}
		}
		index, closeIndex := openIndex(ctx, cfg, userRepo, logger)
		defer closeIndex()
		authService := services.NewAuthService(userRepo, index, auth.NewMemoryBlacklist(), cfg.Auth, logger)
		seedTestDonors(ctx, authService, models.GeoPoint{Longitude: lng, Latitude: lat})

	case "check-requests":
		checkRequests(ctx, userRepo, storage.NewGormRequestRepository(db))

	case "issue-token":
		if len(os.Args) < 3 {
			log.Fatalf("需要指定用户邮箱")
		}
		user, err := userRepo.GetByEmail(ctx, os.Args[2])
		if err != nil {
			log.Fatalf("查找用户失败: %v", err)
		}
		token, err := auth.GenerateToken(user.ID, user.Role, cfg.Auth)
		if err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
		fmt.Println(token)

	default:
		usage()
		log.Fatalf("未知命令: %s", os.Args[1])
	}
}

// openDB opens its own database/sql pool for postgres; sqlite goes through storage.InitDB.
func openDB(cfg config.Config, logger *zap.Logger) (*gorm.DB, func(), error) {
	if cfg.Database.Type == "sqlite" {
		db, err := storage.InitDB(cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = sqlDB.Close() }, nil
	}

	sqlDB, err := sql.Open("postgres", storage.PostgresDSN(cfg.Database))
	if err != nil {
		return nil, nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{
		Logger: logging.GormLogger(logger.Named("gorm"), cfg.Database.LogLevel),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func openIndex(ctx context.Context, cfg config.Config, users storage.UserRepository, logger *zap.Logger) (geo.DonorIndex, func()) {
	var redisClient *redisDriver.Client
	if cfg.Geo.Backend == "redis" {
		client, err := appRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatalf("无法连接到 Redis: %v", err)
		}
		redisClient = client
	}
	index, closeIndex, err := geo.Open(ctx, cfg, redisClient, users, logger)
	if err != nil {
		log.Fatalf("无法初始化地理索引: %v", err)
	}
	return index, func() {
		closeIndex()
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}
}

func promoteAdmin(ctx context.Context, repo storage.UserRepository, email string) {
	user, err := repo.GetByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Fatalf("未找到邮箱为 %s 的用户", email)
	} else if err != nil {
		log.Fatalf("查找用户失败: %v", err)
	}

	user.Role = models.RoleAdmin
	if err := repo.Update(ctx, user); err != nil {
		log.Fatalf("更新用户角色失败: %v", err)
	}
	fmt.Printf("用户 %s (ID: %d) 已提升为管理员\n", user.Email, user.ID)
}

// testDonorOffsets place donors at and around the base point, roughly 1 km apart.
var testDonorOffsets = []struct {
	name       string
	bloodGroup models.BloodGroup
	dLat, dLng float64
}{
	{"Test Donor 1 (Exact)", models.BloodGroupOPos, 0, 0},
	{"Test Donor 2 (North)", models.BloodGroupAPos, 0.01, 0},
	{"Test Donor 3 (East)", models.BloodGroupBPos, 0, 0.01},
	{"Test Donor 4 (South)", models.BloodGroupABPos, -0.01, 0},
	{"Test Donor 5 (Far West)", models.BloodGroupONeg, 0, -0.2},
}

func seedTestDonors(ctx context.Context, authService services.AuthService, base models.GeoPoint) {
	available := true
	created := 0
	for i, d := range testDonorOffsets {
		group := d.bloodGroup
		point := models.GeoPoint{Longitude: base.Longitude + d.dLng, Latitude: base.Latitude + d.dLat}
		_, err := authService.Register(ctx, services.RegisterInput{
			Name:         d.name,
			Email:        fmt.Sprintf("test%d@example.com", i+1),
			Password:     "112233",
			Role:         models.RoleDonor,
			BloodGroup:   &group,
			City:         "Test City",
			Phone:        fmt.Sprintf("0300123456%d", i),
			Availability: &available,
			Location:     &point,
		})
		if errors.Is(err, services.ErrUserAlreadyExists) {
			fmt.Printf("跳过已存在的测试献血者 test%d@example.com\n", i+1)
			continue
		}
		if err != nil {
			log.Fatalf("创建测试献血者失败: %v", err)
		}
		created++
	}
	fmt.Printf("已创建 %d 个测试献血者 (密码 112233)，基准点 lat=%.6f lng=%.6f\n", created, base.Latitude, base.Longitude)
}

func checkRequests(ctx context.Context, users storage.UserRepository, requests storage.RequestRepository) {
	counts, err := requests.CountByStatus(ctx)
	if err != nil {
		log.Fatalf("统计请求失败: %v", err)
	}
	donors, err := users.CountByRole(ctx, models.RoleDonor)
	if err != nil {
		log.Fatalf("统计用户失败: %v", err)
	}
	patients, err := users.CountByRole(ctx, models.RolePatient)
	if err != nil {
		log.Fatalf("统计用户失败: %v", err)
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	fmt.Println("--------------------------------------")
	fmt.Printf("献血者: %d, 患者: %d\n", donors, patients)
	fmt.Printf("请求总数: %d\n", total)
	fmt.Printf("  pending:  %d\n", counts[models.RequestStatusPending])
	fmt.Printf("  accepted: %d\n", counts[models.RequestStatusAccepted])
	fmt.Printf("  rejected: %d\n", counts[models.RequestStatusRejected])
}
