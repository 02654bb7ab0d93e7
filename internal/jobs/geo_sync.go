package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"donor-finder/internal/metrics"
)

const geoSyncJobName = "geo_sync"

// GeoMaintainer is the part of the donor service the sync job drives.
type GeoMaintainer interface {
	RepairLocations(ctx context.Context) (int64, error)
	ReindexGeo(ctx context.Context) (int, error)
}

// GeoSyncJob periodically rebuilds the geo index from the database, so index
// writes that failed at request time are healed. Backfilling missing coordinates
// is off unless WithLocationRepair enables it; donors without a location stay
// out of nearby results until they set one.
type GeoSyncJob struct {
	maintainer    GeoMaintainer
	schedule      string
	repair        bool
	timeout       time.Duration
	logger        *zap.Logger
	metrics       *metrics.Metrics
	cronScheduler *cron.Cron
}

// NewGeoSyncJob creates a GeoSyncJob. An empty schedule disables it.
func NewGeoSyncJob(maintainer GeoMaintainer, schedule string, logger *zap.Logger, m *metrics.Metrics) *GeoSyncJob {
	scheduler := cron.New(
		cron.WithLogger(NewCronLogger(logger.Named("cron"))),
		cron.WithChain(cron.SkipIfStillRunning(NewCronLogger(logger.Named("cron")))),
	)
	return &GeoSyncJob{
		maintainer:    maintainer,
		schedule:      schedule,
		timeout:       5 * time.Minute,
		logger:        logger.Named("GeoSyncJob"),
		metrics:       m,
		cronScheduler: scheduler,
	}
}

// WithLocationRepair makes every pass run RepairLocations before reindexing.
func (j *GeoSyncJob) WithLocationRepair(enabled bool) *GeoSyncJob {
	j.repair = enabled
	return j
}

// SetupAndStart schedules the job and starts the scheduler in the background.
func (j *GeoSyncJob) SetupAndStart() error {
	if j.schedule == "" {
		j.logger.Warn("未配置地理索引同步计划 (GEO.SYNC_SCHEDULE)，任务不会运行")
		return nil
	}

	jobID, err := j.cronScheduler.AddFunc(j.schedule, j.runJob)
	if err != nil {
		return fmt.Errorf("无法调度地理索引同步任务 (%s): %w", j.schedule, err)
	}

	j.logger.Info("地理索引同步任务已调度", zap.String("spec", j.schedule), zap.Any("jobID", jobID))
	j.cronScheduler.Start()
	return nil
}

func (j *GeoSyncJob) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_ = j.RunOnce(ctx)
}

// RunOnce performs one pass: optional repair, then reindex.
func (j *GeoSyncJob) RunOnce(ctx context.Context) error {
	start := time.Now()
	err := j.run(ctx)
	j.metrics.ObserveJob(geoSyncJobName, time.Since(start), err)
	return err
}

func (j *GeoSyncJob) run(ctx context.Context) error {
	var repaired int64
	if j.repair {
		n, err := j.maintainer.RepairLocations(ctx)
		if err != nil {
			j.logger.Error("修复缺失坐标失败", zap.Error(err))
			return err
		}
		repaired = n
	}
	indexed, err := j.maintainer.ReindexGeo(ctx)
	if err != nil {
		j.logger.Error("重建地理索引失败", zap.Error(err))
		return err
	}
	j.logger.Info("地理索引同步完成", zap.Int64("repaired", repaired), zap.Int("indexed", indexed))
	return nil
}

// Stop waits for a running pass to finish, up to ten seconds.
func (j *GeoSyncJob) Stop() {
	stopCtx := j.cronScheduler.Stop()
	select {
	case <-stopCtx.Done():
		j.logger.Info("地理索引同步任务已停止")
	case <-time.After(10 * time.Second):
		j.logger.Warn("停止地理索引同步任务超时")
	}
}

// cronLogger adapts zap.Logger to cron.Logger.
type cronLogger struct {
	zl *zap.Logger
}

// NewCronLogger creates a cron.Logger backed by zl.
func NewCronLogger(zl *zap.Logger) cron.Logger {
	return &cronLogger{zl: zl}
}

// cron reports every schedule tick through Info, which is too chatty above debug.
func (cl *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	cl.zl.Debug(msg, fields(keysAndValues)...)
}

func (cl *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	cl.zl.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			out = append(out, zap.Any(key, keysAndValues[i+1]))
		} else {
			out = append(out, zap.Any(key, "MISSING_VALUE"))
		}
	}
	return out
}
