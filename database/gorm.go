package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// OpenGORM 打开 GORM 连接并配置连接池，sqlite 内存库限制为单连接.
func OpenGORM(config *Config, log logger.Logger) (*gorm.DB, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	if log == nil {
		return nil, ErrNilLogger
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialectors[config.Driver](config.DSN), &gorm.Config{
		Logger:         newGORMLoggerAdapter(log, config.SlowThreshold, config.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if config.EnableTracing {
		if err = db.Use(tracing.NewPlugin()); err != nil {
			return nil, errors.Join(ErrRegisterTracingPlugin, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if config.memoryOnly() {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	} else {
		sqlDB.SetMaxOpenConns(config.Pool.MaxOpen)
		sqlDB.SetMaxIdleConns(config.Pool.MaxIdle)
		sqlDB.SetConnMaxLifetime(config.Pool.MaxLifetime)
		sqlDB.SetConnMaxIdleTime(config.Pool.MaxIdleTime)
	}

	log.With(logger.String("driver", config.Driver)).Debug("[Database] 连接已建立")
	return db, nil
}

// CloseGORM 关闭底层连接池.
func CloseGORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PingGORM 检查连接可用性.
func PingGORM(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// gormLoggerAdapter 把 GORM 日志转发到 logger.Logger.
type gormLoggerAdapter struct {
	logger        logger.Logger
	slowThreshold time.Duration
	logLevel      gormlogger.LogLevel
}

func newGORMLoggerAdapter(log logger.Logger, slowThreshold time.Duration, level string) gormlogger.Interface {
	logLevel := gormlogger.Warn
	switch level {
	case "silent":
		logLevel = gormlogger.Silent
	case "error":
		logLevel = gormlogger.Error
	case "info":
		logLevel = gormlogger.Info
	}

	return &gormLoggerAdapter{
		logger:        log,
		slowThreshold: slowThreshold,
		logLevel:      logLevel,
	}
}

// LogMode 设置日志模式.
func (l *gormLoggerAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLoggerAdapter) Info(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Info {
		l.logger.WithContext(ctx).Infof(msg, data...)
	}
}

func (l *gormLoggerAdapter) Warn(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Warn {
		l.logger.WithContext(ctx).Warnf(msg, data...)
	}
}

func (l *gormLoggerAdapter) Error(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Error {
		l.logger.WithContext(ctx).Errorf(msg, data...)
	}
}

// Trace 记录 SQL 执行，失败记 Error，慢查询记 Warn.
func (l *gormLoggerAdapter) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	log := l.logger.WithContext(ctx).With(
		logger.Duration("elapsed", elapsed),
		logger.Int64("rows", rows),
		logger.String("sql", sql),
	)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.logLevel >= gormlogger.Error:
		log.With(logger.Err(err)).Error("[Database] SQL执行失败")
	case elapsed > l.slowThreshold && l.slowThreshold > 0 && l.logLevel >= gormlogger.Warn:
		log.With(logger.Duration("threshold", l.slowThreshold)).Warn("[Database] 慢查询")
	case l.logLevel >= gormlogger.Info:
		log.Debug("[Database] SQL执行成功")
	}
}
