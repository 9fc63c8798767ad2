package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/transit-checkout/logger"
)

// DatabaseTestSuite 数据库测试套件.
type DatabaseTestSuite struct {
	suite.Suite
	logger logger.Logger
}

func TestDatabaseSuite(t *testing.T) {
	suite.Run(t, new(DatabaseTestSuite))
}

func (s *DatabaseTestSuite) SetupSuite() {
	s.logger = logger.NewNop()
}

func (s *DatabaseTestSuite) TestApplyDefaults() {
	cfg := &Config{Driver: DriverSQLite, DSN: ":memory:"}
	cfg.ApplyDefaults()

	s.Equal(200*time.Millisecond, cfg.SlowThreshold)
	s.Equal("warn", cfg.LogLevel)
	s.Equal(50, cfg.Pool.MaxOpen)
	s.Equal(10, cfg.Pool.MaxIdle)
	s.Equal(time.Hour, cfg.Pool.MaxLifetime)

	aliased := &Config{Driver: "PostgreSQL", DSN: "host=db"}
	aliased.ApplyDefaults()
	s.Equal(DriverPostgres, aliased.Driver)
	s.NoError(aliased.Validate())
}

func (s *DatabaseTestSuite) TestOpenGORM_Validation() {
	_, err := OpenGORM(nil, s.logger)
	s.ErrorIs(err, ErrNilConfig)

	_, err = OpenGORM(&Config{Driver: DriverSQLite, DSN: ":memory:"}, nil)
	s.ErrorIs(err, ErrNilLogger)

	_, err = OpenGORM(&Config{DSN: ":memory:"}, s.logger)
	s.ErrorIs(err, ErrEmptyDriver)

	_, err = OpenGORM(&Config{Driver: DriverSQLite}, s.logger)
	s.ErrorIs(err, ErrEmptyDSN)

	_, err = OpenGORM(&Config{Driver: "oracle", DSN: "x"}, s.logger)
	s.ErrorIs(err, ErrUnsupportedDriver)
}

func (s *DatabaseTestSuite) TestOpenGORM_SQLiteMemory() {
	db, err := OpenGORM(&Config{Driver: DriverSQLite, DSN: ":memory:", EnableTracing: true}, s.logger)
	s.Require().NoError(err)
	defer func() { s.NoError(CloseGORM(db)) }()

	s.NoError(PingGORM(context.Background(), db))

	sqlDB, err := db.DB()
	s.Require().NoError(err)
	s.Equal(1, sqlDB.Stats().MaxOpenConnections)

	type probe struct {
		ID   uint
		Name string
	}
	s.Require().NoError(db.AutoMigrate(&probe{}))
	s.Require().NoError(db.Create(&probe{Name: "a"}).Error)

	var count int64
	s.Require().NoError(db.Model(&probe{}).Count(&count).Error)
	s.Equal(int64(1), count)
}

func (s *DatabaseTestSuite) TestMongoConfig() {
	cfg := &MongoConfig{}
	s.ErrorIs(cfg.Validate(), ErrEmptyURI)

	cfg.URI = "mongodb://localhost:27017"
	s.ErrorIs(cfg.Validate(), ErrEmptyDatabase)

	cfg.Database = "checkout"
	s.NoError(cfg.Validate())

	cfg.ApplyDefaults()
	s.Equal(10*time.Second, cfg.ConnectTimeout)
	s.Equal(uint64(100), cfg.MaxPoolSize)
}

func (s *DatabaseTestSuite) TestOpenMongo_Validation() {
	_, err := OpenMongo(context.Background(), nil, s.logger)
	s.ErrorIs(err, ErrNilConfig)

	_, err = OpenMongo(context.Background(), &MongoConfig{}, s.logger)
	s.ErrorIs(err, ErrEmptyURI)
}
