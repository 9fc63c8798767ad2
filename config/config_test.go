package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite 配置测试套件.
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
}

type busConfig struct {
	Type    string   `mapstructure:"type"`
	Brokers []string `mapstructure:"brokers"`
}

type sagaConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type testConfig struct {
	Bus  busConfig  `mapstructure:"bus"`
	Saga sagaConfig `mapstructure:"saga"`
}

func (c *testConfig) ApplyDefaults() {
	if c.Saga.MaxRetries == 0 {
		c.Saga.MaxRetries = 5
	}
}

func (c *testConfig) Validate() error {
	if c.Bus.Type == "" {
		return errors.New("bus.type is required")
	}
	return nil
}

func (s *ConfigTestSuite) writeFile(name, content string) string {
	path := filepath.Join(s.tempDir, name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (s *ConfigTestSuite) TestLoad_YAML() {
	path := s.writeFile("checkout.yaml", `
bus:
  type: kafka
  brokers: ["k1:9092", "k2:9092"]
saga:
  timeout: 10m
`)
	cfg, err := Load[testConfig](path)
	s.Require().NoError(err)
	s.Equal("kafka", cfg.Bus.Type)
	s.Equal([]string{"k1:9092", "k2:9092"}, cfg.Bus.Brokers)
	s.Equal(10*time.Minute, cfg.Saga.Timeout)
	s.Equal(5, cfg.Saga.MaxRetries)
}

func (s *ConfigTestSuite) TestLoad_EnvOverride() {
	path := s.writeFile("checkout.yaml", "bus:\n  type: kafka\n")
	s.T().Setenv("CHECKOUT_BUS_TYPE", "rabbitmq")

	cfg, err := Load[testConfig](path, WithEnvPrefix("CHECKOUT"))
	s.Require().NoError(err)
	s.Equal("rabbitmq", cfg.Bus.Type)
}

func (s *ConfigTestSuite) TestLoad_DefaultsOnly() {
	cfg, err := Load[testConfig]("", WithDefaults(map[string]any{"bus.type": "memory"}))
	s.Require().NoError(err)
	s.Equal("memory", cfg.Bus.Type)
}

func (s *ConfigTestSuite) TestLoad_FileNotFound() {
	_, err := Load[testConfig](filepath.Join(s.tempDir, "missing.yaml"))
	s.ErrorIs(err, ErrFileNotFound)
}

func (s *ConfigTestSuite) TestLoad_ValidationFailed() {
	path := s.writeFile("empty.yaml", "saga:\n  max_retries: 2\n")
	_, err := Load[testConfig](path)
	s.ErrorIs(err, ErrValidation)
}

func (s *ConfigTestSuite) TestLoadFromBytes() {
	cfg, err := LoadFromBytes[testConfig]([]byte(`{"bus":{"type":"memory"}}`), "json")
	s.Require().NoError(err)
	s.Equal("memory", cfg.Bus.Type)
}

func (s *ConfigTestSuite) TestGetConfigType() {
	s.Equal("yaml", GetConfigType("a.yml"))
	s.Equal("json", GetConfigType("a.JSON"))
	s.Equal("", GetConfigType("a.txt"))
}

func (s *ConfigTestSuite) TestLoad_OverridesWin() {
	path := s.writeFile("checkout.yaml", "bus:\n  type: kafka\nsaga:\n  timeout: 10m\n")
	s.T().Setenv("CHECKOUT_BUS_TYPE", "rabbitmq")

	cfg, err := Load[testConfig](path,
		WithEnvPrefix("CHECKOUT"),
		WithOverrides(map[string]string{"bus.type": "memory", "saga.timeout": "30s"}),
	)
	s.Require().NoError(err)
	s.Equal("memory", cfg.Bus.Type)
	s.Equal(30*time.Second, cfg.Saga.Timeout)
}

func (s *ConfigTestSuite) TestLoad_WithoutEnv() {
	path := s.writeFile("checkout.yaml", "bus:\n  type: kafka\n")
	s.T().Setenv("CHECKOUT_BUS_TYPE", "rabbitmq")

	cfg, err := Load[testConfig](path, WithEnvPrefix("CHECKOUT"), WithoutEnv())
	s.Require().NoError(err)
	s.Equal("kafka", cfg.Bus.Type)
}
