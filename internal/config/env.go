package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:"127.0.0.1"`
	HTTPPort string `envconfig:"HTTP_PORT" default:"7310"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
}

type GatewayEnv struct {
	Host string `envconfig:"GATEWAY_HOST" default:"127.0.0.1"`
	Port int    `envconfig:"GATEWAY_PORT" default:"18789"`
	// Token is the shared secret the gateway was configured with.
	Token string `envconfig:"GATEWAY_TOKEN" required:"true"`
	// OperatorKey is the hex-encoded Ed25519 seed used to answer the
	// gateway's connect challenge.
	OperatorKey string        `envconfig:"OPERATOR_KEY" required:"true"`
	CallTimeout time.Duration `envconfig:"GATEWAY_CALL_TIMEOUT" default:"120s"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".jarvis/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"jarvis/"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
}

type SchedulerEnv struct {
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"3s"`
	ReportsDir   string        `envconfig:"REPORTS_DIR" default:".jarvis/reports"`
	// CoordinatorAgent receives intervention escalations.
	CoordinatorAgent string `envconfig:"COORDINATOR_AGENT" default:"jarvis"`
	AgentsFile       string `envconfig:"AGENTS_FILE" default:".jarvis/agents.yaml"`
}

type PushEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:ops@example.com"`
}

type Env struct {
	BaseEnv
	GatewayEnv
	StorageEnv
	SchedulerEnv
	PushEnv
}

const namespace = "JARVIS"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func GatewayEnvFromEnv(env *Env) *GatewayEnv {
	return &env.GatewayEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func SchedulerEnvFromEnv(env *Env) *SchedulerEnv {
	return &env.SchedulerEnv
}

func PushEnvFromEnv(env *Env) *PushEnv {
	return &env.PushEnv
}
