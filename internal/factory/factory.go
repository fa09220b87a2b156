package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wallet-auth-service/internal/audit"
	"wallet-auth-service/internal/bucketing"
	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/crypto"
	"wallet-auth-service/internal/delivery"
	"wallet-auth-service/internal/otp"
	"wallet-auth-service/internal/ratelimit"
	redisrepo "wallet-auth-service/internal/repository/redis"
	"wallet-auth-service/internal/repository/scylla"
	"wallet-auth-service/internal/secrets"
	"wallet-auth-service/internal/service"
	"wallet-auth-service/internal/util"
	"wallet-auth-service/internal/webauthn"
)

// Factory owns every external client and wires the service graph. Built once
// in main; Close tears connections down in reverse dependency order.
type Factory struct {
	cfg *config.Config

	Redis      *client.RedisClient
	Scylla     *scylla.ScyllaClient
	Clickhouse *client.ClickHouseClient
	Kafka      *client.KafkaProducer
	ES         *client.ESClient
	KMS        *client.KMSClient

	Auditor audit.Auditor
	Auth    *service.AuthService
	Vault   *secrets.Vault

	closeOnce sync.Once
}

func NewFactory(cfg *config.Config) (*Factory, error) {
	logger := util.Get()
	f := &Factory{cfg: cfg}

	redisClient, err := client.NewRedisClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	f.Redis = redisClient

	scyllaClient, err := scylla.NewScyllaClient(cfg, logger)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("factory: %w", err)
	}
	f.Scylla = scyllaClient

	chClient, err := client.NewClickHouseClient(cfg, logger)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("factory: %w", err)
	}
	f.Clickhouse = chClient

	if cfg.Kafka.Enabled {
		producer, err := client.NewKafkaProducer(cfg, logger)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("factory: %w", err)
		}
		f.Kafka = producer
	}

	if cfg.Elasticsearch.Enabled {
		esClient, err := client.NewElasticsearchClient(cfg, logger)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("factory: %w", err)
		}
		f.ES = esClient
	}

	if cfg.KMS.Enabled {
		kmsClient, err := client.NewKMSClient(cfg)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("factory: %w", err)
		}
		f.KMS = kmsClient
	}

	buckets := bucketing.NewManager(cfg)
	f.Auditor = audit.NewClickHouseAuditor(cfg, f.Clickhouse, f.Kafka, f.ES, buckets)

	cipher, err := crypto.NewCipher(cfg.KDF)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("factory: %w", err)
	}

	otpRepo := scylla.NewOtpSessionRepository(f.Scylla)
	credRepo := scylla.NewWebAuthnCredentialRepository(f.Scylla)
	authCache := redisrepo.NewAuthCache(f.Redis)
	counterStore := redisrepo.NewCounterStore(f.Redis)
	vaultStore := redisrepo.NewVaultStore(f.Redis)

	otpStore := otp.NewStore(cfg, otpRepo, f.Auditor)
	limiter := ratelimit.NewLimiter(cfg, counterStore, buckets)
	verifier := webauthn.NewES256Verifier(cfg)
	detector := webauthn.NewDetector(cfg, credRepo, authCache, authCache, verifier, f.Auditor)

	var sender delivery.CodeSender
	if f.Kafka != nil {
		sender = delivery.NewKafkaSender(cfg, f.Kafka)
	} else {
		sender = delivery.NewLogSender()
	}

	f.Auth = service.NewAuthService(cfg, otpStore, detector, limiter, sender, f.Auditor)

	var wrapper secrets.Wrapper
	if f.KMS != nil {
		wrapper = f.KMS
	}
	f.Vault = secrets.NewVault(cipher, vaultStore, wrapper)

	util.Info("Service factory initialized",
		zap.Bool("kafka", f.Kafka != nil),
		zap.Bool("elasticsearch", f.ES != nil),
		zap.Bool("kms", f.KMS != nil))

	return f, nil
}

// Health probes every connected dependency.
func (f *Factory) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	statuses := make(map[string]string)

	statuses["redis"] = statusOf(f.Redis.HealthCheck(ctx))
	statuses["scylla"] = statusOf(f.Scylla.HealthCheck())
	statuses["clickhouse"] = statusOf(f.Clickhouse.HealthCheck(ctx))
	if f.Kafka != nil {
		statuses["kafka"] = statusOf(f.Kafka.HealthCheck(ctx))
	}
	if f.ES != nil {
		statuses["elasticsearch"] = statusOf(f.ES.HealthCheck())
	}
	if f.KMS != nil {
		statuses["kms"] = statusOf(f.KMS.HealthCheck(ctx))
	}

	return statuses
}

func statusOf(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.Kafka != nil {
			_ = f.Kafka.Close()
		}
		if f.ES != nil {
			f.ES.Close()
		}
		if f.Clickhouse != nil {
			_ = f.Clickhouse.Close()
		}
		if f.Scylla != nil {
			f.Scylla.Close()
		}
		if f.Redis != nil {
			_ = f.Redis.Close()
		}
		util.Info("Service factory closed")
	})
}
