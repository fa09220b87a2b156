package client

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/util"
)

// KMSClient wraps AWS KMS for envelope encryption of vault blobs.
type KMSClient struct {
	client *kms.Client
	keyID  string
}

func NewKMSClient(cfg *config.Config) (*KMSClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	util.Info("KMS client initialized",
		zap.String("region", cfg.KMS.Region))

	return &KMSClient{
		client: kms.NewFromConfig(awsCfg),
		keyID:  cfg.KMS.KeyID,
	}, nil
}

// Wrap encrypts a payload under the configured customer master key.
func (k *KMSClient) Wrap(ctx context.Context, plaintext []byte) ([]byte, error) {
	out, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     &k.keyID,
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms encrypt failed: %w", err)
	}
	return out.CiphertextBlob, nil
}

// Unwrap decrypts a payload previously produced by Wrap.
func (k *KMSClient) Unwrap(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt failed: %w", err)
	}
	return out.Plaintext, nil
}

func (k *KMSClient) HealthCheck(ctx context.Context) error {
	_, err := k.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: &k.keyID})
	if err != nil {
		return fmt.Errorf("kms health check failed: %w", err)
	}
	return nil
}
