package kms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"mercator-hq/nimbus/pkg/config"
)

const awsProviderID = "aws"

// kmsAPI is the subset of the AWS KMS client used by AWSProvider.
type kmsAPI interface {
	Encrypt(ctx context.Context, in *awskms.EncryptInput, optFns ...func(*awskms.Options)) (*awskms.EncryptOutput, error)
	Decrypt(ctx context.Context, in *awskms.DecryptInput, optFns ...func(*awskms.Options)) (*awskms.DecryptOutput, error)
	GenerateDataKey(ctx context.Context, in *awskms.GenerateDataKeyInput, optFns ...func(*awskms.Options)) (*awskms.GenerateDataKeyOutput, error)
	CreateKey(ctx context.Context, in *awskms.CreateKeyInput, optFns ...func(*awskms.Options)) (*awskms.CreateKeyOutput, error)
}

// AWSProvider wraps data keys with AWS KMS.
type AWSProvider struct {
	client kmsAPI

	mu      sync.RWMutex
	current string
}

// NewAWSProvider creates a provider from the AWS KMS configuration. Static
// credentials are used when both keys are set, otherwise the default
// credential chain.
func NewAWSProvider(ctx context.Context, cfg config.AWSKMSConfig) (*AWSProvider, error) {
	if cfg.KeyID == "" {
		return nil, errors.New("kms: aws key id is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kms: failed to load AWS config: %w", err)
	}

	var kmsOpts []func(*awskms.Options)
	if cfg.Endpoint != "" {
		kmsOpts = append(kmsOpts, func(o *awskms.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return newAWSProviderWithClient(awskms.NewFromConfig(awsCfg, kmsOpts...), cfg.KeyID), nil
}

func newAWSProviderWithClient(client kmsAPI, keyID string) *AWSProvider {
	return &AWSProvider{client: client, current: keyID}
}

// Name returns the provider name.
func (p *AWSProvider) Name() string {
	return awsProviderID
}

// CurrentKeyID returns the KMS key used for new material.
func (p *AWSProvider) CurrentKeyID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Encrypt wraps data under keyID or the current key.
func (p *AWSProvider) Encrypt(ctx context.Context, data []byte, keyID string) (*Ciphertext, error) {
	if keyID == "" {
		keyID = p.CurrentKeyID()
	}

	out, err := p.client.Encrypt(ctx, &awskms.EncryptInput{
		KeyId:               aws.String(keyID),
		Plaintext:           data,
		EncryptionAlgorithm: types.EncryptionAlgorithmSpecSymmetricDefault,
	})
	if err != nil {
		return nil, wrapAWSError("encrypt", keyID, err)
	}

	return &Ciphertext{
		Blob:      out.CiphertextBlob,
		KeyID:     resolvedKeyID(out.KeyId, keyID),
		Algorithm: string(out.EncryptionAlgorithm),
	}, nil
}

// Decrypt unwraps a blob produced under keyID.
func (p *AWSProvider) Decrypt(ctx context.Context, blob []byte, keyID string) ([]byte, error) {
	out, err := p.client.Decrypt(ctx, &awskms.DecryptInput{
		CiphertextBlob:      blob,
		KeyId:               aws.String(keyID),
		EncryptionAlgorithm: types.EncryptionAlgorithmSpecSymmetricDefault,
	})
	if err != nil {
		return nil, wrapAWSError("decrypt", keyID, err)
	}
	return out.Plaintext, nil
}

// RotateKey creates a new symmetric KMS key and makes it current. The old key
// is left enabled in KMS so existing envelopes stay decryptable.
func (p *AWSProvider) RotateKey(ctx context.Context, keyID string) (string, error) {
	if keyID == "" {
		keyID = p.CurrentKeyID()
	}

	out, err := p.client.CreateKey(ctx, &awskms.CreateKeyInput{
		KeySpec:     types.KeySpecSymmetricDefault,
		KeyUsage:    types.KeyUsageTypeEncryptDecrypt,
		Description: aws.String("nimbus envelope key rotated from " + keyID),
		Tags: []types.Tag{
			{TagKey: aws.String("nimbus:rotated-from"), TagValue: aws.String(keyID)},
		},
	})
	if err != nil {
		return "", wrapAWSError("rotate", keyID, err)
	}
	if out.KeyMetadata == nil || out.KeyMetadata.KeyId == nil {
		return "", newProviderError(awsProviderID, "rotate", keyID, errors.New("create key returned no key id"))
	}

	newID := aws.ToString(out.KeyMetadata.KeyId)
	p.mu.Lock()
	p.current = newID
	p.mu.Unlock()
	return newID, nil
}

// GenerateDataKey asks KMS for a 256-bit data key.
func (p *AWSProvider) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	keyID := p.CurrentKeyID()

	out, err := p.client.GenerateDataKey(ctx, &awskms.GenerateDataKeyInput{
		KeyId:   aws.String(keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, wrapAWSError("generate data key", keyID, err)
	}

	return &DataKey{
		KeyID:     resolvedKeyID(out.KeyId, keyID),
		Plaintext: out.Plaintext,
		Encrypted: out.CiphertextBlob,
	}, nil
}

// Close is a no-op; the AWS client holds no resources that need releasing.
func (p *AWSProvider) Close() error {
	return nil
}

func resolvedKeyID(returned *string, requested string) string {
	if id := aws.ToString(returned); id != "" {
		return id
	}
	return requested
}

func wrapAWSError(op, keyID string, err error) error {
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return newProviderError(awsProviderID, op, keyID, fmt.Errorf("%w: %v", ErrKeyNotFound, err))
	}
	return newProviderError(awsProviderID, op, keyID, err)
}
