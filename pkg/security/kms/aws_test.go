package kms

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"mercator-hq/nimbus/pkg/config"
)

// fakeKMS reverses bytes as "encryption" and records the key ids it was asked for.
type fakeKMS struct {
	known      map[string]bool
	createdIDs []string
	failWith   error
}

func newFakeKMS(keys ...string) *fakeKMS {
	known := make(map[string]bool)
	for _, k := range keys {
		known[k] = true
	}
	return &fakeKMS{known: known}
}

func (f *fakeKMS) check(keyID *string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if !f.known[aws.ToString(keyID)] {
		return &types.NotFoundException{Message: aws.String("key not found")}
	}
	return nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func (f *fakeKMS) Encrypt(_ context.Context, in *awskms.EncryptInput, _ ...func(*awskms.Options)) (*awskms.EncryptOutput, error) {
	if err := f.check(in.KeyId); err != nil {
		return nil, err
	}
	return &awskms.EncryptOutput{
		CiphertextBlob:      reverse(in.Plaintext),
		KeyId:               in.KeyId,
		EncryptionAlgorithm: types.EncryptionAlgorithmSpecSymmetricDefault,
	}, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *awskms.DecryptInput, _ ...func(*awskms.Options)) (*awskms.DecryptOutput, error) {
	if err := f.check(in.KeyId); err != nil {
		return nil, err
	}
	return &awskms.DecryptOutput{Plaintext: reverse(in.CiphertextBlob), KeyId: in.KeyId}, nil
}

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *awskms.GenerateDataKeyInput, _ ...func(*awskms.Options)) (*awskms.GenerateDataKeyOutput, error) {
	if err := f.check(in.KeyId); err != nil {
		return nil, err
	}
	plain := bytes.Repeat([]byte{0x07}, DataKeySize)
	return &awskms.GenerateDataKeyOutput{Plaintext: plain, CiphertextBlob: reverse(plain), KeyId: in.KeyId}, nil
}

func (f *fakeKMS) CreateKey(_ context.Context, _ *awskms.CreateKeyInput, _ ...func(*awskms.Options)) (*awskms.CreateKeyOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	id := "key-" + string(rune('a'+len(f.createdIDs)))
	f.createdIDs = append(f.createdIDs, id)
	f.known[id] = true
	return &awskms.CreateKeyOutput{KeyMetadata: &types.KeyMetadata{KeyId: aws.String(id)}}, nil
}

func TestAWSProvider_RoundTrip(t *testing.T) {
	p := newAWSProviderWithClient(newFakeKMS("alias/nimbus"), "alias/nimbus")
	ctx := context.Background()

	ct, err := p.Encrypt(ctx, []byte("hello"), "")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if ct.KeyID != "alias/nimbus" {
		t.Errorf("expected key id 'alias/nimbus', got %q", ct.KeyID)
	}

	pt, err := p.Decrypt(ctx, ct.Blob, ct.KeyID)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(pt) != "hello" {
		t.Errorf("expected 'hello', got %q", pt)
	}
}

func TestAWSProvider_NotFoundMapsToErrKeyNotFound(t *testing.T) {
	p := newAWSProviderWithClient(newFakeKMS("alias/nimbus"), "alias/nimbus")

	_, err := p.Decrypt(context.Background(), []byte("x"), "alias/other")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Provider != "aws" || perr.Op != "decrypt" {
		t.Errorf("unexpected provider error: %#v", err)
	}
}

func TestAWSProvider_TransportErrorIsWrapped(t *testing.T) {
	fake := newFakeKMS("alias/nimbus")
	fake.failWith = errors.New("connection reset")
	p := newAWSProviderWithClient(fake, "alias/nimbus")

	_, err := p.GenerateDataKey(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, ErrKeyNotFound) {
		t.Error("transport errors must not map to ErrKeyNotFound")
	}
}

func TestAWSProvider_RotateKey(t *testing.T) {
	fake := newFakeKMS("alias/nimbus")
	p := newAWSProviderWithClient(fake, "alias/nimbus")
	ctx := context.Background()

	old, err := p.Encrypt(ctx, []byte("before"), "")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	newID, err := p.RotateKey(ctx, "")
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if newID != "key-a" || p.CurrentKeyID() != "key-a" {
		t.Errorf("expected current key 'key-a', got %q / %q", newID, p.CurrentKeyID())
	}

	if _, err := p.Decrypt(ctx, old.Blob, old.KeyID); err != nil {
		t.Errorf("old material not decryptable after rotation: %v", err)
	}

	dk, err := p.GenerateDataKey(ctx)
	if err != nil {
		t.Fatalf("generate data key failed: %v", err)
	}
	if dk.KeyID != "key-a" {
		t.Errorf("expected data key under 'key-a', got %q", dk.KeyID)
	}
}

func TestNewAWSProvider_RequiresKeyID(t *testing.T) {
	if _, err := NewAWSProvider(context.Background(), config.AWSKMSConfig{Region: "us-east-1"}); err == nil {
		t.Error("expected error without key id, got nil")
	}
}
