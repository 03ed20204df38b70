package convert

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/datagate/internal/schema"
)

type cipherStub struct {
	encrypt func(ctx context.Context, value, algorithm, secret string) (string, error)
	decrypt func(ctx context.Context, value, algorithm, secret string) (string, error)
}

func (c *cipherStub) Encrypt(ctx context.Context, value, algorithm, secret string) (string, error) {
	return c.encrypt(ctx, value, algorithm, secret)
}

func (c *cipherStub) Decrypt(ctx context.Context, value, algorithm, secret string) (string, error) {
	return c.decrypt(ctx, value, algorithm, secret)
}

type hasherStub struct {
	hash func(ctx context.Context, value, algorithm, secret string) (string, error)
}

func (h *hasherStub) Hash(ctx context.Context, value, algorithm, secret string) (string, error) {
	return h.hash(ctx, value, algorithm, secret)
}

type secretsStub struct {
	get func(ctx context.Context, path string) (string, error)
}

func (s *secretsStub) Get(ctx context.Context, path string) (string, error) {
	return s.get(ctx, path)
}

func TestApplyWriteStringConversions(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil)
	prop := &schema.Property{
		Name: "email",
		Type: schema.TypeString,
		Conversions: schema.Conversions{
			Trim:      true,
			Lowercase: true,
		},
	}

	got, present, err := p.ApplyWrite(context.Background(), prop, "  Alice@Example.COM ", true)
	if err != nil {
		t.Fatalf("ApplyWrite: %v", err)
	}
	if !present {
		t.Fatal("value should stay present")
	}
	if got != "alice@example.com" {
		t.Fatalf("got %q, want %q", got, "alice@example.com")
	}
}

func TestApplyWriteDefaultMaterializesAbsentField(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil)
	prop := &schema.Property{
		Name:        "status",
		Type:        schema.TypeString,
		Conversions: schema.Conversions{Default: "pending"},
	}

	got, present, err := p.ApplyWrite(context.Background(), prop, nil, false)
	if err != nil {
		t.Fatalf("ApplyWrite: %v", err)
	}
	if !present {
		t.Fatal("default should materialize the field")
	}
	if got != "pending" {
		t.Fatalf("got %v, want pending", got)
	}
}

func TestApplyWriteDefaultProviderWinsOverLiteral(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterDefaultProvider("now-ish", func(context.Context) (any, error) {
		return "provided", nil
	})
	p := NewPipeline(nil, nil, nil, reg)
	prop := &schema.Property{
		Name: "stamp",
		Type: schema.TypeString,
		Conversions: schema.Conversions{
			Default:         "literal",
			DefaultProvider: "now-ish",
		},
	}

	got, _, err := p.ApplyWrite(context.Background(), prop, nil, false)
	if err != nil {
		t.Fatalf("ApplyWrite: %v", err)
	}
	if got != "provided" {
		t.Fatalf("got %v, want provided", got)
	}
}

func TestApplyWriteAbsentFieldWithoutDefaultStaysAbsent(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil)
	prop := &schema.Property{Name: "nickname", Type: schema.TypeString}

	_, present, err := p.ApplyWrite(context.Background(), prop, nil, false)
	if err != nil {
		t.Fatalf("ApplyWrite: %v", err)
	}
	if present {
		t.Fatal("field without default must stay absent")
	}
}

func TestApplyWriteDateCoercion(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil)
	prop := &schema.Property{Name: "created_at", Type: schema.TypeDate}

	got, _, err := p.ApplyWrite(context.Background(), prop, "2026-03-01T12:30:00Z", true)
	if err != nil {
		t.Fatalf("ApplyWrite: %v", err)
	}
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("got %T, want time.Time", got)
	}
	want := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Fatalf("got %v, want %v", ts, want)
	}
}

func TestApplyWriteHashUsesSecretPath(t *testing.T) {
	var seenSecret string
	hasher := &hasherStub{hash: func(_ context.Context, value, algorithm, secret string) (string, error) {
		seenSecret = secret
		return algorithm + ":" + value, nil
	}}
	secrets := &secretsStub{get: func(_ context.Context, path string) (string, error) {
		return "material-for-" + path, nil
	}}
	p := NewPipeline(nil, hasher, secrets, nil)
	prop := &schema.Property{
		Name: "password",
		Type: schema.TypeString,
		Conversions: schema.Conversions{
			Hash:       "bcrypt",
			SecretPath: "auth/pepper",
		},
	}

	got, _, err := p.ApplyWrite(context.Background(), prop, "s3cret", true)
	if err != nil {
		t.Fatalf("ApplyWrite: %v", err)
	}
	if got != "bcrypt:s3cret" {
		t.Fatalf("got %v", got)
	}
	if seenSecret != "material-for-auth/pepper" {
		t.Fatalf("secret not resolved, got %q", seenSecret)
	}
}

func TestApplyWriteHashWithoutHasherFails(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil)
	prop := &schema.Property{
		Name:        "password",
		Type:        schema.TypeString,
		Conversions: schema.Conversions{Hash: "bcrypt"},
	}

	_, _, err := p.ApplyWrite(context.Background(), prop, "s3cret", true)
	if err == nil {
		t.Fatal("expected error when no hasher is configured")
	}
	if !strings.Contains(err.Error(), "no hasher") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyReadDecryptsWhenSendToUser(t *testing.T) {
	cipher := &cipherStub{
		decrypt: func(_ context.Context, value, _, _ string) (string, error) {
			return strings.TrimPrefix(value, "enc:"), nil
		},
	}
	p := NewPipeline(cipher, nil, nil, nil)
	prop := &schema.Property{
		Name: "ssn",
		Type: schema.TypeString,
		Conversions: schema.Conversions{
			Encrypt:    "aes-gcm",
			SendToUser: true,
		},
	}

	got, err := p.ApplyRead(context.Background(), prop, "enc:123-45-6789")
	if err != nil {
		t.Fatalf("ApplyRead: %v", err)
	}
	if got != "123-45-6789" {
		t.Fatalf("got %v", got)
	}
}

func TestApplyReadLeavesHiddenEncryptedValue(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil)
	prop := &schema.Property{
		Name:        "ssn",
		Type:        schema.TypeString,
		Conversions: schema.Conversions{Encrypt: "aes-gcm"},
	}

	got, err := p.ApplyRead(context.Background(), prop, "enc:opaque")
	if err != nil {
		t.Fatalf("ApplyRead: %v", err)
	}
	if got != "enc:opaque" {
		t.Fatalf("value should pass through untouched, got %v", got)
	}
}

func TestGenerateKeyKinds(t *testing.T) {
	for _, kind := range []schema.GeneratorKind{schema.GenUUID, schema.GenObjectID, schema.GenXID} {
		v, err := GenerateKey(kind)
		if err != nil {
			t.Fatalf("GenerateKey(%s): %v", kind, err)
		}
		if v == "" {
			t.Fatalf("GenerateKey(%s) returned empty value", kind)
		}
	}
	if _, err := GenerateKey(schema.GenNone); err == nil {
		t.Fatal("expected error for unknown generator")
	}
}
