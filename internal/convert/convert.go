// Package convert applies schema property conversions on the way into and
// out of storage, and hosts the named-strategy registries for user-supplied
// converters, default providers, validators and version generators.
package convert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/datagate/internal/schema"
)

// Cipher encrypts and decrypts field values. Supplied by the caller; the
// engine never implements cryptography itself.
type Cipher interface {
	Encrypt(ctx context.Context, value, algorithm, secret string) (string, error)
	Decrypt(ctx context.Context, value, algorithm, secret string) (string, error)
}

// Hasher produces one-way hashes of field values.
type Hasher interface {
	Hash(ctx context.Context, value, algorithm, secret string) (string, error)
}

// SecretStore resolves secret material by path.
type SecretStore interface {
	Get(ctx context.Context, path string) (string, error)
}

// Pipeline applies property conversions. Zero-value collaborators are
// allowed; encryption/hashing conversions then fail loudly instead of
// writing plaintext.
type Pipeline struct {
	cipher     Cipher
	hasher     Hasher
	secrets    SecretStore
	strategies *Registry
}

// NewPipeline builds a conversion pipeline. Any collaborator may be nil.
func NewPipeline(cipher Cipher, hasher Hasher, secrets SecretStore, strategies *Registry) *Pipeline {
	if strategies == nil {
		strategies = NewRegistry()
	}
	return &Pipeline{cipher: cipher, hasher: hasher, secrets: secrets, strategies: strategies}
}

// Strategies exposes the registry for registration at startup.
func (p *Pipeline) Strategies() *Registry { return p.strategies }

// ApplyWrite converts a value on its way into storage. present reports
// whether the payload carried the field at all; the returned bool reports
// whether the field should be written (a default may materialize it).
func (p *Pipeline) ApplyWrite(
	ctx context.Context, prop *schema.Property, value any, present bool,
) (any, bool, error) {
	conv := prop.Conversions

	if !present || value == nil {
		switch {
		case conv.DefaultProvider != "":
			provider, err := p.strategies.DefaultProvider(conv.DefaultProvider)
			if err != nil {
				return nil, false, err
			}
			v, err := provider(ctx)
			if err != nil {
				return nil, false, fmt.Errorf("default provider %q: %w", conv.DefaultProvider, err)
			}
			value, present = v, true
		case conv.Default != nil:
			value, present = conv.Default, true
		default:
			return value, present, nil
		}
	}

	if s, ok := value.(string); ok {
		if conv.Trim {
			s = strings.TrimSpace(s)
		}
		if conv.Lowercase {
			s = strings.ToLower(s)
		}
		if conv.Uppercase {
			s = strings.ToUpper(s)
		}
		value = s
	}

	if prop.Type == schema.TypeDate {
		coerced, err := CoerceDate(value)
		if err != nil {
			return nil, false, fmt.Errorf("field %q: %w", prop.Name, err)
		}
		value = coerced
	}

	if conv.Hash != "" {
		hashed, err := p.hashValue(ctx, prop, value)
		if err != nil {
			return nil, false, err
		}
		value = hashed
	} else if conv.Encrypt != "" {
		encrypted, err := p.encryptValue(ctx, prop, value)
		if err != nil {
			return nil, false, err
		}
		value = encrypted
	}

	if conv.Converter != "" {
		converter, err := p.strategies.Converter(conv.Converter)
		if err != nil {
			return nil, false, err
		}
		converted, err := converter(ctx, value)
		if err != nil {
			return nil, false, fmt.Errorf("converter %q on %q: %w", conv.Converter, prop.Name, err)
		}
		value = converted
	}

	return value, present, nil
}

// ApplyRead converts a stored value before it is returned to the caller:
// encrypted fields flagged for user delivery are decrypted.
func (p *Pipeline) ApplyRead(ctx context.Context, prop *schema.Property, value any) (any, error) {
	conv := prop.Conversions
	if conv.Encrypt == "" || !conv.SendToUser {
		return value, nil
	}
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	if p.cipher == nil {
		return nil, fmt.Errorf("field %q is encrypted but no cipher is configured", prop.Name)
	}
	secret, err := p.secret(ctx, conv.SecretPath)
	if err != nil {
		return nil, err
	}
	plain, err := p.cipher.Decrypt(ctx, s, conv.Encrypt, secret)
	if err != nil {
		return nil, fmt.Errorf("decrypt %q: %w", prop.Name, err)
	}
	return plain, nil
}

// CoerceFilterValue aligns a filter value with the property type so string
// inputs can match stored dates/numbers.
func (p *Pipeline) CoerceFilterValue(prop *schema.Property, value any) any {
	if prop.Type == schema.TypeDate {
		if coerced, err := CoerceDate(value); err == nil {
			return coerced
		}
	}
	return value
}

func (p *Pipeline) hashValue(ctx context.Context, prop *schema.Property, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	if p.hasher == nil {
		return nil, fmt.Errorf("field %q requires hashing but no hasher is configured", prop.Name)
	}
	secret, err := p.secret(ctx, prop.Conversions.SecretPath)
	if err != nil {
		return nil, err
	}
	hashed, err := p.hasher.Hash(ctx, s, prop.Conversions.Hash, secret)
	if err != nil {
		return nil, fmt.Errorf("hash %q: %w", prop.Name, err)
	}
	return hashed, nil
}

func (p *Pipeline) encryptValue(ctx context.Context, prop *schema.Property, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	if p.cipher == nil {
		return nil, fmt.Errorf("field %q requires encryption but no cipher is configured", prop.Name)
	}
	secret, err := p.secret(ctx, prop.Conversions.SecretPath)
	if err != nil {
		return nil, err
	}
	encrypted, err := p.cipher.Encrypt(ctx, s, prop.Conversions.Encrypt, secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt %q: %w", prop.Name, err)
	}
	return encrypted, nil
}

func (p *Pipeline) secret(ctx context.Context, path string) (string, error) {
	if path == "" || p.secrets == nil {
		return "", nil
	}
	secret, err := p.secrets.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("secret %q: %w", path, err)
	}
	return secret, nil
}

// CoerceDate parses common date inputs into time.Time.
func CoerceDate(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as date", v)
	case int64:
		return time.UnixMilli(v), nil
	case float64:
		return time.UnixMilli(int64(v)), nil
	default:
		return value, nil
	}
}
