// Package encryption provides artifact encryption backends selected by
// configuration type.
package encryption

import (
	"fmt"

	"pgdr-go/internal/config"
	"pgdr-go/internal/dr"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. A nil Encryptor (with nil error) means encryption is disabled.
func NewEncryptorFromConfig(cfg *config.EncryptionConfig) (dr.Encryptor, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg)
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// NewDecryptorFromConfig creates the matching Decryptor. A nil Decryptor
// (with nil error) means no identity is available; encrypted artifacts
// then get checksum-only verification and cannot be restored.
func NewDecryptorFromConfig(cfg *config.EncryptionConfig) (dr.Decryptor, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "age":
		if cfg.IdentityFile == "" {
			return nil, nil
		}
		// Loading is deferred: a passphrase-protected identity file must
		// not prompt during operations that never decrypt.
		return &lazyAgeDecryptor{file: cfg.IdentityFile}, nil
	case "test":
		return NewTestDecryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
