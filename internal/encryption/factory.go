package encryption

import (
	"fmt"

	"drive-go/internal/config"
	"drive-go/internal/drive"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// Type "none" returns a nil Encryptor and snapshots are stored in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (drive.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
