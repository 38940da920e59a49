package encryption

import (
	"testing"

	"drive-go/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		wantNil bool
		wantErr bool
	}{
		{name: "default is age", typ: ""},
		{name: "age", typ: "age"},
		{name: "test", typ: "test"},
		{name: "none stores plaintext", typ: "none", wantNil: true},
		{name: "unknown", typ: "rot13", wantNil: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: tt.typ})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("NewEncryptorFromConfig() = %v, wantNil %v", got, tt.wantNil)
			}
		})
	}
}
