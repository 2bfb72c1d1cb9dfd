package mirror

import (
	"context"
	"path/filepath"
	"testing"

	"hoard-go/internal/config"
)

func TestNewMirrorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.MirrorConfig
		wantErr bool
		wantNil bool
	}{
		{name: "disabled", cfg: config.MirrorConfig{}, wantNil: true},
		{name: "memory mirror", cfg: config.MirrorConfig{Type: "memory"}},
		{name: "filesystem mirror", cfg: config.MirrorConfig{Type: "filesystem", Root: filepath.Join(t.TempDir(), "m")}},
		{name: "filesystem without root", cfg: config.MirrorConfig{Type: "filesystem"}, wantErr: true, wantNil: true},
		{name: "s3 without bucket", cfg: config.MirrorConfig{Type: "s3"}, wantErr: true, wantNil: true},
		{name: "unknown mirror type", cfg: config.MirrorConfig{Type: "ftp"}, wantErr: true, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewMirrorFromConfig(context.Background(), tt.cfg)

			if (err != nil) != tt.wantErr {
				t.Errorf("NewMirrorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if (got == nil) != tt.wantNil {
				t.Errorf("NewMirrorFromConfig() returned nil = %v, wantNil %v", got == nil, tt.wantNil)
			}

			if !tt.wantErr && got != nil {
				if err := got.ValidateSetup(context.Background()); err != nil {
					t.Errorf("ValidateSetup() error = %v", err)
				}
			}
		})
	}
}
