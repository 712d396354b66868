package postmark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "without server token",
			config: Config{
				AccountToken: "account",
				FromAddress:  "noreply@budgetbook.app",
			},
			wantErr: "server token is required",
		},
		{
			name: "without account token",
			config: Config{
				ServerToken: "server",
				FromAddress: "noreply@budgetbook.app",
			},
			wantErr: "account token is required",
		},
		{
			name: "without from address",
			config: Config{
				ServerToken:  "server",
				AccountToken: "account",
			},
			wantErr: "from address is required",
		},
		{
			name: "valid config",
			config: Config{
				ServerToken:  "server",
				AccountToken: "account",
				FromAddress:  "noreply@budgetbook.app",
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, sender)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, sender)
				assert.NotNil(t, sender.client)
			}
		})
	}
}
