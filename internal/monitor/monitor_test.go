package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateLoopback(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:7979", false},
		{"localhost:7979", false},
		{"[::1]:7979", false},
		{"0.0.0.0:7979", true},
		{"192.168.1.5:7979", true},
		{"example.com:7979", true},
		{"no-port", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateLoopback(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPublishWithoutViewers(t *testing.T) {
	m := New("127.0.0.1:0", nil)
	// No viewers connected; publishing must not panic or block.
	m.Publish(nil)
}
