package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ryuqq/fileflow/config"
)

func TestEnabledWorkers(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  []string
	}{
		{
			name: "none enabled",
		},
		{
			name:  "outbox publisher only",
			modes: []config.ServiceMode{config.ServiceModeOutboxPublisher},
			want:  []string{"outbox publisher"},
		},
		{
			name:  "reconciler and listener",
			modes: []config.ServiceMode{config.ServiceModeSessionReconciler, config.ServiceModeExpirationListener},
			want:  []string{"session reconciler", "expiration listener"},
		},
		{
			name: "all enabled",
			modes: []config.ServiceMode{
				config.ServiceModeOutboxPublisher,
				config.ServiceModeReaper,
				config.ServiceModeSessionReconciler,
				config.ServiceModeExpirationListener,
			},
			want: []string{"outbox publisher", "reaper", "session reconciler", "expiration listener"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			var names []string
			for _, w := range enabledWorkers(ServiceContainer{}, enabled) {
				names = append(names, w.name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestRunServicesValidation(t *testing.T) {
	assert.Error(t, RunServices(nil))
	assert.Error(t, RunServices(&RunOptions{}))
}

func TestNewServicesRequiresDeps(t *testing.T) {
	_, err := NewServices(nil)
	assert.Error(t, err)
}

func TestGetEnabledServices(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		assert.Empty(t, GetEnabledServices(nil))
	})

	t.Run("default config enables every service", func(t *testing.T) {
		cfg := &config.AppConfig{Services: "outbox-publisher,reaper,session-reconciler,expiration-listener"}
		assert.Len(t, GetEnabledServices(cfg), 4)
	})

	t.Run("invalid services yield empty list", func(t *testing.T) {
		cfg := &config.AppConfig{Services: "bogus"}
		assert.Empty(t, GetEnabledServices(cfg))
	})
}
