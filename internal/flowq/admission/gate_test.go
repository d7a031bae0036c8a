package admission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/internal/flowq/monitor"
	"github.com/ehsaniara/flowq/internal/flowq/queue"
	"github.com/ehsaniara/flowq/pkg/config"
	"github.com/ehsaniara/flowq/pkg/errors"
)

type staticHealth monitor.Health

func (s staticHealth) Health() monitor.Health { return monitor.Health(s) }

func TestResourceGate(t *testing.T) {
	critical := staticHealth{Status: monitor.HealthCritical, Reasons: []string{"memory 97.0% > 95%"}}

	tests := []struct {
		name    string
		health  staticHealth
		enabled bool
		reject  bool
	}{
		{"healthy", staticHealth{Status: monitor.HealthHealthy}, true, false},
		{"warning", staticHealth{Status: monitor.HealthWarning}, true, false},
		{"unknown", staticHealth{Status: monitor.HealthUnknown}, true, false},
		{"critical", critical, true, true},
		{"critical but disabled", critical, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewResourceGate(tt.health, config.AdmissionConfig{RejectOnCritical: tt.enabled})
			err := gate.Allow(context.Background(), "p1", nil)
			if !tt.reject {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsAdmissionError(err))
			assert.ErrorIs(t, err, errors.ErrAdmissionRejected)
			assert.Contains(t, err.Error(), "memory 97.0%")
		})
	}
}

func TestResourceGate_NilSource(t *testing.T) {
	gate := NewResourceGate(nil, config.AdmissionConfig{RejectOnCritical: true})
	assert.NoError(t, gate.Allow(context.Background(), "p1", nil))
}

type pressureSampler struct{ memPercent float64 }

func (s pressureSampler) Sample(context.Context) (monitor.SystemUsage, monitor.ProcessUsage, error) {
	return monitor.SystemUsage{Memory: monitor.MemoryUsage{UsagePercent: s.memPercent}}, monitor.ProcessUsage{}, nil
}

func TestResourceGate_RejectsQueueAdmissionUnderMemoryPressure(t *testing.T) {
	mon := monitor.New(config.DefaultConfig.Monitoring,
		monitor.WithSampler(pressureSampler{memPercent: 97}),
		monitor.WithForceGC(func() {}))
	require.NoError(t, mon.Tick(context.Background()))

	m := queue.NewManager(config.DefaultConfig.Queue,
		queue.WithAdmissionPolicy(NewResourceGate(mon, config.DefaultConfig.Admission)))
	t.Cleanup(m.Close)

	plan := domain.Plan{
		Classification: domain.NewClassificationResult([]string{"Deploy"}, nil),
		Steps:          []domain.StepSpec{{Name: "Deploy"}},
	}
	_, err := m.Admit(context.Background(), "p1", "user-1", plan, queue.AdmitOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAdmissionRejected)
	assert.Empty(t, m.ListByProject("p1"))
}
