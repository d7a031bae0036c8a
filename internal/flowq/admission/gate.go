// Package admission holds the policies the queue consults before
// accepting new work.
package admission

import (
	"context"
	"strings"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/internal/flowq/monitor"
	"github.com/ehsaniara/flowq/pkg/config"
	"github.com/ehsaniara/flowq/pkg/errors"
	"github.com/ehsaniara/flowq/pkg/logger"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

// HealthSource reports the current resource health.
//
//counterfeiter:generate . HealthSource
type HealthSource interface {
	Health() monitor.Health
}

// ResourceGate rejects admissions while the resource monitor reports a
// critical condition.
type ResourceGate struct {
	source  HealthSource
	enabled bool
	logger  *logger.Logger
}

func NewResourceGate(source HealthSource, cfg config.AdmissionConfig) *ResourceGate {
	return &ResourceGate{
		source:  source,
		enabled: cfg.RejectOnCritical && source != nil,
		logger:  logger.WithField("component", "admission"),
	}
}

func (g *ResourceGate) Allow(_ context.Context, projectID string, _ *domain.Plan) error {
	if !g.enabled {
		return nil
	}

	h := g.source.Health()
	if h.Status != monitor.HealthCritical {
		return nil
	}

	reason := "resource usage critical"
	if len(h.Reasons) > 0 {
		reason = strings.Join(h.Reasons, "; ")
	}
	g.logger.Warn("admission rejected", "projectId", projectID, "reason", reason)
	return errors.NewAdmissionError(projectID, reason)
}
