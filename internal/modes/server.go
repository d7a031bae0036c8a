package modes

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/ehsaniara/flowq/internal/flowq/admission"
	"github.com/ehsaniara/flowq/internal/flowq/classifier"
	"github.com/ehsaniara/flowq/internal/flowq/dispatch"
	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/internal/flowq/events"
	"github.com/ehsaniara/flowq/internal/flowq/executor"
	"github.com/ehsaniara/flowq/internal/flowq/monitor"
	"github.com/ehsaniara/flowq/internal/flowq/queue"
	"github.com/ehsaniara/flowq/internal/flowq/server"
	"github.com/ehsaniara/flowq/internal/flowq/store"
	"github.com/ehsaniara/flowq/pkg/config"
	"github.com/ehsaniara/flowq/pkg/logger"
)

const mirrorBuffer = 1024

// Daemon holds every long-lived component of `flowq serve`.
type Daemon struct {
	Config     *config.Config
	Bus        *events.Bus
	Journal    *events.Journal
	Classifier *classifier.Classifier
	Executors  *executor.Registry
	Mirror     store.Mirror
	Queue      *queue.Manager
	Monitor    *monitor.Monitor
	Dispatcher *dispatch.Dispatcher
	Health     *server.HealthService

	grpcServer *grpc.Server
	addr       net.Addr
	cancel     context.CancelFunc
	log        *logger.Logger
}

// NewDaemon builds and wires the components without starting them.
func NewDaemon(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	d := &Daemon{
		Config:     cfg,
		Bus:        events.NewBus(cfg.Events.BufferSize),
		Classifier: classifier.New(),
		Executors:  executor.NewRegistry(),
		log:        logger.WithField("mode", "server"),
	}

	if cfg.Events.JournalPath != "" {
		journal, err := events.OpenJournal(cfg.Events.JournalPath)
		if err != nil {
			return nil, err
		}
		if err := journal.Attach(d.Bus); err != nil {
			_ = journal.Close()
			return nil, err
		}
		d.Journal = journal
	}

	mirror, err := store.NewMirror(ctx, cfg.Store)
	if err != nil {
		d.closeSinks()
		return nil, fmt.Errorf("failed to create %s store mirror: %w", cfg.Store.Backend, err)
	}
	d.Mirror = mirror

	// the monitor and the queue reference each other through narrow
	// interfaces: admission reads monitor health, the monitor reads queue stats
	stats := &lazyStats{}
	d.Monitor = monitor.New(cfg.Monitoring,
		monitor.WithPublisher(d.Bus),
		monitor.WithWorkflowStats(stats),
	)

	opts := []queue.Option{
		queue.WithPublisher(d.Bus),
		queue.WithClassifier(d.Classifier),
		queue.WithAdmissionPolicy(admission.NewResourceGate(d.Monitor, cfg.Admission)),
	}
	if mirror != nil {
		opts = append(opts, queue.WithMirror(mirror, mirrorBuffer))
	}
	d.Queue = queue.NewManager(cfg.Queue, opts...)
	stats.source = d.Queue

	d.Executors.SetFallback(executor.NewCommandExecutor(os.Stdout))
	runner := dispatch.NewRunner(d.Queue, d.Executors, cfg.Queue)
	d.Dispatcher = dispatch.NewDispatcher(d.Queue, runner, cfg.Queue.Workers)
	d.Health = server.NewHealthService(d.Monitor)

	return d, nil
}

// Start launches monitoring, dispatching, the health watcher and the gRPC
// endpoint.
func (d *Daemon) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.Monitor.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start resource monitor: %w", err)
	}
	d.Dispatcher.Start(runCtx)
	go d.Health.Watch(runCtx, d.Config.Monitoring.Interval)

	grpcServer, addr, err := server.StartGRPCServer(d.Config, d.Health)
	if err != nil {
		d.Dispatcher.Stop()
		d.Monitor.Stop()
		cancel()
		return fmt.Errorf("failed to start gRPC server: %w", err)
	}
	d.grpcServer = grpcServer
	d.addr = addr

	d.log.Info("server started successfully", "address", addr.String(),
		"workers", d.Config.Queue.Workers, "store", d.Config.Store.Backend)
	return nil
}

// Addr is the bound gRPC address; nil before Start.
func (d *Daemon) Addr() net.Addr {
	return d.addr
}

// Shutdown stops accepting work, drains the dispatcher and flushes sinks.
func (d *Daemon) Shutdown(timeout time.Duration) {
	if d.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			d.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(timeout):
			d.log.Warn("graceful gRPC stop timed out, forcing")
			d.grpcServer.Stop()
		}
	}

	d.Dispatcher.Stop()
	if d.Monitor.IsRunning() {
		d.Monitor.Stop()
	}
	if d.cancel != nil {
		d.cancel()
	}

	d.Queue.Close()
	if d.Mirror != nil {
		if err := d.Mirror.Close(); err != nil {
			d.log.Error("error closing store mirror", "error", err)
		}
	}
	d.closeSinks()
	d.log.Info("server stopped")
}

func (d *Daemon) closeSinks() {
	if d.Journal != nil {
		if err := d.Journal.Close(); err != nil {
			d.log.Error("error closing event journal", "error", err)
		}
	}
	if err := d.Bus.Close(); err != nil {
		d.log.Debug("error closing event bus", "error", err)
	}
}

// RunServer starts the daemon and blocks until SIGINT or SIGTERM.
func RunServer(cfg *config.Config) error {
	log := logger.WithField("mode", "server")
	log.Info("starting flowq server",
		"address", cfg.GetServerAddress(),
		"workers", cfg.Queue.Workers,
		"maxRunningPerProject", cfg.Queue.MaxRunningPerProject)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := NewDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		d.Shutdown(cfg.Server.ShutdownTimeout)
		return err
	}

	<-ctx.Done()
	log.Info("received shutdown signal")
	d.Shutdown(cfg.Server.ShutdownTimeout)
	return nil
}

// lazyStats lets the monitor be built before the queue it reads from.
type lazyStats struct {
	source monitor.WorkflowStatsProvider
}

func (l *lazyStats) WorkflowStats() domain.WorkflowStats {
	if l.source == nil {
		return domain.WorkflowStats{}
	}
	return l.source.WorkflowStats()
}
