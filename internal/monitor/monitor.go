// Package monitor serves a local dashboard over the coordination state: task
// pool counts, agent telemetry, and Prometheus metrics. State changes are
// picked up through filesystem notifications rather than polling.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"omc/internal/logging"
	"omc/internal/state"
	"omc/internal/swarm"
	"omc/internal/tracker"
)

var logger = logging.NewComponentLogger("monitor")

// Status is the dashboard payload.
type Status struct {
	ProjectPath        string                 `json:"project_path"`
	Swarm              *swarm.Summary         `json:"swarm,omitempty"`
	AgentCounts        map[string]int         `json:"agent_counts"`
	AgentTypes         map[string]int         `json:"agent_types"`
	ParallelEfficiency int                    `json:"parallel_efficiency"`
	Interventions      []tracker.Intervention `json:"interventions,omitempty"`
	RefreshedAt        string                 `json:"refreshed_at"`
}

// Server owns the dashboard HTTP endpoints and the state watcher.
type Server struct {
	cwd      string
	registry *prometheus.Registry

	taskGauge       *prometheus.GaugeVec
	agentGauge      *prometheus.GaugeVec
	efficiencyGauge prometheus.Gauge
	refreshCounter  prometheus.Counter

	mu     sync.RWMutex
	status Status
}

// New creates a monitor for one working directory.
func New(cwd string) *Server {
	s := &Server{
		cwd:      cwd,
		registry: prometheus.NewRegistry(),
		taskGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "omc_tasks",
			Help: "Task pool tasks by status.",
		}, []string{"status"}),
		agentGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "omc_agents",
			Help: "Tracked subagents by status.",
		}, []string{"status"}),
		efficiencyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "omc_parallel_efficiency",
			Help: "Percentage of running agents that are not stale.",
		}),
		refreshCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omc_state_refreshes_total",
			Help: "Dashboard refreshes triggered by state changes.",
		}),
	}
	s.registry.MustRegister(s.taskGauge, s.agentGauge, s.efficiencyGauge, s.refreshCounter)
	s.refresh()
	return s
}

// Router builds the HTTP surface.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/status", func(c *gin.Context) {
		s.mu.RLock()
		status := s.status
		s.mu.RUnlock()
		c.JSON(http.StatusOK, status)
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return r
}

// Start serves the dashboard until ctx is cancelled, refreshing on any write
// under the state directory.
func (s *Server) Start(ctx context.Context, addr string) error {
	if _, err := state.EnsureDir(s.cwd); err != nil {
		return err
	}

	srv := &http.Server{Addr: addr, Handler: s.Router()}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("monitor listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return s.watch(ctx)
	})
	return g.Wait()
}

// watch refreshes the cached status whenever the state directory changes.
func (s *Server) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(state.Dir(s.cwd)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.refresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("state watch: %v", err)
		}
	}
}

// refresh rebuilds the cached status from disk and updates the metrics.
func (s *Server) refresh() {
	now := time.Now()
	status := Status{
		ProjectPath: s.cwd,
		RefreshedAt: now.UTC().Format(time.RFC3339),
	}

	if summary, err := swarm.ReadSummary(s.cwd); err == nil {
		status.Swarm = &summary
		s.taskGauge.WithLabelValues("pending").Set(float64(summary.TasksPending))
		s.taskGauge.WithLabelValues("claimed").Set(float64(summary.TasksClaimed))
		s.taskGauge.WithLabelValues("done").Set(float64(summary.TasksDone))
		s.taskGauge.WithLabelValues("failed").Set(float64(summary.TasksFailed))
	}

	doc := tracker.LoadDocument(s.cwd)
	status.AgentCounts = doc.StatusCounts()
	status.AgentTypes = doc.TypeBreakdown()
	status.ParallelEfficiency = doc.ParallelEfficiency(now)
	status.Interventions = doc.SuggestInterventions(now)

	for st, n := range status.AgentCounts {
		s.agentGauge.WithLabelValues(st).Set(float64(n))
	}
	s.efficiencyGauge.Set(float64(status.ParallelEfficiency))
	s.refreshCounter.Inc()

	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}
