/*
scheduler.go - Background audit replay

PURPOSE:
  Periodically replays the audit log of every group against its balance
  rows and logs each pair that disagrees. Reconciliation never repairs
  anything; a discrepancy is an incident for a human.

DESIGN:
  - One background goroutine driven by a ticker
  - The first sweep runs immediately on Start
  - The most recent runs are kept in memory for the admin endpoint

CONFIGURATION:
  - CheckInterval: how often to sweep (LEDGER_RECONCILE_INTERVAL)
  - A zero interval leaves the scheduler disabled

USAGE:
  scheduler := NewReconciliationScheduler(engine, time.Hour, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual, one group)
  - ledger/reconcile.go: Replay
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/warp/pair-ledger/ledger"
)

// maxRuns bounds the in-memory run history.
const maxRuns = 20

// ReconciliationRun summarizes one sweep over every group.
type ReconciliationRun struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	GroupsChecked int
	PairsChecked  int
	// Inconsistent lists the groups whose replay reported discrepancies.
	Inconsistent []ledger.GroupID
	Error        string
}

// ReconciliationScheduler sweeps every group on a fixed interval.
type ReconciliationScheduler struct {
	Engine        *ledger.Engine
	CheckInterval time.Duration

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runsMu sync.Mutex
	runs   []ReconciliationRun
	sweep  sync.Mutex
}

// NewReconciliationScheduler creates a stopped scheduler.
func NewReconciliationScheduler(engine *ledger.Engine, interval time.Duration, logger *slog.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationScheduler{
		Engine:        engine,
		CheckInterval: interval,
		logger:        logger.With("component", "reconciler"),
	}
}

// Enabled reports whether Start will launch the background loop.
func (rs *ReconciliationScheduler) Enabled() bool {
	return rs.CheckInterval > 0
}

// Start begins the background loop. Calling it twice is a no-op.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled() {
		rs.logger.Info("reconciliation scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.logger.Info("reconciliation scheduler started", "interval", rs.CheckInterval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.logger.Info("reconciliation scheduler stopped")
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	rs.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow sweeps every group immediately and records the run.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) ReconciliationRun {
	rs.sweep.Lock()
	defer rs.sweep.Unlock()

	run := ReconciliationRun{StartedAt: time.Now().UTC()}
	reports, err := rs.Engine.ReconcileAll(ctx)
	for _, report := range reports {
		run.GroupsChecked++
		run.PairsChecked += report.PairsChecked
		if report.Consistent() {
			continue
		}
		run.Inconsistent = append(run.Inconsistent, report.GroupID)
		for _, d := range report.Discrepancies {
			rs.logger.Error("balance row disagrees with audit trail",
				"group_id", report.GroupID,
				"user_low", d.Key.Low,
				"user_high", d.Key.High,
				"stored", ledger.FormatMoney(d.Stored),
				"replayed", ledger.FormatMoney(d.Replayed),
				"detail", d.Detail)
		}
	}
	if err != nil {
		run.Error = err.Error()
		rs.logger.Warn("reconciliation sweep incomplete", "error", err)
	}
	run.FinishedAt = time.Now().UTC()

	rs.logger.Info("reconciliation sweep finished",
		"groups", run.GroupsChecked,
		"pairs", run.PairsChecked,
		"inconsistent", len(run.Inconsistent),
		"took", run.FinishedAt.Sub(run.StartedAt))

	rs.runsMu.Lock()
	rs.runs = append(rs.runs, run)
	if len(rs.runs) > maxRuns {
		rs.runs = rs.runs[len(rs.runs)-maxRuns:]
	}
	rs.runsMu.Unlock()
	return run
}

// Runs returns the recorded runs, newest first.
func (rs *ReconciliationScheduler) Runs() []ReconciliationRun {
	rs.runsMu.Lock()
	defer rs.runsMu.Unlock()
	out := make([]ReconciliationRun, len(rs.runs))
	for i, r := range rs.runs {
		out[len(rs.runs)-1-i] = r
	}
	return out
}

// NextRunTime returns when the next scheduled sweep will occur, or the zero
// time when the scheduler is not running.
func (rs *ReconciliationScheduler) NextRunTime() time.Time {
	rs.mu.Lock()
	running := rs.ticker != nil
	rs.mu.Unlock()
	if !running {
		return time.Time{}
	}
	rs.runsMu.Lock()
	defer rs.runsMu.Unlock()
	if len(rs.runs) == 0 {
		return time.Now().UTC()
	}
	return rs.runs[len(rs.runs)-1].StartedAt.Add(rs.CheckInterval)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// ListReconciliationRuns handles GET /api/admin/reconciliation.
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.Scheduler.Runs()
	resp := ReconciliationStatusDTO{
		Enabled:     h.Scheduler.Enabled(),
		Interval:    h.Scheduler.CheckInterval.String(),
		NextRunTime: formatTime(h.Scheduler.NextRunTime()),
		Runs:        make([]ReconciliationRunDTO, len(runs)),
	}
	for i, run := range runs {
		resp.Runs[i] = toReconciliationRunDTO(run)
	}
	writeJSON(w, http.StatusOK, resp)
}

// TriggerReconciliation handles POST /api/admin/reconciliation.
func (h *Handler) TriggerReconciliation(w http.ResponseWriter, r *http.Request) {
	run := h.Scheduler.RunNow(r.Context())
	writeJSON(w, http.StatusOK, toReconciliationRunDTO(run))
}
