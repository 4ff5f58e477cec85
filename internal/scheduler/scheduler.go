package scheduler

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"TrancheBank/internal/bank"
	"TrancheBank/internal/model"
	"TrancheBank/internal/notifier"
	"TrancheBank/internal/recorder"

	"github.com/robfig/cron/v3"
)

const historyLimit = 10

// Scheduler manages the cron tasks that watch the pool. It only observes;
// settlement happens lazily inside bank operations.
type Scheduler struct {
	Cron     *cron.Cron
	Bank     *bank.Bank
	Notifier notifier.Notifier
	Recorder recorder.Recorder
	Ctx      context.Context
	// Refresh, if set, re-reads the bank state before every report and
	// command so that operations run by other processes show up.
	Refresh func() error

	mu   sync.Mutex
	last model.Phase
}

// NewScheduler creates a new Scheduler. The phase at construction time is the
// baseline; only later transitions are announced.
func NewScheduler(ctx context.Context, b *bank.Bank, n notifier.Notifier, rec recorder.Recorder) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Bank:     b,
		Notifier: n,
		Recorder: rec,
		Ctx:      ctx,
		last:     b.Phase(),
	}
}

// RegisterAll registers the phase watch and the status report.
func (s *Scheduler) RegisterAll(watchCron, reportCron string) error {
	if _, err := s.Cron.AddFunc(watchCron, s.Watch); err != nil {
		return fmt.Errorf("register watch task: %w", err)
	}
	if _, err := s.Cron.AddFunc(reportCron, s.Report); err != nil {
		return fmt.Errorf("register report task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Printf("[INFO] scheduler started, current phase %s", s.Bank.Phase())
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] scheduler stopped")
}

// Watch announces a phase or tranche change since the previous check.
func (s *Scheduler) Watch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Bank.Now()
	ph := s.Bank.Phase()
	if ph == s.last {
		return
	}
	from := s.last
	s.last = ph
	log.Printf("[INFO] phase changed: %s -> %s", from, ph)

	s.trySend(notifier.FormatPhaseChange(from, ph, now))
	if err := s.Recorder.RecordPhaseChange(&recorder.PhaseChangeEvent{From: from, To: ph, At: now}); err != nil {
		log.Printf("[ERROR] record phase change: %v", err)
	}
}

// Report posts the pool status.
func (s *Scheduler) Report() {
	log.Println("[INFO] running status report")
	s.refresh()
	st, err := s.Bank.Status(s.Ctx)
	if err != nil {
		log.Printf("[ERROR] status report: %v", err)
		s.trySend(fmt.Sprintf("❌ Status report failed: %v", err))
		return
	}
	s.trySend(notifier.FormatPoolStatus(st))
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText()
	}
	s.refresh()
	switch fields[0] {
	case "/status":
		st, err := s.Bank.Status(s.Ctx)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatPoolStatus(st)
	case "/participant":
		if len(fields) < 2 {
			return "Usage: /participant &lt;id&gt;"
		}
		p, err := s.Bank.Participant(fields[1])
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatParticipant(p)
	case "/schedule":
		return notifier.FormatSchedule(s.Bank.Config(), s.Bank.Schedule())
	case "/history":
		limit := historyLimit
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil && v > 0 {
				limit = v
			}
		}
		events, err := s.Recorder.History(limit)
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return formatHistory(events)
	default:
		return helpText()
	}
}

func formatHistory(events []recorder.Event) string {
	if len(events) == 0 {
		return "No events recorded."
	}
	var b strings.Builder
	b.WriteString("🧾 <b>Recent events</b>\n\n")
	for _, e := range events {
		b.WriteString(fmt.Sprintf("%s %s", e.Timestamp.Format("01-02 15:04"), e.Type))
		if e.Participant != "" {
			b.WriteString(" " + e.Participant)
		}
		if e.Amount != "" {
			b.WriteString(" " + e.Amount)
		}
		if e.Note != "" {
			b.WriteString(" (" + e.Note + ")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func helpText() string {
	return "Available commands:\n• /status\n• /participant &lt;id&gt;\n• /schedule\n• /history [n]"
}

// refresh keeps serving the last loaded state when the reload fails.
func (s *Scheduler) refresh() {
	if s.Refresh == nil {
		return
	}
	if err := s.Refresh(); err != nil {
		log.Printf("[WARN] reload bank state: %v", err)
	}
}

func (s *Scheduler) trySend(text string) {
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		log.Printf("[ERROR] send notification: %v", err)
	}
}
