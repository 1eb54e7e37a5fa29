package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"veriflow.io/internal/compliance"
	"veriflow.io/internal/obs"
	"veriflow.io/internal/store/pg"
)

// Sender delivers one reminder over its channel.
type Sender interface {
	Send(ctx context.Context, rem compliance.Reminder) error
}

// logSender writes reminders to the structured log. Stands in for real
// email/SMS providers; swap per channel as integrations land.
type logSender struct{}

func (logSender) Send(ctx context.Context, rem compliance.Reminder) error {
	obs.LogEvent("info", "reminder_dispatched", map[string]any{
		"reminder_id": rem.ID,
		"tenant_id":   rem.TenantID,
		"record_id":   rem.RecordID,
		"channel":     string(rem.Channel),
		"message":     rem.Message,
	})
	return nil
}

func main() {
	obs.Init()
	obs.InitBuildInfo("veriflow-dispatcher", "0.3.0", "dev")
	var (
		interval  = flag.Duration("interval", time.Minute, "Poll interval for due reminders")
		batchSize = flag.Int("batch", 50, "Max reminders claimed per poll")
	)
	flag.Parse()

	dsn := os.Getenv("VERIFLOW_PG_DSN")
	if dsn == "" {
		log.Fatal("missing DSN: set VERIFLOW_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("dispatcher polling every %s, batch %d", *interval, *batchSize)
	run(ctx, store, logSender{}, *interval, *batchSize)
	log.Println("dispatcher stopped")
}

// run claims due reminders and hands them to the sender until ctx is
// cancelled. Claims lapse server-side, so a crash between Send and MarkSent
// means redelivery: delivery is at-least-once.
func run(ctx context.Context, svc compliance.Service, sender Sender, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		dispatchBatch(ctx, svc, sender, batchSize)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func dispatchBatch(ctx context.Context, svc compliance.Service, sender Sender, batchSize int) {
	reminders, err := svc.ClaimDueReminders(ctx, batchSize)
	if err != nil {
		log.Printf("claim reminders: %v", err)
		return
	}
	for _, rem := range reminders {
		if err := sender.Send(ctx, rem); err != nil {
			// Leave unclaimed-on-lapse to retry this one later.
			log.Printf("send reminder %s: %v", rem.ID, err)
			continue
		}
		if err := svc.MarkSent(ctx, rem.ID); err != nil {
			log.Printf("mark sent %s: %v", rem.ID, err)
			continue
		}
		obs.ReminderDispatched(string(rem.Channel))
	}
}
