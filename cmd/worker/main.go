package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fretwise/fretwise/internal/assist"
	"github.com/fretwise/fretwise/internal/config"
	"github.com/fretwise/fretwise/internal/db"
	"github.com/fretwise/fretwise/internal/httpapi/handlers"
	"github.com/fretwise/fretwise/internal/ratelimit"
	"github.com/fretwise/fretwise/internal/song"
)

type jobMsg struct {
	JobID string `json:"job_id"`
}

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	repo := assist.NewRepo(gdb)

	// The worker runs jobs already admitted at enqueue time, so the limiter
	// here is a no-op table.
	svc := assist.NewService(
		repo,
		song.NewRepo(gdb),
		handlers.NewRegistry(cfg),
		ratelimit.NewMemoryLimiter(nil),
		assist.Options{
			Provider:   cfg.AIProvider,
			Model:      cfg.AIModel,
			WindowSize: cfg.ContextWindowSize,
			Deadline:   cfg.RelayDeadline,
		},
	)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.RabbitQueue + ".dlq",
	}); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m jobMsg
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, svc, repo, m.JobID); err != nil {
					log.Printf("worker=%d job=%s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleJob(ctx context.Context, svc *assist.Service, repo *assist.Repo, jobID string) error {
	_ = repo.UpdateJobStatusRunning(ctx, jobID)

	j, err := repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	start := time.Now()
	comp, err := svc.AnalyzeSong(ctx, j.UserID, j.SongID, assist.Focus(j.Focus))
	if err != nil {
		// the stored error is caller-safe; full detail stays in logs
		e := assist.Classify(err)
		log.Printf("worker: analysis failed job=%s kind=%s cost=%s err=%v", jobID, e.Kind, time.Since(start), err)
		_ = repo.MarkJobFailed(ctx, jobID, e.Message)
		return err
	}

	if err := repo.MarkJobSucceeded(ctx, jobID, comp.Content, comp.TokensUsed); err != nil {
		return err
	}

	if cost := time.Since(start); cost > 2*time.Second {
		log.Printf("worker: job_timing job=%s cost=%s", jobID, cost)
	}
	return nil
}
