package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/storefront/pkg/repository"
	"go.uber.org/zap"
)

// Recorder accepts audit entries without blocking the caller.
type Recorder interface {
	Record(entry *repository.AuditLog)
}

// Sink persists audit entries. *repository.MongoRepository satisfies it.
type Sink interface {
	CreateAuditLog(ctx context.Context, log *repository.AuditLog) error
}

type Nop struct{}

func (Nop) Record(*repository.AuditLog) {}

// Dispatcher hands entries to a single actor that writes them to the sink one
// at a time, so slow audit storage never holds up a request.
type Dispatcher struct {
	system  *actor.ActorSystem
	pid     *actor.PID
	service string
}

type writerActor struct {
	sink    Sink
	logger  *zap.Logger
	timeout time.Duration
}

func (a *writerActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *repository.AuditLog:
		wctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.sink.CreateAuditLog(wctx, msg); err != nil {
			a.logger.Error("Failed to write audit log",
				zap.String("action", msg.Action),
				zap.String("entity_id", msg.EntityID),
				zap.Error(err))
		}

	case *actor.Started:
		a.logger.Info("Audit actor started")

	case *actor.Stopped:
		a.logger.Info("Audit actor stopped")
	}
}

func NewDispatcher(service string, sink Sink, logger *zap.Logger) (*Dispatcher, error) {
	system := actor.NewActorSystem()

	props := actor.PropsFromProducer(func() actor.Actor {
		return &writerActor{sink: sink, logger: logger.Named("audit-actor"), timeout: 5 * time.Second}
	})
	pid, err := system.Root.SpawnNamed(props, "audit-writer")
	if err != nil {
		return nil, fmt.Errorf("failed to spawn audit actor: %w", err)
	}

	return &Dispatcher{system: system, pid: pid, service: service}, nil
}

func (d *Dispatcher) Record(entry *repository.AuditLog) {
	if entry.Service == "" {
		entry.Service = d.service
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	d.system.Root.Send(d.pid, entry)
}

// Close waits for queued entries to be written, then stops the actor.
func (d *Dispatcher) Close() error {
	return d.system.Root.PoisonFuture(d.pid).Wait()
}
