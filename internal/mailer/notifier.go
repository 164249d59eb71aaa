package mailer

import (
	"context"
	"log"

	"roster/internal/metrics"
	"roster/internal/queue"
)

// JobType is the queue message type carrying a Message.
const JobType = "mail"

// Notifier sends verification and reset codes synchronously.
type Notifier struct {
	Sender Sender
}

func (n Notifier) SendVerificationCode(ctx context.Context, email, code string) error {
	return deliver(ctx, n.Sender, VerificationMessage(email, code))
}

func (n Notifier) SendPasswordReset(ctx context.Context, email, code string) error {
	return deliver(ctx, n.Sender, PasswordResetMessage(email, code))
}

// QueueNotifier hands codes to the worker through a queue. Errors only
// cover publishing; delivery failures are logged by the worker.
type QueueNotifier struct {
	Queue queue.Queue
}

func (n QueueNotifier) SendVerificationCode(ctx context.Context, email, code string) error {
	return n.publish(ctx, VerificationMessage(email, code))
}

func (n QueueNotifier) SendPasswordReset(ctx context.Context, email, code string) error {
	return n.publish(ctx, PasswordResetMessage(email, code))
}

func (n QueueNotifier) publish(ctx context.Context, msg Message) error {
	job, err := queue.NewMessage(JobType, msg)
	if err != nil {
		return err
	}
	return n.Queue.Publish(ctx, job)
}

// Run delivers mail jobs from q until ctx is done. Other message types are
// skipped.
func Run(ctx context.Context, q queue.Queue, sender Sender) error {
	jobs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for job := range jobs {
		if job.Type != JobType {
			log.Printf("mailer: skipping %q message", job.Type)
			continue
		}
		var msg Message
		if err := job.Decode(&msg); err != nil {
			log.Printf("mailer: malformed job: %v", err)
			continue
		}
		if err := deliver(ctx, sender, msg); err != nil {
			log.Printf("mailer: %s to %s failed: %v", msg.Kind, msg.To, err)
		}
	}
	return nil
}

func deliver(ctx context.Context, sender Sender, msg Message) error {
	err := sender.Send(ctx, msg)
	metrics.MailDeliveries.WithLabelValues(msg.Kind, metrics.Result(err)).Inc()
	return err
}
