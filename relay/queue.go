package relay

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

const idlePollDelay = time.Second

// Run dequeues command envelopes from the queue until ctx is cancelled.
// Messages that fail to process are logged and deleted anyway: the queue has
// no dead-letter support and a poison message must not wedge the feed.
func (s *Service) Run(ctx context.Context, queue *azqueue.QueueClient) {
	for {
		if ctx.Err() != nil {
			return
		}
		resp, err := queue.DequeueMessage(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Error("dequeue command")
			sleep(ctx, idlePollDelay)
			continue
		}
		if len(resp.Messages) == 0 {
			sleep(ctx, idlePollDelay)
			continue
		}
		msg := resp.Messages[0]
		if msg.MessageText != nil {
			if err := s.Process(ctx, *msg.MessageText); err != nil {
				s.log.WithError(err).Error("process command")
			}
		}
		if msg.MessageID != nil && msg.PopReceipt != nil {
			if _, err := queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
				s.log.WithError(err).Error("delete command message")
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
