package events

import (
	"context"
	"encoding/json"

	"taskboard-api/domain"
)

const subscriberBuffer = 16

// Subscribe streams the events published for userID until ctx is done. The
// returned channel is closed when the subscription ends.
func (p *RedisPublisher) Subscribe(ctx context.Context, userID string) (<-chan domain.Event, error) {
	sub := p.client.Subscribe(ctx, p.Channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan domain.Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					// not one of ours
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
