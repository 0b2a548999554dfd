package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/circulate/stream"
	"github.com/xraph/circulate/wire"
)

// Subscribe subscribes to a stream topic and returns a channel of events.
// The channel is closed when the client disconnects or Unsubscribe is called.
//
// Topics follow the circulate stream convention:
//   - "task:<label>" — events for tasks carrying a specific label
//   - "activity"     — every scheduler transition
//   - "firehose"     — everything, including sync and engine lifecycle
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan *stream.Event, error) {
	// Send subscribe request.
	_, err := c.request(ctx, wire.MethodSubscribe, wire.SubscribeRequest{
		Topic: topic,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", topic, err)
	}

	ch := make(chan *stream.Event, 64)
	c.subs.Store(topic, ch)

	return ch, nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	_, err := c.request(ctx, wire.MethodUnsubscribe, wire.UnsubscribeRequest{
		Topic: topic,
	})

	// Close and remove the local channel regardless.
	if val, ok := c.subs.LoadAndDelete(topic); ok {
		ch := val.(chan *stream.Event) //nolint:errcheck // subs map always stores chan *stream.Event
		close(ch)
	}

	return err
}

// Watch subscribes to task events for a specific label and returns an
// event channel. This is a convenience method that subscribes to
// "task:<label>".
func (c *Client) Watch(ctx context.Context, label string) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.TaskTopic(label))
}

// Stats retrieves broker and connection statistics from the gateway.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.request(ctx, wire.MethodStats, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
