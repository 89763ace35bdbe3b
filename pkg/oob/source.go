package oob

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriptionClosed is returned by Next after Close.
var ErrSubscriptionClosed = errors.New("oob: subscription closed")

// Message is a cross-context message as received by the opener.
type Message struct {
	// Origin is the sender's origin, "scheme://host[:port]".
	Origin string
	// Data is the message payload.
	Data string
}

// MessageSource delivers messages posted by trusted surfaces.
type MessageSource interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription receives messages from the moment it is created.
type Subscription interface {
	// Next blocks until a message arrives, ctx ends or the subscription closes.
	Next(ctx context.Context) (Message, error)
	// ReplyTo is the address the trusted surface should post to, or "" when
	// the surface already knows how to reach the opener.
	ReplyTo() string
	Close() error
}

const subscriptionBuffer = 16

// ChannelSource is an in-process MessageSource. Hosts that embed the trusted
// page (a webview, a test) call Post to deliver messages.
type ChannelSource struct {
	mu      sync.Mutex
	subs    map[*channelSub]struct{}
	replyTo string
}

// NewChannelSource returns a source whose subscriptions report replyTo.
func NewChannelSource(replyTo string) *ChannelSource {
	return &ChannelSource{
		subs:    make(map[*channelSub]struct{}),
		replyTo: replyTo,
	}
}

func (s *ChannelSource) Subscribe(ctx context.Context) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &channelSub{
		src:    s,
		ch:     make(chan Message, subscriptionBuffer),
		closed: make(chan struct{}),
	}

	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[*channelSub]struct{})
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	return sub, nil
}

// Post delivers a message to every live subscription and returns how many
// received it. Subscriptions with a full buffer drop the message.
func (s *ChannelSource) Post(origin, data string) int {
	msg := Message{Origin: origin, Data: data}

	s.mu.Lock()
	defer s.mu.Unlock()

	delivered := 0
	for sub := range s.subs {
		select {
		case sub.ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers reports the number of live subscriptions.
func (s *ChannelSource) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

type channelSub struct {
	src       *ChannelSource
	ch        chan Message
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *channelSub) Next(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.ch:
		return msg, nil
	case <-c.closed:
		return Message{}, ErrSubscriptionClosed
	case <-ctx.Done():
		return Message{}, context.Cause(ctx)
	}
}

func (c *channelSub) ReplyTo() string { return c.src.replyTo }

func (c *channelSub) Close() error {
	c.closeOnce.Do(func() {
		c.src.mu.Lock()
		delete(c.src.subs, c)
		c.src.mu.Unlock()
		close(c.closed)
	})
	return nil
}
