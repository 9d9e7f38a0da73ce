package client

import (
	"strings"

	"github.com/hdt3213/redimux/interface/redis"
	"github.com/hdt3213/redimux/lib/logger"
	"github.com/hdt3213/redimux/lib/utils"
	"github.com/hdt3213/redimux/redis/protocol"
	"github.com/panjf2000/ants/v2"
)

const (
	subscriptionBuffer = 256
	busPoolSize        = 16
)

// Message is one pub/sub delivery. It holds no reference to the client, so
// retaining messages does not keep a closed connection alive.
type Message struct {
	Channel string
	Pattern string // set when delivered through a pattern subscription
	Payload []byte
}

// Subscription is the handle of one subscribed channel or pattern. Its
// message channel is closed when the subscription ends or the connection
// drops.
type Subscription struct {
	name     string
	pattern  bool
	messages chan *Message
	closed   chan struct{}
}

func makeSubscription(name string, pattern bool) *Subscription {
	return &Subscription{
		name:     name,
		pattern:  pattern,
		messages: make(chan *Message, subscriptionBuffer),
		closed:   make(chan struct{}),
	}
}

// Messages is the stream of deliveries, in server arrival order
func (s *Subscription) Messages() <-chan *Message {
	return s.messages
}

// Name returns the channel name or pattern
func (s *Subscription) Name() string {
	return s.name
}

// IsPattern tells whether the handle came from PSUBSCRIBE
func (s *Subscription) IsPattern() bool {
	return s.pattern
}

// close completes the message stream; callers hold the client mutex
func (s *Subscription) close() {
	select {
	case <-s.closed:
		return
	default:
		close(s.closed)
		close(s.messages)
	}
}

// SubsCount is the number of live channel and pattern subscriptions
func (c *Client) SubsCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels) + len(c.patterns)
}

// OnMessage registers a handler on the legacy fan-out bus, which receives
// every delivery regardless of channel. New code should range over the
// per-subscription Messages stream instead.
func (c *Client) OnMessage(handler func(*Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busPool == nil {
		pool, err := ants.NewPool(busPoolSize)
		if err != nil {
			logger.Errorf("message bus pool: %v", err)
		} else {
			c.busPool = pool
		}
	}
	c.msgHandlers = append(c.msgHandlers, handler)
}

// Subscribe subscribes the given channels and returns their handles after
// every acknowledgement arrived
func (c *Client) Subscribe(channels ...string) ([]*Subscription, error) {
	return c.subscribe("SUBSCRIBE", channels, false)
}

// PSubscribe subscribes the given patterns
func (c *Client) PSubscribe(patterns ...string) ([]*Subscription, error) {
	return c.subscribe("PSUBSCRIBE", patterns, true)
}

// Unsubscribe removes the given channel subscriptions, or every channel
// subscription when called without arguments. With arguments it returns
// after the matching acknowledgements; without, after the write.
func (c *Client) Unsubscribe(channels ...string) error {
	return c.unsubscribe("UNSUBSCRIBE", channels, false)
}

// PUnsubscribe removes pattern subscriptions
func (c *Client) PUnsubscribe(patterns ...string) error {
	return c.unsubscribe("PUNSUBSCRIBE", patterns, true)
}

func (c *Client) subscribe(cmd string, names []string, pattern bool) ([]*Subscription, error) {
	if len(names) == 0 {
		return nil, &MisuseError{Reason: "no channels given"}
	}
	waiters := c.addWaiters(cmd, names, pattern)
	if _, err := c.Exec(utils.ToCmdLine2(cmd, names...)).Get(); err != nil {
		c.removeWaiters(waiters, names, pattern)
		return nil, err
	}
	for _, w := range waiters {
		if _, err := w.Get(); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.channels
	if pattern {
		m = c.patterns
	}
	subs := make([]*Subscription, 0, len(names))
	for _, name := range names {
		if sub, ok := m[name]; ok {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (c *Client) unsubscribe(cmd string, names []string, pattern bool) error {
	waiters := c.addWaiters(cmd, names, pattern)
	if _, err := c.Exec(utils.ToCmdLine2(cmd, names...)).Get(); err != nil {
		c.removeWaiters(waiters, names, pattern)
		return err
	}
	for _, w := range waiters {
		if _, err := w.Get(); err != nil {
			return err
		}
	}
	return nil
}

// addWaiters registers one acknowledgement waiter per name, in order
func (c *Client) addWaiters(cmd string, names []string, pattern bool) []*Future {
	waiters := make([]*Future, 0, len(names))
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.chanWaiters
	if pattern {
		m = c.patWaiters
	}
	for _, name := range names {
		fut := c.newFuture(cmd + " " + name)
		waiters = append(waiters, fut)
		m[name] = append(m[name], fut)
	}
	return waiters
}

func (c *Client) removeWaiters(waiters []*Future, names []string, pattern bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.chanWaiters
	if pattern {
		m = c.patWaiters
	}
	drop := make(map[*Future]bool, len(waiters))
	for _, w := range waiters {
		drop[w] = true
	}
	for _, name := range names {
		kept := m[name][:0]
		for _, w := range m[name] {
			if !drop[w] {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(m, name)
		} else {
			m[name] = kept
		}
	}
}

// routePubSub recognises push frames and acknowledgements and routes them
// through the registry. It returns false for anything that belongs to the
// pending queue.
func (c *Client) routePubSub(reply redis.Reply) bool {
	arr, ok := reply.(*protocol.ArrayReply)
	if !ok || len(arr.Elements) < 3 || len(arr.Elements) > 4 {
		return false
	}
	kind, ok := asLowerString(arr.Elements[0])
	if !ok {
		return false
	}
	switch kind {
	case "subscribe", "psubscribe":
		if len(arr.Elements) != 3 {
			return false
		}
		name, ok := asString(arr.Elements[1])
		if !ok || !isInt(arr.Elements[2]) {
			return false
		}
		c.ackSubscribe(reply, name, kind == "psubscribe")
		return true
	case "unsubscribe", "punsubscribe":
		if len(arr.Elements) != 3 || !isInt(arr.Elements[2]) {
			return false
		}
		name, named := asString(arr.Elements[1])
		if !named {
			if _, isNull := arr.Elements[1].(*protocol.NullBulkReply); !isNull {
				return false
			}
		}
		c.ackUnsubscribe(reply, name, named, kind == "punsubscribe")
		return true
	case "message":
		if len(arr.Elements) != 3 || c.SubsCount() == 0 {
			return false
		}
		channel, ok := asString(arr.Elements[1])
		if !ok {
			return false
		}
		payload, ok := asBytes(arr.Elements[2])
		if !ok {
			return false
		}
		c.deliverMessage("", channel, payload)
		return true
	case "pmessage":
		if len(arr.Elements) != 4 || c.SubsCount() == 0 {
			return false
		}
		pattern, ok1 := asString(arr.Elements[1])
		channel, ok2 := asString(arr.Elements[2])
		payload, ok3 := asBytes(arr.Elements[3])
		if !ok1 || !ok2 || !ok3 {
			return false
		}
		c.deliverMessage(pattern, channel, payload)
		return true
	}
	return false
}

// ackSubscribe creates the handle on the first acknowledgement and wakes
// the matching waiter. Multi-channel commands are acknowledged one frame
// per channel, each routed independently.
func (c *Client) ackSubscribe(reply redis.Reply, name string, pattern bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, waiters := c.channels, c.chanWaiters
	if pattern {
		m, waiters = c.patterns, c.patWaiters
	}
	if _, ok := m[name]; !ok {
		m[name] = makeSubscription(name, pattern)
	}
	c.resolveWaiter(waiters, name, reply)
}

func (c *Client) ackUnsubscribe(reply redis.Reply, name string, named bool, pattern bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, waiters := c.channels, c.chanWaiters
	if pattern {
		m, waiters = c.patterns, c.patWaiters
	}
	if named {
		if sub, ok := m[name]; ok {
			delete(m, name)
			sub.close()
		}
		c.resolveWaiter(waiters, name, reply)
	}
	// the server-reported count is authoritative for leaving pub/sub mode
	if remaining, ok := arrCount(reply); ok && remaining == 0 {
		for n, sub := range m {
			delete(m, n)
			sub.close()
		}
	}
}

func (c *Client) resolveWaiter(waiters map[string][]*Future, name string, reply redis.Reply) {
	queue := waiters[name]
	if len(queue) == 0 {
		return
	}
	fut := queue[0]
	if len(queue) == 1 {
		delete(waiters, name)
	} else {
		waiters[name] = queue[1:]
	}
	fut.resolve(reply, nil)
}

func (c *Client) deliverMessage(pattern string, channel string, payload []byte) {
	msg := &Message{
		Channel: channel,
		Pattern: pattern,
		Payload: payload,
	}
	c.mu.Lock()
	var sub *Subscription
	var ok bool
	if pattern != "" {
		sub, ok = c.patterns[pattern]
	} else {
		sub, ok = c.channels[channel]
	}
	handlers := c.msgHandlers
	pool := c.busPool
	c.mu.Unlock()

	if !ok {
		logger.Errorf("message for unknown channel %s dropped", channel)
	} else {
		select {
		case sub.messages <- msg:
		default:
			logger.Errorf("subscription %s buffer full, message dropped", sub.name)
		}
	}
	if pool != nil {
		for _, h := range handlers {
			h := h
			if err := pool.Submit(func() { h(msg) }); err != nil {
				logger.Errorf("message bus submit: %v", err)
			}
		}
	}
}

// closeSubscriptions completes every handle and fails every waiter, used
// during teardown
func (c *Client) closeSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, sub := range c.channels {
		delete(c.channels, name)
		sub.close()
	}
	for name, sub := range c.patterns {
		delete(c.patterns, name)
		sub.close()
	}
	for name, queue := range c.chanWaiters {
		delete(c.chanWaiters, name)
		for _, fut := range queue {
			fut.resolve(nil, ErrDisconnected)
		}
	}
	for name, queue := range c.patWaiters {
		delete(c.patWaiters, name)
		for _, fut := range queue {
			fut.resolve(nil, ErrDisconnected)
		}
	}
	c.multiState = false
}

func asString(reply redis.Reply) (string, bool) {
	switch r := reply.(type) {
	case *protocol.BulkReply:
		return string(r.Arg), true
	case *protocol.StatusReply:
		return r.Status, true
	}
	return "", false
}

func asLowerString(reply redis.Reply) (string, bool) {
	s, ok := asString(reply)
	if !ok {
		return "", false
	}
	return strings.ToLower(s), true
}

func asBytes(reply redis.Reply) ([]byte, bool) {
	if r, ok := reply.(*protocol.BulkReply); ok {
		return r.Arg, true
	}
	return nil, false
}

func isInt(reply redis.Reply) bool {
	_, ok := reply.(*protocol.IntReply)
	return ok
}

// arrCount reads the trailing subscriber count of an acknowledgement frame
func arrCount(reply redis.Reply) (int64, bool) {
	arr, ok := reply.(*protocol.ArrayReply)
	if !ok || len(arr.Elements) != 3 {
		return 0, false
	}
	intReply, ok := arr.Elements[2].(*protocol.IntReply)
	if !ok {
		return 0, false
	}
	return intReply.Code, true
}
