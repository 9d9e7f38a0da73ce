package client

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hdt3213/redimux/config"
	"github.com/hdt3213/redimux/interface/redis"
	"github.com/hdt3213/redimux/lib/idgenerator"
	"github.com/hdt3213/redimux/lib/logger"
	"github.com/hdt3213/redimux/lib/sync/wait"
	"github.com/hdt3213/redimux/lib/utils"
	"github.com/hdt3213/redimux/redis/connection"
	"github.com/hdt3213/redimux/redis/parser"
	"github.com/hdt3213/redimux/redis/protocol"
	"github.com/panjf2000/ants/v2"
)

// CmdLine is an alias for [][]byte, represents a command line
type CmdLine = [][]byte

const (
	created = iota
	connecting
	running
	closed
)

const (
	chanSize     = 256
	maxWait      = 3 * time.Second
	teardownWait = 3 * time.Second
)

// pubsubSafe holds the commands the server accepts while subscribed
var pubsubSafe = map[string]bool{
	"SUBSCRIBE":    true,
	"PSUBSCRIBE":   true,
	"UNSUBSCRIBE":  true,
	"PUNSUBSCRIBE": true,
	"PING":         true,
	"QUIT":         true,
}

// subscriptionAdmin commands may produce one reply per channel, so their
// futures resolve on write completion and the acks go through the registry
var subscriptionAdmin = map[string]bool{
	"SUBSCRIBE":    true,
	"PSUBSCRIBE":   true,
	"UNSUBSCRIBE":  true,
	"PUNSUBSCRIBE": true,
}

// Client is a pipeline mode redis client over a single connection
type Client struct {
	transport redis.Transport
	cfg       *config.ClientProperties

	pendingReqs chan *request // wait to send
	waitingReqs chan *request // waiting response
	quit        chan struct{}
	writerDone  chan struct{}

	parser *parser.Parser
	ticker *time.Ticker
	idGen  *idgenerator.IDGenerator

	status  int32
	working *wait.Wait // its counter presents unfinished requests (pending and waiting)
	depth   int32      // pending queue length, the observable pipeline depth

	mu          sync.Mutex // guards mode state and the subscription registry
	multiState  bool
	channels    map[string]*Subscription
	patterns    map[string]*Subscription
	chanWaiters map[string][]*Future
	patWaiters  map[string][]*Future

	msgHandlers  []func(*Message)
	busPool      *ants.Pool
	onDisconnect []func()

	closeOnce sync.Once
}

// request is a message sends to redis server
type request struct {
	id           int64
	label        string
	args         [][]byte
	fut          *Future
	subscription bool // admin command, resolved as soon as the write completes
	endTx        bool // EXEC or DISCARD, leaves the transaction when its reply arrives
}

var errOrphanReply = errors.New("protocol violated: reply without outstanding request")

// MakeClient creates a client over a fresh tcp connection
func MakeClient(addr string) (*Client, error) {
	t, err := connection.Dial(addr)
	if err != nil {
		return nil, err
	}
	props := config.DefaultProperties()
	return makeClient(t, props), nil
}

// MakeClientWithConfig creates a client using the transport named by the config
func MakeClientWithConfig(props *config.ClientProperties) (*Client, error) {
	var t redis.Transport
	if props.Transport == "gnet" {
		t = connection.DialGnet(props.Address())
	} else {
		tcp, err := connection.Dial(props.Address())
		if err != nil {
			return nil, err
		}
		t = tcp
	}
	return makeClient(t, props), nil
}

// MakeClientWithTransport creates a client over a caller-supplied transport
func MakeClientWithTransport(t redis.Transport, props *config.ClientProperties) *Client {
	if props == nil {
		props = config.DefaultProperties()
	}
	return makeClient(t, props)
}

func makeClient(t redis.Transport, props *config.ClientProperties) *Client {
	return &Client{
		transport:   t,
		cfg:         props,
		pendingReqs: make(chan *request, chanSize),
		waitingReqs: make(chan *request, chanSize),
		quit:        make(chan struct{}),
		writerDone:  make(chan struct{}),
		parser:      parser.MakeParser(),
		idGen:       idgenerator.MakeGenerator(props.Address()),
		working:     &wait.Wait{},
		channels:    make(map[string]*Subscription),
		patterns:    make(map[string]*Subscription),
		chanWaiters: make(map[string][]*Future),
		patWaiters:  make(map[string][]*Future),
	}
}

// Connect starts the transport and the write goroutine, authenticates when
// configured, and moves the client into running state
func (c *Client) Connect() error {
	if !atomic.CompareAndSwapInt32(&c.status, created, connecting) {
		return errors.New("client already started")
	}
	if err := c.transport.Start(c); err != nil {
		atomic.StoreInt32(&c.status, closed)
		return err
	}
	go c.handleWrite()
	if c.cfg.Auth != "" {
		reply, err := c.Exec(utils.ToCmdLine("AUTH", c.cfg.Auth)).Get()
		if err != nil {
			c.teardown(err)
			return err
		}
		if !protocol.IsOKReply(reply) {
			err = errors.New("auth rejected: " + string(reply.ToBytes()))
			c.teardown(err)
			return err
		}
	}
	atomic.StoreInt32(&c.status, running)
	if c.cfg.Heartbeat > 0 {
		c.ticker = time.NewTicker(time.Duration(c.cfg.Heartbeat) * time.Second)
		go c.heartbeat()
	}
	return nil
}

// Close fails every outstanding request and releases the transport
func (c *Client) Close() {
	c.teardown(nil)
}

// Exec submits one command and returns its future. Mode rules are checked
// synchronously: a non-whitelisted command while subscribed, or MULTI inside
// a transaction, fails before any bytes are written.
func (c *Client) Exec(args [][]byte) *Future {
	fut := c.newFuture(label(args))
	if len(args) == 0 {
		fut.resolve(nil, &MisuseError{Reason: "empty command"})
		return fut
	}
	switch atomic.LoadInt32(&c.status) {
	case created:
		fut.resolve(nil, ErrClosed)
		return fut
	case closed:
		fut.resolve(nil, ErrDisconnected)
		return fut
	}
	name := strings.ToUpper(string(args[0]))
	c.mu.Lock()
	if len(c.channels)+len(c.patterns) > 0 && !pubsubSafe[name] {
		c.mu.Unlock()
		fut.resolve(nil, &MisuseError{Reason: "pubsub mode"})
		return fut
	}
	if c.multiState && name == "MULTI" {
		c.mu.Unlock()
		fut.resolve(nil, &MisuseError{Reason: "nested transaction"})
		return fut
	}
	if name == "MULTI" {
		c.multiState = true
	}
	c.mu.Unlock()

	req := &request{
		id:           fut.id,
		label:        fut.label,
		args:         args,
		fut:          fut,
		subscription: subscriptionAdmin[name],
		endTx:        name == "EXEC" || name == "DISCARD",
	}
	c.working.Add(1)
	select {
	case <-c.quit:
		c.working.Done()
		fut.resolve(nil, ErrDisconnected)
	default:
		select {
		case c.pendingReqs <- req:
		case <-c.quit:
			c.working.Done()
			fut.resolve(nil, ErrDisconnected)
		}
	}
	return fut
}

// Send submits one command and blocks for its reply. Errors come back as
// error replies, which suits thin command wrappers.
func (c *Client) Send(args [][]byte) redis.Reply {
	reply, err := c.Exec(args).Get()
	if err != nil {
		if reply != nil {
			return reply // server error replies carry their own payload
		}
		return protocol.MakeErrReply(err.Error())
	}
	return reply
}

// PipelineDepth is the number of written commands still waiting for a reply
func (c *Client) PipelineDepth() int {
	return int(atomic.LoadInt32(&c.depth))
}

// InMultiState tells whether the connection is inside MULTI/EXEC
func (c *Client) InMultiState() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.multiState
}

// OnDisconnect registers a hook fired once when the connection goes away
func (c *Client) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

func label(args [][]byte) string {
	if len(args) == 0 {
		return ""
	}
	return strings.ToUpper(string(args[0]))
}

func (c *Client) heartbeat() {
	for {
		select {
		case <-c.quit:
			return
		case <-c.ticker.C:
			c.doHeartbeat()
		}
	}
}

func (c *Client) doHeartbeat() {
	_, _ = c.Exec(utils.ToCmdLine("PING")).GetWithTimeout(maxWait)
}

func (c *Client) handleWrite() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.quit:
			return
		case req := <-c.pendingReqs:
			c.doRequest(req)
		}
	}
}

func (c *Client) doRequest(req *request) {
	re := protocol.MakeMultiBulkReply(req.args)
	if !req.subscription {
		// enqueue before writing so an early reply always finds its request
		select {
		case c.waitingReqs <- req:
			atomic.AddInt32(&c.depth, 1)
		case <-c.quit:
			req.fut.resolve(nil, ErrDisconnected)
			c.working.Done()
			return
		}
	}
	if err := c.transport.Write(re.ToBytes()); err != nil {
		logger.Errorf("write %s failed: %v", req.label, err)
		go c.teardown(err)
		return
	}
	if req.subscription {
		req.fut.resolve(protocol.MakeOkReply(), nil)
		c.working.Done()
	}
}

// OnRead feeds inbound bytes into the parser and dispatches every completed
// reply. Framing errors are fatal to the connection.
func (c *Client) OnRead(b []byte) {
	replies, err := c.parser.Feed(b)
	for _, reply := range replies {
		c.dispatch(reply)
	}
	if err != nil {
		logger.Errorf("framing error: %v", err)
		go c.teardown(err)
	}
}

// OnClosed implements redis.TransportSink
func (c *Client) OnClosed(err error) {
	if err != nil {
		logger.Errorf("connection error: %v", err)
	}
	go c.teardown(err)
}

func (c *Client) dispatch(reply redis.Reply) {
	if c.routePubSub(reply) {
		return
	}
	select {
	case req := <-c.waitingReqs:
		c.finishRequest(req, reply)
	default:
		logger.Errorf("reply without outstanding request: %s", string(reply.ToBytes()))
		go c.teardown(errOrphanReply)
	}
}

func (c *Client) finishRequest(req *request, reply redis.Reply) {
	atomic.AddInt32(&c.depth, -1)
	if req.endTx {
		c.mu.Lock()
		c.multiState = false
		c.mu.Unlock()
	}
	if errReply, ok := reply.(*protocol.StandardErrReply); ok {
		req.fut.resolve(reply, makeServerError(errReply.Status))
	} else {
		req.fut.resolve(reply, nil)
	}
	c.working.Done()
}

func (c *Client) teardown(cause error) {
	c.closeOnce.Do(func() {
		prev := atomic.SwapInt32(&c.status, closed)
		if c.ticker != nil {
			c.ticker.Stop()
		}
		close(c.quit)
		if c.transport != nil {
			_ = c.transport.Close()
		}
		if prev == created {
			// never connected, there is no writer goroutine to wait for
			c.sweepRequests()
		} else {
			c.drainRequests()
		}
		c.closeSubscriptions()
		c.working.WaitWithTimeout(teardownWait)
		c.sweepRequests()

		c.mu.Lock()
		handlers := c.onDisconnect
		pool := c.busPool
		c.busPool = nil
		c.mu.Unlock()
		if pool != nil {
			pool.Release()
		}
		for _, h := range handlers {
			h()
		}
		if cause != nil {
			logger.Infof("connection torn down: %v", cause)
		}
	})
}

// drainRequests fails everything queued until the writer goroutine exits
func (c *Client) drainRequests() {
	for {
		select {
		case req := <-c.waitingReqs:
			c.failRequest(req, true)
		case req := <-c.pendingReqs:
			c.failRequest(req, false)
		case <-c.writerDone:
			c.sweepRequests()
			return
		}
	}
}

// sweepRequests fails whatever is still queued, without blocking
func (c *Client) sweepRequests() {
	for {
		select {
		case req := <-c.waitingReqs:
			c.failRequest(req, true)
		case req := <-c.pendingReqs:
			c.failRequest(req, false)
		default:
			return
		}
	}
}

func (c *Client) failRequest(req *request, counted bool) {
	if counted {
		atomic.AddInt32(&c.depth, -1)
	}
	req.fut.resolve(nil, ErrDisconnected)
	c.working.Done()
}
