package printer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/ltprint/internal/ble/protocol"
)

var (
	// ErrBusy is returned by Print while a session is active or an error
	// has not been read yet.
	ErrBusy = errors.New("printer: a print session is already active")
	// ErrClosed is returned by Print after Close.
	ErrClosed = errors.New("printer: controller closed")
	// ErrPrintFailed wraps the session message returned by Wait.
	ErrPrintFailed = errors.New("printer: print failed")
)

// Transport is the BLE side of the controller. Every method must return
// without blocking and must not call the event handler before returning;
// the outcome arrives later as an Event.
type Transport interface {
	SetEventHandler(handler func(Event))
	StartScan(timeout time.Duration)
	Connect(dev Device)
	DiscoverServices()
	OpenService(uuid string)
	EnableNotifications(charUUID string)
	WriteCharacteristic(charUUID string, data []byte)
	Disconnect()
	Release()
}

// Hooks are called after the state they describe has been applied, one
// at a time and in the order the changes happened. They run without the
// controller lock held and may call back into the Controller; changes made
// from inside a hook are delivered after that hook returns.
type Hooks struct {
	OnStateChanged func(State)
	OnError        func()
	OnPrintDone    func()
}

// Options configures the controller.
type Options struct {
	ScanTimeout    time.Duration // how long a scan runs (default 1s)
	ConnectTimeout time.Duration // limit on Connecting (default 3s)
	EventQueue     int           // buffered transport events (default 64)
	Hooks          Hooks
}

// DefaultOptions returns the timings the LetraTag has been used with.
func DefaultOptions() Options {
	return Options{
		ScanTimeout:    time.Second,
		ConnectTimeout: 3 * time.Second,
		EventQueue:     64,
	}
}

// Controller runs print sessions against one Transport. Only one session
// exists at a time. Transport events are applied in arrival order by a
// single goroutine; Print and ReadError apply their events directly. Each
// step, including issuing its commands, happens under one lock.
type Controller struct {
	transport Transport
	opts      Options

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	sess    Session
	timer   *time.Timer
	changed chan struct{} // closed and replaced on every state change

	hookQueue  []transition // changes not yet reported to hooks
	delivering bool         // a goroutine is draining hookQueue
}

// New creates a Controller and starts its event loop.
func New(t Transport, opts Options) *Controller {
	def := DefaultOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.EventQueue <= 0 {
		opts.EventQueue = def.EventQueue
	}

	c := &Controller{
		transport: t,
		opts:      opts,
		events:    make(chan Event, opts.EventQueue),
		done:      make(chan struct{}),
		changed:   make(chan struct{}),
	}
	t.SetEventHandler(c.post)

	c.wg.Add(1)
	go c.run()
	return c
}

// Print starts a session for r. It returns protocol.ErrInvalidRaster when
// r is not a whole number of lines and ErrBusy unless the controller is
// Idle; in both cases nothing changes.
func (c *Controller) Print(r protocol.Raster) error {
	header, body, err := protocol.Encode(r)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	if c.sess.Active() {
		state := c.sess.State
		c.mu.Unlock()
		slog.Warn("[PRINT] rejecting print, session active", "state", state)
		return ErrBusy
	}
	c.apply(printRequested{
		Lines:  r.Lines(),
		Header: header,
		Chunks: protocol.Chunk(body),
	})
	c.mu.Unlock()

	slog.Info("[PRINT] print accepted", "lines", r.Lines(), "body_bytes", len(body))
	c.notify()
	return nil
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.State
}

// ReadError returns and clears the last error message. If the session is
// in Error it returns to Idle. While a failed session is still waiting for
// its disconnect the message is returned but kept.
func (c *Controller) ReadError() string {
	c.mu.Lock()
	msg := c.sess.Err
	c.apply(errorRead{})
	c.mu.Unlock()

	c.notify()
	return msg
}

// Wait blocks until no session is active. It returns nil when the last
// session finished, or an error wrapping ErrPrintFailed with the session
// message, which is consumed as if by ReadError.
func (c *Controller) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		state, changed := c.sess.State, c.changed
		c.mu.Unlock()

		switch state {
		case Idle:
			return nil
		case Error:
			return fmt.Errorf("%w: %s", ErrPrintFailed, c.ReadError())
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		}
	}
}

// Close stops the event loop. A device that is still linked is asked to
// disconnect and its handle is released.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		c.mu.Lock()
		defer c.mu.Unlock()
		c.stopTimer()
		if c.sess.HasDevice {
			slog.Warn("[PRINT] closing with active session", "state", c.sess.State)
			if c.sess.LinkUp {
				c.transport.Disconnect()
			}
			c.transport.Release()
		}
	})
	return nil
}

// post queues a transport or timer event for the loop.
func (c *Controller) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

// dispatch applies one event and fires the resulting hooks.
func (c *Controller) dispatch(ev Event) {
	c.mu.Lock()
	c.apply(ev)
	c.mu.Unlock()
	c.notify()
}

// transition is one observed state change, queued for the hooks.
type transition struct {
	from, to State
}

// apply runs Step, issues its commands and queues any state change for
// the hooks. Caller must hold mu.
func (c *Controller) apply(ev Event) {
	prev := c.sess
	next, cmds := Step(prev, ev)
	c.sess = next

	for _, cmd := range cmds {
		c.exec(cmd)
	}

	if prev.State == next.State {
		return
	}

	close(c.changed)
	c.changed = make(chan struct{})

	slog.Debug("[PRINT] state changed", "session", next.ID, "from", prev.State, "to", next.State)
	if next.State == Error {
		slog.Error("[PRINT] session failed", "session", next.ID, "kind", next.Kind, "error", next.Err)
	}
	c.hookQueue = append(c.hookQueue, transition{from: prev.State, to: next.State})
}

func (c *Controller) exec(cmd Command) {
	switch cmd := cmd.(type) {
	case StartScan:
		c.transport.StartScan(c.opts.ScanTimeout)
	case ConnectDevice:
		slog.Info("[PRINT] connecting", "name", cmd.Device.Name, "address", cmd.Device.Address)
		c.transport.Connect(cmd.Device)
	case DiscoverServices:
		c.transport.DiscoverServices()
	case OpenService:
		c.transport.OpenService(cmd.UUID)
	case EnableNotifications:
		c.transport.EnableNotifications(cmd.CharUUID)
	case WriteCharacteristic:
		c.transport.WriteCharacteristic(cmd.CharUUID, cmd.Data)
	case DisconnectDevice:
		c.transport.Disconnect()
	case ReleaseDevice:
		c.transport.Release()
	case ArmConnectTimer:
		c.stopTimer()
		id := cmd.Session
		c.timer = time.AfterFunc(c.opts.ConnectTimeout, func() {
			c.post(ConnectTimeout{Session: id})
		})
	case DisarmConnectTimer:
		c.stopTimer()
	default:
		slog.Warn("[PRINT] unknown command", "command", fmt.Sprintf("%T", cmd))
	}
}

// stopTimer disarms the connect timer. Caller must hold mu.
func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// notify drains the hook queue. Only one goroutine drains at a time; a
// caller that finds another one draining leaves its changes to it.
func (c *Controller) notify() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true

	h := c.opts.Hooks
	for len(c.hookQueue) > 0 {
		tr := c.hookQueue[0]
		c.hookQueue = c.hookQueue[1:]
		c.mu.Unlock()

		if h.OnStateChanged != nil {
			h.OnStateChanged(tr.to)
		}
		switch tr.to {
		case Error:
			if h.OnError != nil {
				h.OnError()
			}
		case Printing:
			slog.Info("[PRINT] data sent, printing")
			if h.OnPrintDone != nil {
				h.OnPrintDone()
			}
		}
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}
