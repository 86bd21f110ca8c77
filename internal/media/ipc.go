package media

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// ipcMaxLine bounds one IPC message. mpv lines are small; a runaway line
// means a corrupt socket.
const ipcMaxLine = 256 * 1024

// ipcRequest is one command sent to the player.
type ipcRequest struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// ipcMessage is one line read from the player. Responses carry request_id
// and error; asynchronous events carry event (and sometimes reason).
type ipcMessage struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Event     string          `json:"event"`
	Reason    string          `json:"reason"`
}

// ipcConn is one JSON IPC connection to a player process. Commands are
// matched to responses by request_id; events are delivered on a channel
// until the connection dies.
type ipcConn struct {
	sock net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan ipcMessage
	nextID    int64

	events chan ipcMessage
	closed chan struct{}
	once   sync.Once
}

// dialIPC connects to a player IPC socket.
func dialIPC(path string, timeout time.Duration) (*ipcConn, error) {
	sock, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing player socket: %w", err)
	}

	c := &ipcConn{
		sock:    sock,
		pending: make(map[int64]chan ipcMessage),
		events:  make(chan ipcMessage, 32),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *ipcConn) readLoop() {
	// events is closed here, by its only sender, after the loop exits
	defer func() {
		c.shutdown()
		close(c.events)
	}()

	scanner := bufio.NewScanner(c.sock)
	scanner.Buffer(make([]byte, 0, 4096), ipcMaxLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg ipcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}

		if msg.Event != "" {
			select {
			case c.events <- msg:
			default:
				// Event consumer stalled; drop rather than block playback
			}
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[msg.RequestID]
		if ok {
			delete(c.pending, msg.RequestID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// command sends one command and waits for its response.
func (c *ipcConn) command(ctx context.Context, args ...any) error {
	c.pendingMu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan ipcMessage, 1)
	c.pending[id] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(ipcRequest{Command: args, RequestID: id})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	_, err = c.sock.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != "" && msg.Error != "success" {
			return fmt.Errorf("%w: %s", ErrCommandFailed, msg.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrNotReady
	}
}

// Events returns the asynchronous event stream. The channel is closed when
// the connection dies.
func (c *ipcConn) Events() <-chan ipcMessage {
	return c.events
}

// shutdown unblocks the reader and any in-flight commands. Safe to call
// from any goroutine, any number of times.
func (c *ipcConn) shutdown() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.sock.Close()
	})
}
