package modbusnet

import (
	"context"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"

	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
)

// threadConn records the OS threads its port is opened, used and closed on
type threadConn struct {
	net.Conn
	mu      sync.Mutex
	threads map[int]bool
}

func (c *threadConn) record() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[syscall.Gettid()] = true
}

func (c *threadConn) Read(p []byte) (int, error) {
	c.record()
	return c.Conn.Read(p)
}

func (c *threadConn) Write(p []byte) (int, error) {
	c.record()
	return c.Conn.Write(p)
}

func (c *threadConn) Close() error {
	c.record()
	return c.Conn.Close()
}

func (c *threadConn) threadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.threads)
}

func TestEventLoopSerialPortOwnedByOneThread(t *testing.T) {
	cfg := newDefaultConfig()
	cfg.linkType = LinkSerial
	cfg.headless = true
	cfg.Device = "/dev/ttyFAKE"
	loop := newEventLoopController(*cfg, zerolog.Nop())

	client, server := net.Pipe()
	go answerRTU(server)
	port := &threadConn{Conn: client, threads: map[int]bool{}}
	loop.connect = func(ctx context.Context) (io.ReadWriteCloser, error) {
		port.record()
		return port, nil
	}

	worker := newSerialWorker()
	defer worker.stop()
	ctrl := &pinnedController{ctrl: loop, worker: worker}
	ctx := context.Background()

	assert.NilError(t, ctrl.Open(ctx))
	for i := 0; i < 3; i++ {
		words, err := ctrl.ReadRegisters(ctx, 7, ReadHoldingRegister, 3, 2)
		assert.NilError(t, err)
		assert.DeepEqual(t, words, []uint16{3, 4})
	}
	assert.NilError(t, ctrl.Close())
	assert.Assert(t, !ctrl.IsOpen())
	assert.Equal(t, port.threadCount(), 1)
}

func TestEventLoopOpenError(t *testing.T) {
	cfg := newDefaultConfig()
	cfg.linkType = LinkSerial
	loop := newEventLoopController(*cfg, zerolog.Nop())
	loop.connect = func(ctx context.Context) (io.ReadWriteCloser, error) {
		return nil, io.ErrClosedPipe
	}

	assert.ErrorIs(t, loop.Open(context.Background()), io.ErrClosedPipe)
	assert.Assert(t, !loop.IsOpen())
	assert.NilError(t, loop.Close())
}
