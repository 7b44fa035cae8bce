package sensor

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/juju/errors"
)

type ModbusConfig struct {
	Endpoint string // host:port
	SlaveID  byte
	Register uint16
	Holding  bool // read holding register instead of input register
	Timeout  time.Duration
}

type registerReader interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// Modbus reads one 16-bit register as signed raw value.
// Connection is (re)opened lazily, dropped after any read error.
type Modbus struct {
	mu      sync.Mutex
	config  ModbusConfig
	handler *modbus.TCPClientHandler
	client  registerReader
	closed  bool

	connect func() (registerReader, error)
}

func NewModbus(c ModbusConfig) (*Modbus, error) {
	if c.Endpoint == "" {
		return nil, errors.NotValidf("sensor modbus endpoint required")
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	m := &Modbus{config: c}
	m.connect = m.dial
	return m, nil
}

func (m *Modbus) dial() (registerReader, error) {
	h := modbus.NewTCPClientHandler(m.config.Endpoint)
	h.Timeout = m.config.Timeout
	h.SlaveId = m.config.SlaveID
	if err := h.Connect(); err != nil {
		return nil, errors.Annotatef(err, "modbus connect endpoint=%s", m.config.Endpoint)
	}
	m.handler = h
	return modbus.NewClient(h), nil
}

func (m *Modbus) Read(ctx context.Context) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.client == nil {
		c, err := m.connect()
		if err != nil {
			return 0, err
		}
		m.client = c
	}

	var b []byte
	var err error
	if m.config.Holding {
		b, err = m.client.ReadHoldingRegisters(m.config.Register, 1)
	} else {
		b, err = m.client.ReadInputRegisters(m.config.Register, 1)
	}
	if err == nil && len(b) < 2 {
		err = errors.Errorf("short response len=%d", len(b))
	}
	if err != nil {
		m.drop()
		return 0, errors.Annotatef(err, "modbus read register=%d", m.config.Register)
	}
	return int32(int16(binary.BigEndian.Uint16(b))), nil
}

func (m *Modbus) drop() {
	if m.handler != nil {
		_ = m.handler.Close()
		m.handler = nil
	}
	m.client = nil
}

func (m *Modbus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.drop()
	return nil
}
