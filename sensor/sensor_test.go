package sensor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, err := NewRandom(0, 1000)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		v, err := r.Read(ctx)
		require.NoError(t, err)
		assert.True(t, v >= 0 && v <= 1000, "v=%d", v)
	}
	one, err := NewRandom(7, 7)
	require.NoError(t, err)
	v, err := one.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)

	_, err = NewRandom(5, 1)
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Read(cancelled)
	assert.Equal(t, context.Canceled, err)
}

type fakeRegisters struct {
	input   []byte
	holding []byte
	err     error
	calls   int
}

func (f *fakeRegisters) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	f.calls++
	return f.input, f.err
}
func (f *fakeRegisters) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	f.calls++
	return f.holding, f.err
}

func TestModbus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := []struct {
		name    string
		config  ModbusConfig
		fake    fakeRegisters
		expect  int32
		wantErr bool
	}{
		{"input", ModbusConfig{Endpoint: "x:502"}, fakeRegisters{input: []byte{0x01, 0xf4}}, 500, false},
		{"negative", ModbusConfig{Endpoint: "x:502"}, fakeRegisters{input: []byte{0xff, 0x9c}}, -100, false},
		{"holding", ModbusConfig{Endpoint: "x:502", Holding: true}, fakeRegisters{holding: []byte{0x00, 0x2a}}, 42, false},
		{"short", ModbusConfig{Endpoint: "x:502"}, fakeRegisters{input: []byte{0x01}}, 0, true},
		{"error", ModbusConfig{Endpoint: "x:502"}, fakeRegisters{err: fmt.Errorf("exception")}, 0, true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			m, err := NewModbus(c.config)
			require.NoError(t, err)
			dials := 0
			fake := c.fake
			m.connect = func() (registerReader, error) { dials++; return &fake, nil }
			v, err := m.Read(ctx)
			if c.wantErr {
				require.Error(t, err)
				// failed connection is dropped and redialed on next read
				_, _ = m.Read(ctx)
				assert.Equal(t, 2, dials)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, v)
			_, _ = m.Read(ctx)
			assert.Equal(t, 1, dials)
			assert.Equal(t, 2, fake.calls)
		})
	}
}

func TestModbusConfig(t *testing.T) {
	t.Parallel()
	_, err := NewModbus(ModbusConfig{})
	assert.Error(t, err)

	m, err := NewModbus(ModbusConfig{Endpoint: "x:502"})
	require.NoError(t, err)
	m.connect = func() (registerReader, error) { return nil, fmt.Errorf("refused") }
	_, err = m.Read(context.Background())
	assert.EqualError(t, err, "refused")
	require.NoError(t, m.Close())
	_, err = m.Read(context.Background())
	assert.Equal(t, ErrClosed, err)
}
