package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// ErrStartFailed is returned when the embedded broker cannot listen.
var ErrStartFailed = errors.New("broker: start failed")

// Config holds embedded broker settings.
type Config struct {
	// Address is the TCP listen address, e.g. ":1883".
	Address string

	// Logger receives broker diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Broker is an in-process MQTT broker for single-box installs and tests.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Broker struct {
	server  *mochi.Server
	address string

	closeOnce sync.Once
}

// Start creates the broker and begins accepting connections on cfg.Address.
// Every client is allowed; the broker is meant to bind to a trusted
// interface.
func Start(cfg Config) (*Broker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	server := mochi.New(&mochi.Options{
		Logger: logger,
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: cfg.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	if err := server.Serve(); err != nil {
		_ = server.Close()
		return nil, fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	return &Broker{server: server, address: cfg.Address}, nil
}

// Address returns the configured listen address.
func (b *Broker) Address() string {
	return b.address
}

// Clients returns the number of connected clients, reported by the
// metrics endpoint.
func (b *Broker) Clients() int {
	return b.server.Clients.Len()
}

// Close stops all listeners and disconnects clients.
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.server.Close()
	})
	return err
}
