package broker

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func startBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := Start(Config{Address: freeAddress(t)})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func connect(t *testing.T, b *Broker, id string) pahomqtt.Client {
	t.Helper()
	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s", b.Address())).
		SetClientID(id)
	c := pahomqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(5*time.Second) || tok.Error() != nil {
		t.Fatalf("connect: %v", tok.Error())
	}
	t.Cleanup(func() { c.Disconnect(100) })
	return c
}

func TestStart_AcceptsClients(t *testing.T) {
	b := startBroker(t)
	connect(t, b, "client-1")

	deadline := time.Now().Add(2 * time.Second)
	for b.Clients() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if b.Clients() < 1 {
		t.Errorf("Clients() = %d, want at least 1", b.Clients())
	}
}

func TestStart_AddressInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	_, err = Start(Config{Address: l.Addr().String()})
	if !errors.Is(err, ErrStartFailed) {
		t.Errorf("Start() error = %v, want ErrStartFailed", err)
	}
}

func TestRetainedMessageReachesLateSubscriber(t *testing.T) {
	b := startBroker(t)

	pub := connect(t, b, "publisher")
	tok := pub.Publish("ddc/display/0/input/state", 1, true, "HDMI")
	if !tok.WaitTimeout(2*time.Second) || tok.Error() != nil {
		t.Fatalf("Publish() error = %v", tok.Error())
	}

	c := connect(t, b, "late")
	got := make(chan string, 1)
	tok = c.Subscribe("ddc/display/+/input/state", 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		got <- string(m.Payload())
	})
	tok.WaitTimeout(2 * time.Second)

	select {
	case v := <-got:
		if v != "HDMI" {
			t.Errorf("payload = %q, want HDMI", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retained message not delivered")
	}
}

func TestCommandFanOut(t *testing.T) {
	b := startBroker(t)

	var (
		mu     sync.Mutex
		topics []string
	)
	done := make(chan struct{})
	sub := connect(t, b, "bridge")
	tok := sub.Subscribe("ddc/command/+", 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		mu.Lock()
		topics = append(topics, m.Topic())
		mu.Unlock()
		close(done)
	})
	if !tok.WaitTimeout(2*time.Second) || tok.Error() != nil {
		t.Fatalf("Subscribe() error = %v", tok.Error())
	}

	c := connect(t, b, "publisher")
	c.Publish("ddc/command/0:input", 1, false, "HDMI").WaitTimeout(2 * time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not called")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(topics) != 1 || topics[0] != "ddc/command/0:input" {
		t.Errorf("topics = %v", topics)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b, err := Start(Config{Address: freeAddress(t)})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
