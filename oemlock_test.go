package oemlock

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kardianos/oemlock/channel"
	"github.com/kardianos/oemlock/events"
	"github.com/kardianos/oemlock/lockdef"
	"github.com/kardianos/oemlock/objstore"
	"github.com/kardianos/oemlock/record"
	"github.com/kardianos/oemlock/session"
	"github.com/kardianos/oemlock/ta"
)

func TestMain(m *testing.M) {
	os.Setenv("QUIC_GO_DISABLE_RECEIVE_BUFFER_WARNING", "1")
	os.Exit(m.Run())
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// countingStore counts every Open and Create reaching the store.
type countingStore struct {
	objstore.Store
	ops atomic.Int32
}

func (s *countingStore) Open(id []byte, flags objstore.Flag) (objstore.Object, error) {
	s.ops.Add(1)
	return s.Store.Open(id, flags)
}

func (s *countingStore) Create(id []byte, flags objstore.Flag, initial []byte) (objstore.Object, error) {
	s.ops.Add(1)
	return s.Store.Create(id, flags, initial)
}

// recordingPublisher keeps published events.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type fixture struct {
	lock   *Lock
	store  *objstore.MemStore
	events *recordingPublisher
	log    *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := objstore.NewMemStore(nil)
	reg := channel.NewRegistry()
	reg.Register(lockdef.AppID, ta.Factory(store, quiet))

	client := session.New(session.Options{Dial: session.LocalDialer(channel.Local(reg)), Logger: quiet})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { client.Disconnect() })

	var buf bytes.Buffer
	pub := &recordingPublisher{}
	return &fixture{
		lock: NewLock(LockOptions{
			Client: client,
			Events: pub,
			Logger: slog.New(slog.NewTextHandler(&buf, nil)),
		}),
		store:  store,
		events: pub,
		log:    &buf,
	}
}

type getter func(context.Context) (Status, bool)

func expect(t *testing.T, name string, get getter, wantStatus Status, wantValue bool) {
	t.Helper()
	st, v := get(context.Background())
	if st != wantStatus || (st == StatusOK && v != wantValue) {
		t.Fatalf("%s = (%s, %v), want (%s, %v)", name, st, v, wantStatus, wantValue)
	}
	if st != StatusOK && v {
		t.Fatalf("%s failed but returned true", name)
	}
}

func TestFreshRecordDefaults(t *testing.T) {
	f := newFixture(t)
	expect(t, "IsCarrierAllowed", f.lock.IsCarrierAllowed, StatusOK, true)
	expect(t, "IsDeviceAllowed", f.lock.IsDeviceAllowed, StatusOK, true)

	st, name := f.lock.Name(context.Background())
	if st != StatusOK || name != LockName {
		t.Fatalf("Name = (%s, %q)", st, name)
	}
}

func TestSetDevicePreservesCarrier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if st := f.lock.SetDeviceAllowed(ctx, false); st != StatusOK {
		t.Fatalf("SetDeviceAllowed = %s", st)
	}
	expect(t, "IsDeviceAllowed", f.lock.IsDeviceAllowed, StatusOK, false)
	expect(t, "IsCarrierAllowed", f.lock.IsCarrierAllowed, StatusOK, true)

	if st := f.lock.SetCarrierAllowed(ctx, false, nil); st != SecureOK {
		t.Fatalf("SetCarrierAllowed = %s", st)
	}
	expect(t, "IsCarrierAllowed", f.lock.IsCarrierAllowed, StatusOK, false)
	expect(t, "IsDeviceAllowed", f.lock.IsDeviceAllowed, StatusOK, false)

	want := []string{events.TopicDeviceChanged, events.TopicCarrierChanged}
	if got := f.events.list(); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestCorruptRecordFails(t *testing.T) {
	for _, offset := range []int{record.DataSize, record.Size - 1, record.CarrierOffset} {
		f := newFixture(t)
		raw, ok := f.store.Raw(ta.ObjectID)
		if !ok {
			t.Fatal("record not created")
		}
		raw[offset] ^= 0x5a
		f.store.SetRaw(ta.ObjectID, raw)

		expect(t, "IsCarrierAllowed", f.lock.IsCarrierAllowed, StatusFailed, false)
		expect(t, "IsDeviceAllowed", f.lock.IsDeviceAllowed, StatusFailed, false)
	}
}

func TestNotConnectedFailsFast(t *testing.T) {
	store := &countingStore{Store: objstore.NewMemStore(nil)}
	reg := channel.NewRegistry()
	reg.Register(lockdef.AppID, ta.Factory(store, quiet))

	var dials atomic.Int32
	client := session.New(session.Options{
		Dial: func(ctx context.Context) (channel.Channel, error) {
			dials.Add(1)
			return channel.Local(reg), nil
		},
		Logger: quiet,
	})
	pub := &recordingPublisher{}
	l := NewLock(LockOptions{Client: client, Events: pub, Logger: quiet})
	ctx := context.Background()

	if st, name := l.Name(ctx); st != StatusFailed || name != "" {
		t.Errorf("Name = %s, %q", st, name)
	}
	expect(t, "IsCarrierAllowed", l.IsCarrierAllowed, StatusFailed, false)
	expect(t, "IsDeviceAllowed", l.IsDeviceAllowed, StatusFailed, false)
	if st := l.SetCarrierAllowed(ctx, true, []byte{1}); st != SecureFailed {
		t.Errorf("SetCarrierAllowed = %s", st)
	}
	if st := l.SetDeviceAllowed(ctx, true); st != StatusFailed {
		t.Errorf("SetDeviceAllowed = %s", st)
	}

	if n := store.ops.Load(); n != 0 {
		t.Errorf("store operations = %d, want 0", n)
	}
	if n := dials.Load(); n != 0 {
		t.Errorf("dials = %d, want 0", n)
	}
	if len(pub.list()) != 0 {
		t.Errorf("events published without a connection: %v", pub.list())
	}

	var nilClient Lock
	nilClient.log = quiet
	expect(t, "IsCarrierAllowed on zero Lock", nilClient.IsCarrierAllowed, StatusFailed, false)
}

func TestSignatureIgnored(t *testing.T) {
	f := newFixture(t)
	if st := f.lock.SetCarrierAllowed(context.Background(), false, []byte("sig")); st != SecureOK {
		t.Fatalf("SetCarrierAllowed = %s", st)
	}
	expect(t, "IsCarrierAllowed", f.lock.IsCarrierAllowed, StatusOK, false)
	if !strings.Contains(f.log.String(), "signature provided but is not being used") {
		t.Fatalf("signature warning not logged: %q", f.log.String())
	}
}

func TestConcurrentFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if st := f.lock.SetDeviceAllowed(ctx, i%2 == 0); st != StatusOK {
				t.Errorf("SetDeviceAllowed = %s", st)
			}
		}()
		go func() {
			defer wg.Done()
			if st, _ := f.lock.IsCarrierAllowed(ctx); st != StatusOK {
				t.Errorf("IsCarrierAllowed = %s", st)
			}
		}()
	}
	wg.Wait()

	expect(t, "IsCarrierAllowed", f.lock.IsCarrierAllowed, StatusOK, true)
	raw, _ := f.store.Raw(ta.ObjectID)
	if _, err := record.Decode(raw); err != nil {
		t.Fatalf("record after concurrent writes: %v", err)
	}
}

func TestLockOverQUIC(t *testing.T) {
	newID := func(name string) tls.Certificate {
		data, err := channel.NewIdentity(name)
		if err != nil {
			t.Fatal(err)
		}
		id, err := channel.ParseIdentity(data)
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	serverID, clientID := newID("server"), newID("client")

	store, err := objstore.NewBoltStore(filepath.Join(t.TempDir(), "objects.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	reg := channel.NewRegistry()
	reg.Register(lockdef.AppID, ta.Factory(store, quiet))

	srv, err := channel.NewServer(channel.ServerOpt{
		Registry:       reg,
		Identity:       serverID,
		AllowedClients: []channel.FP{channel.FingerprintOf(clientID)},
		Logger:         quiet,
	})
	if err != nil {
		t.Fatal(err)
	}
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, pc)
	}()
	defer func() {
		cancel()
		<-done
	}()

	client := session.New(session.Options{
		Dial: func(ctx context.Context) (channel.Channel, error) {
			return channel.Dial(ctx, channel.ClientOpt{
				ServerAddr: pc.LocalAddr().String(),
				ServerFP:   channel.FingerprintOf(serverID),
				Identity:   clientID,
			})
		},
		Logger: quiet,
	})
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	if err := client.Connect(dialCtx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Disconnect()

	l := NewLock(LockOptions{Client: client, Logger: quiet})
	expect(t, "IsDeviceAllowed", l.IsDeviceAllowed, StatusOK, true)
	if st := l.SetDeviceAllowed(context.Background(), false); st != StatusOK {
		t.Fatalf("SetDeviceAllowed = %s", st)
	}
	expect(t, "IsDeviceAllowed", l.IsDeviceAllowed, StatusOK, false)
	expect(t, "IsCarrierAllowed", l.IsCarrierAllowed, StatusOK, true)
}

func TestMemory(t *testing.T) {
	tests := []struct {
		name       string
		property   PropertyFunc
		wantDevice bool
	}{
		{"no property func", nil, false},
		{"unset", func(string) (string, bool) { return "", false }, false},
		{"zero", func(string) (string, bool) { return "0", true }, false},
		{"one", func(string) (string, bool) { return "1", true }, true},
		{"not a number", func(string) (string, bool) { return "yes", true }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory(MemoryOptions{Property: tt.property, Logger: quiet})
			expect(t, "IsCarrierAllowed", m.IsCarrierAllowed, StatusOK, true)
			expect(t, "IsDeviceAllowed", m.IsDeviceAllowed, StatusOK, tt.wantDevice)
		})
	}
}

func TestMemoryReadsPropertyOnce(t *testing.T) {
	var calls int
	value := "1"
	m := NewMemory(MemoryOptions{
		Property: func(name string) (string, bool) {
			calls++
			if name != PropertyUnlockAllowed {
				t.Errorf("property %q", name)
			}
			return value, true
		},
		Logger: quiet,
	})
	ctx := context.Background()

	expect(t, "IsDeviceAllowed", m.IsDeviceAllowed, StatusOK, true)
	value = "0"
	expect(t, "IsDeviceAllowed", m.IsDeviceAllowed, StatusOK, true)
	if calls != 1 {
		t.Fatalf("property read %d times, want 1", calls)
	}

	if st := m.SetDeviceAllowed(ctx, false); st != StatusOK {
		t.Fatal(st)
	}
	expect(t, "IsDeviceAllowed", m.IsDeviceAllowed, StatusOK, false)
	if st := m.SetCarrierAllowed(ctx, false, []byte{0xaa}); st != SecureOK {
		t.Fatal(st)
	}
	expect(t, "IsCarrierAllowed", m.IsCarrierAllowed, StatusOK, false)

	st, name := m.Name(ctx)
	if st != StatusOK || name != MemoryName {
		t.Fatalf("Name = (%s, %q)", st, name)
	}
}

func TestServiceStrategy(t *testing.T) {
	f := newFixture(t)
	services := map[string]Service{
		"trusted": f.lock,
		"memory":  NewMemory(MemoryOptions{Logger: quiet}),
	}
	for name, svc := range services {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if st := svc.SetDeviceAllowed(ctx, true); st != StatusOK {
				t.Fatalf("SetDeviceAllowed = %s", st)
			}
			expect(t, "IsDeviceAllowed", svc.IsDeviceAllowed, StatusOK, true)
			if st := svc.SetCarrierAllowed(ctx, false, nil); st != SecureOK {
				t.Fatalf("SetCarrierAllowed = %s", st)
			}
			expect(t, "IsCarrierAllowed", svc.IsCarrierAllowed, StatusOK, false)
		})
	}
}
