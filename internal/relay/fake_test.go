package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"nanabot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type sentMessage struct {
	Handle domain.DeliveryHandle
	Text   string
	As     domain.DisplayIdentity
}

// fakeGateway records every call in order. Error fields make the matching
// call fail.
type fakeGateway struct {
	mu sync.Mutex

	self      string
	webhooks  map[string][]domain.DeliveryHandle
	calls     []string
	sent      []sentMessage
	plain     map[string][]string
	nextID    int
	listDelay time.Duration
	listGate  chan struct{} // when set, ListWebhooks waits for it or ctx

	deleteErr error
	listErr   error
	createErr error
	sendErr   error
	blockDel  bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		self:     "bot",
		webhooks: make(map[string][]domain.DeliveryHandle),
		plain:    make(map[string][]string),
	}
}

func (f *fakeGateway) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeGateway) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGateway) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeGateway) SelfID() string { return f.self }

func (f *fakeGateway) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.record("delete")
	if f.blockDel {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.deleteErr
}

func (f *fakeGateway) ListWebhooks(ctx context.Context, channelID string) ([]domain.DeliveryHandle, error) {
	f.record("list")
	if f.listDelay > 0 {
		time.Sleep(f.listDelay)
	}
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DeliveryHandle(nil), f.webhooks[channelID]...), nil
}

func (f *fakeGateway) CreateWebhook(ctx context.Context, channelID, name string) (domain.DeliveryHandle, error) {
	f.record("create")
	if f.createErr != nil {
		return domain.DeliveryHandle{}, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	h := domain.DeliveryHandle{
		ID:        "wh" + strconv.Itoa(f.nextID),
		Token:     fmt.Sprintf("tok%d", f.nextID),
		ChannelID: channelID,
		Name:      name,
	}
	f.webhooks[channelID] = append(f.webhooks[channelID], h)
	return h, nil
}

func (f *fakeGateway) Send(ctx context.Context, h domain.DeliveryHandle, text string, as domain.DisplayIdentity) error {
	f.record("send")
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{Handle: h, Text: text, As: as})
	f.mu.Unlock()
	return nil
}

func (f *fakeGateway) SendPlain(ctx context.Context, channelID, text string) error {
	f.record("send_plain")
	f.mu.Lock()
	f.plain[channelID] = append(f.plain[channelID], text)
	f.mu.Unlock()
	return nil
}

func (f *fakeGateway) GetChannel(ctx context.Context, id string) (*domain.ChannelInfo, error) {
	return &domain.ChannelInfo{ID: id, Name: "nana"}, nil
}

func (f *fakeGateway) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}
