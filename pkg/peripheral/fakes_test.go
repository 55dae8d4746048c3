package peripheral

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

type response struct {
	Dev       Device
	RequestID int
	Status    ble.ATTError
	Offset    int
	Value     []byte
}

type notification struct {
	Dev   Device
	Char  ble.UUID
	Value []byte
}

// recordingLink captures everything the service hands to the platform.
type recordingLink struct {
	mu            sync.Mutex
	responses     []response
	notifications []notification
	failNotify    map[Device]error
}

func newRecordingLink() *recordingLink {
	return &recordingLink{failNotify: map[Device]error{}}
}

func (l *recordingLink) SendResponse(dev Device, requestID int, status ble.ATTError, offset int, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.responses = append(l.responses, response{dev, requestID, status, offset, value})
	return nil
}

func (l *recordingLink) Notify(dev Device, char ble.UUID, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failNotify[dev]; err != nil {
		return err
	}
	l.notifications = append(l.notifications, notification{dev, char, value})
	return nil
}

func (l *recordingLink) lastResponse() response {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.responses) == 0 {
		return response{RequestID: -1}
	}
	return l.responses[len(l.responses)-1]
}

func (l *recordingLink) responseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.responses)
}

func (l *recordingLink) takeNotifications() []notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.notifications
	l.notifications = nil
	return out
}

// fakeServer opens a recordingLink and remembers the handler.
type fakeServer struct {
	link     *recordingLink
	handler  RequestHandler
	def      Definition
	openErr  error
	closeErr error
	closed   int
}

func newFakeServer() *fakeServer {
	return &fakeServer{link: newRecordingLink()}
}

func (f *fakeServer) OpenGattServer(def Definition, h RequestHandler) (Link, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.def = def
	f.handler = h
	return f.link, nil
}

func (f *fakeServer) CloseGattServer() error {
	f.closed++
	return f.closeErr
}

// MockAdapter is a testify mock of Adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Advertise(ctx context.Context, adv Advertisement) error {
	args := m.Called(ctx, adv)
	return args.Error(0)
}

func (m *MockAdapter) OpenGattServer(def Definition, h RequestHandler) (Link, error) {
	args := m.Called(def, h)
	link, _ := args.Get(0).(Link)
	return link, args.Error(1)
}

func (m *MockAdapter) CloseGattServer() error {
	return m.Called().Error(0)
}

func (m *MockAdapter) Release() error {
	return m.Called().Error(0)
}

// blockUntilDone makes a mocked Advertise behave like a healthy backend.
func blockUntilDone(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}

func callOrder(m *MockAdapter) []string {
	var out []string
	for _, c := range m.Calls {
		out = append(out, c.Method)
	}
	return out
}
