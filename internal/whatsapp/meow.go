package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// accountMarker tags a whatsmeow store device with the owning account so the
// device survives restarts and can be found again.
func accountMarker(accountID int64) string {
	return fmt.Sprintf("wa_account:%d", accountID)
}

// MeowFactory builds whatsmeow-backed clients sharing one sqlstore container.
type MeowFactory struct {
	container *sqlstore.Container
}

// NewMeowFactory opens (and migrates) the whatsmeow device store.
func NewMeowFactory(ctx context.Context, driver, dsn string) (*MeowFactory, error) {
	container, err := sqlstore.New(ctx, driver, dsn, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open whatsmeow device store")
	}
	return &MeowFactory{container: container}, nil
}

// NewClient returns the ClientFactory wired into the Service.
func (f *MeowFactory) NewClient(accountID int64, sink EventSink) (Client, error) {
	dev, err := f.deviceFor(context.Background(), accountID)
	if err != nil {
		return nil, err
	}
	return &meowClient{accountID: accountID, sink: sink, container: f.container, device: dev}, nil
}

// deviceFor finds the stored device tagged for this account, or provisions a
// fresh one.
func (f *MeowFactory) deviceFor(ctx context.Context, accountID int64) (*store.Device, error) {
	devices, err := f.container.GetAllDevices(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list whatsmeow devices")
	}
	marker := accountMarker(accountID)
	for _, d := range devices {
		if d != nil && d.BusinessName == marker {
			return d, nil
		}
	}
	dev := f.container.NewDevice()
	dev.BusinessName = marker
	return dev, nil
}

// DeleteDevice drops the persisted device for an account, forcing a fresh
// pairing on the next connect.
func (f *MeowFactory) DeleteDevice(ctx context.Context, accountID int64) error {
	devices, err := f.container.GetAllDevices(ctx)
	if err != nil {
		return errors.Wrap(err, "list whatsmeow devices")
	}
	marker := accountMarker(accountID)
	for _, d := range devices {
		if d != nil && d.BusinessName == marker {
			if err := f.container.DeleteDevice(ctx, d); err != nil {
				return errors.Wrapf(err, "delete whatsmeow device for account %d", accountID)
			}
		}
	}
	return nil
}

// meowClient adapts one whatsmeow client to the supervisor's Client surface,
// translating whatsmeow's open event stream into the closed Event set.
type meowClient struct {
	accountID int64
	sink      EventSink
	container *sqlstore.Container
	device    *store.Device

	mu      sync.Mutex
	client  *whatsmeow.Client
	handler uint32
}

func (m *meowClient) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil && m.client.IsConnected() {
		return nil
	}
	if m.client == nil {
		m.client = whatsmeow.NewClient(m.device, nil)
		m.handler = m.client.AddEventHandler(m.onEvent)
	}

	paired := m.device.ID != nil
	if !paired {
		// Fresh pairing: the QR channel must be requested before Connect.
		qrChan, err := m.client.GetQRChannel(ctx)
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			return errors.Wrapf(err, "qr channel for account %d", m.accountID)
		}
		if err == nil {
			go m.pumpQR(qrChan)
		}
	}
	if err := m.client.Connect(); err != nil {
		return errors.Wrapf(err, "whatsmeow connect for account %d", m.accountID)
	}
	return nil
}

// pumpQR relays pairing codes until the channel closes. Closure means the
// pairing finished one way or another; terminal outcomes arrive as items.
func (m *meowClient) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			m.sink(EvPairingIssued{Code: item.Code})
		case "success":
			// PairSuccess handles the transition.
		case "timeout":
			m.sink(EvDisconnected{Reason: "pairing window expired"})
		case "err-client-outdated":
			m.sink(EvAuthFailure{Reason: "client version rejected by server"})
		default:
			zap.L().Debug("whatsapp: qr channel item",
				zap.Int64("account_id", m.accountID), zap.String("event", item.Event))
		}
	}
}

func (m *meowClient) onEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		// Persist the paired device immediately so a crash between pairing
		// and the next Connect does not lose the session.
		if err := m.container.PutDevice(context.Background(), m.device); err != nil {
			zap.L().Warn("whatsapp: persisting paired device failed",
				zap.Int64("account_id", m.accountID), zap.Error(err))
		}
		m.sink(EvAuthenticated{})
	case *events.Connected:
		phone, pushName := "", ""
		if m.device.ID != nil {
			phone = m.device.ID.User
		}
		pushName = m.device.PushName
		m.sink(EvReady{Phone: phone, PushName: pushName})
	case *events.LoggedOut:
		m.sink(EvAuthFailure{Reason: fmt.Sprintf("logged out by server: %s", e.Reason)})
	case *events.StreamReplaced:
		m.sink(EvAuthFailure{Reason: "stream replaced by another session"})
	case *events.Disconnected:
		m.sink(EvDisconnected{Reason: "connection closed"})
	case *events.StreamError:
		m.sink(EvDisconnected{Reason: fmt.Sprintf("stream error: %s", e.Code)})
	case *events.Message:
		if !e.Info.IsFromMe {
			m.sink(EvMessage{Incoming: true})
		}
	}
}

func (m *meowClient) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return
	}
	m.client.RemoveEventHandler(m.handler)
	m.client.Disconnect()
	m.client = nil
}

func (m *meowClient) SendText(ctx context.Context, to string, text string) error {
	m.mu.Lock()
	cli := m.client
	m.mu.Unlock()
	if cli == nil || !cli.IsConnected() {
		return errors.Errorf("account %d is not connected", m.accountID)
	}
	jid, err := parseJID(to)
	if err != nil {
		return err
	}
	_, err = cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return errors.Wrapf(err, "send message from account %d", m.accountID)
}

// parseJID accepts either a full JID or a bare phone number.
func parseJID(to string) (waTypes.JID, error) {
	if !strings.ContainsRune(to, '@') {
		to = to + "@" + waTypes.DefaultUserServer
	}
	jid, err := waTypes.ParseJID(to)
	if err != nil {
		return waTypes.EmptyJID, errors.Wrapf(err, "invalid recipient %q", to)
	}
	return jid, nil
}
