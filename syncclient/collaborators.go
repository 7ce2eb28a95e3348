package syncclient

import (
	"context"

	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/relay"
)

// DataVault is the device's durable bill storage. ImportAll replaces the
// entire dataset and is only called after decryption succeeded and the
// user confirmed the overwrite.
type DataVault interface {
	ExportAll(ctx context.Context) ([]byte, error)
	ImportAll(ctx context.Context, data []byte) error
}

// ConfirmPrompt asks the user a yes/no question. A false answer cancels
// the sync without touching local data.
type ConfirmPrompt interface {
	Confirm(ctx context.Context, title, body string) (bool, error)
}

// QRCodec renders pairing codes as scannable images and reads them back.
// Implementations live in the UI layer.
type QRCodec interface {
	Encode(code string) ([]byte, error)
	Decode(image []byte) (string, error)
}

// Dialer opens a relay channel. An empty code requests a new pairing.
type Dialer interface {
	Connect(ctx context.Context, code string) (relay.Channel, error)
}

// WebsocketDialer connects to a relay server over websocket.
type WebsocketDialer struct {
	// Endpoint is the relay URL, for example wss://sync.example.com/relay.
	Endpoint string
}

func (d *WebsocketDialer) Connect(ctx context.Context, code string) (relay.Channel, error) {
	if code == "" {
		return relay.DialWebsocket(ctx, d.Endpoint, "")
	}
	parsed, err := interfaces.ParsePairingCode(code)
	if err != nil {
		return nil, err
	}
	return relay.DialWebsocket(ctx, d.Endpoint, parsed)
}
