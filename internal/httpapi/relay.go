package httpapi

import (
	"context"
	"sync"

	"github.com/voicebridge/voicebridge/internal/capture"
)

// RelayOpener is a capture device fed by the client over the live
// websocket: the browser holds the microphone and streams PCM chunks
// up, the relay presents them as a local recording device.
type RelayOpener struct {
	mu     sync.Mutex
	active *relayDevice
}

func NewRelayOpener() *RelayOpener { return &RelayOpener{} }

func (o *RelayOpener) Open(ctx context.Context, cfg capture.DeviceConfig) (capture.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	d := &relayDevice{ch: make(chan []byte, 64), opener: o}
	o.active = d
	return d, nil
}

// Push forwards one audio chunk to the open device, if any. Chunks
// arriving with no recording in progress are dropped.
func (o *RelayOpener) Push(chunk []byte) {
	o.mu.Lock()
	d := o.active
	o.mu.Unlock()
	if d == nil {
		return
	}
	d.push(chunk)
}

func (o *RelayOpener) detach(d *relayDevice) {
	o.mu.Lock()
	if o.active == d {
		o.active = nil
	}
	o.mu.Unlock()
}

type relayDevice struct {
	opener *RelayOpener

	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func (d *relayDevice) Start(ctx context.Context) (<-chan []byte, error) {
	return d.ch, nil
}

func (d *relayDevice) Stop() error {
	d.opener.detach(d)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	return nil
}

func (d *relayDevice) push(chunk []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.ch <- chunk:
	default:
		// Collector fell behind; drop rather than stall the websocket.
	}
}
