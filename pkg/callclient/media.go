package callclient

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource stands in for a microphone on headless clients: it produces
// an Opus track that sends silence, which is enough to exercise the media path.
type SilenceSource struct {
	// Frame is the packetization interval. Default 20ms.
	Frame time.Duration
}

func (s SilenceSource) Open() (LocalTrack, error) {
	frame := s.Frame
	if frame <= 0 {
		frame = 20 * time.Millisecond
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"crm-voice",
	)
	if err != nil {
		return nil, err
	}
	t := &sampleTrack{track: track, stop: make(chan struct{})}
	t.enabled.Store(true)
	go t.pump(frame)
	return t, nil
}

type sampleTrack struct {
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stop    chan struct{}
	once    sync.Once
}

func (t *sampleTrack) TrackLocal() webrtc.TrackLocal { return t.track }

func (t *sampleTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *sampleTrack) Enabled() bool { return t.enabled.Load() }

func (t *sampleTrack) Stop() error {
	t.once.Do(func() { close(t.stop) })
	return nil
}

func (t *sampleTrack) pump(frame time.Duration) {
	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !t.enabled.Load() {
				continue
			}
			// Errors before the track is bound to a connection are expected.
			_ = t.track.WriteSample(media.Sample{Data: opusSilence, Duration: frame})
		}
	}
}
