package sttclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Logger is the narrow logging capability a Provider needs; it matches the
// broker package's Logger shape so either a real structured logger or a
// no-op can be passed without importing broker.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noOpLogger struct{}

func (noOpLogger) Debug(string, ...interface{}) {}
func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}

// Provider is a bidirectional streaming client for the upstream
// transcription and translation socket: a JSON config frame goes out once,
// binary PCM frames go out continuously, and JSON token messages come back
// on a dedicated receive loop.
type Provider struct {
	url string
	cfg Config
	log Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	results  chan Result
	done     chan struct{}
	doneOnce sync.Once
	lastErr  error

	pingInterval time.Duration
	pingTimeout  time.Duration
}

// NewProvider builds a Provider that will dial url when Connect is called.
// cfg.PingIntervalSeconds/PingTimeoutSeconds of zero fall back to 20s/10s.
func NewProvider(url string, cfg Config, log Logger) *Provider {
	if log == nil {
		log = noOpLogger{}
	}
	pingInterval := time.Duration(cfg.PingIntervalSeconds) * time.Second
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	pingTimeout := time.Duration(cfg.PingTimeoutSeconds) * time.Second
	if pingTimeout <= 0 {
		pingTimeout = 10 * time.Second
	}
	return &Provider{
		url:          url,
		cfg:          cfg,
		log:          log,
		results:      make(chan Result, 32),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
	}
}

// Connect dials the upstream socket, sends the configuration frame, and
// starts the background receive and keep-alive loops. Results become
// available on the channel returned by Results.
func (p *Provider) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, p.url, nil)
	if err != nil {
		return connectionError("dial upstream stt socket", err)
	}

	frame := configFrame{
		APIKey:                       p.cfg.APIKey,
		Model:                        "stt-rt-v4",
		EnableLanguageIdentification: true,
		EnableSpeakerDiarization:     p.cfg.EnableSpeakerDiarization,
		EnableEndpointDetection:      true,
		AudioFormat:                  "pcm_s16le",
		SampleRate:                   p.cfg.SampleRateHz,
		NumChannels:                  p.cfg.NumChannels,
		Translation: translationOpts{
			Type:           "one_way",
			TargetLanguage: p.cfg.TargetLanguage,
		},
		LanguageHints: p.cfg.LanguageHints,
	}
	b, err := json.Marshal(frame)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "config marshal failed")
		return fatalError("marshal stt config frame", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "failed to send config")
		return connectionError("send stt config frame", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.mu.Unlock()

	go p.receiveLoop()
	go p.keepAliveLoop()

	p.log.Info("stt provider connected", "target_language", p.cfg.TargetLanguage, "hints", p.cfg.LanguageHints)
	return nil
}

// Results returns the channel of consolidated transcription/translation
// updates. The channel is closed when the stream ends; call Err afterward
// to find out why.
func (p *Provider) Results() <-chan Result {
	return p.results
}

// Err returns the error that ended the receive loop, or nil for a clean
// close.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// SendAudio writes one chunk of raw PCM audio to the upstream socket.
func (p *Provider) SendAudio(ctx context.Context, chunk []byte) error {
	p.mu.Lock()
	conn, connected := p.conn, p.connected
	p.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		p.markDisconnected()
		return connectionError("send audio chunk", err)
	}
	return nil
}

// Finalize signals end-of-stream to the upstream socket by sending an empty
// text frame, after which the upstream side flushes remaining tokens and
// eventually reports finished.
func (p *Provider) Finalize(ctx context.Context) error {
	p.mu.Lock()
	conn, connected := p.conn, p.connected
	p.connected = false
	p.mu.Unlock()

	if !connected {
		return nil
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte("")); err != nil {
		return connectionError("finalize stt stream", err)
	}
	return nil
}

// Close tears down the underlying connection immediately.
func (p *Provider) Close() error {
	p.doneOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	conn := p.conn
	p.connected = false
	p.conn = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

func (p *Provider) markDisconnected() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

func (p *Provider) receiveLoop() {
	defer close(p.results)
	defer p.markDisconnected()

	reasm := newReassembler(p.cfg.TargetLanguage, p.cfg.EnableSpeakerDiarization)
	ctx := context.Background()

	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn == nil {
			return
		}

		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			p.finish(classifyCloseError(err))
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var m message
		if err := json.Unmarshal(payload, &m); err != nil {
			p.log.Warn("stt provider: malformed message", "error", err)
			continue
		}

		results, _, err := reasm.feed(m)
		if err != nil {
			p.finish(err)
			return
		}
		for _, r := range results {
			p.results <- r
		}

		if m.Finished {
			p.finish(nil)
			return
		}
	}
}

func (p *Provider) finish(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func classifyCloseError(err error) error {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		return nil
	}
	return connectionError("stt receive loop", err)
}

func (p *Provider) keepAliveLoop() {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			conn := p.conn
			connected := p.connected
			p.mu.Unlock()
			if !connected || conn == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), p.pingTimeout)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				p.log.Warn("stt provider: keepalive ping failed", "error", err)
				return
			}
		case <-p.done:
			return
		}
	}
}
