package wms

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	stickBaudRate       = 125000
	replyTimeout        = 2 * time.Second
	defaultScanTimeout  = 5 * time.Second
	defaultPolling      = 30 * time.Second
	defaultMovingCheck  = time.Second
	eventBuffer         = 64
	minMovingCheckDelay = 100 * time.Millisecond
)

var (
	_ Driver      = (*Stick)(nil)
	_ BlindLister = (*Stick)(nil)
)

// Stick implements Driver over a WMS USB stick.
type Stick struct {
	port     io.ReadWriteCloser
	reader   *bufio.Reader
	settings Settings
	logger   *slog.Logger

	writeMu sync.Mutex
	replies chan string

	events chan Event

	// Added blinds and polling configuration.
	mu          sync.Mutex
	blinds      map[string]*blind // decimal snr -> state
	polling     time.Duration
	movingCheck time.Duration

	// Scan collection.
	scanMu     sync.Mutex
	scanActive bool
	scanSeen   map[string]ScannedDevice

	done      chan struct{}
	closeOnce sync.Once
	failed    chan struct{} // closed when the port stops delivering frames
	failErr   error
	wg        sync.WaitGroup
	emitMu    sync.RWMutex
	closed    bool
}

type blind struct {
	label    string
	hex      string
	moving   bool
	lastPoll time.Time
}

// OpenStick opens the serial port and starts reading frames.
func OpenStick(settings Settings, logger *slog.Logger) (*Stick, error) {
	mode := &serial.Mode{
		BaudRate: stickBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(settings.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("wms stick: open %s: %w", settings.Port, err)
	}
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)
	return newStick(port, settings, logger), nil
}

func newStick(port io.ReadWriteCloser, settings Settings, logger *slog.Logger) *Stick {
	s := &Stick{
		port:        port,
		reader:      bufio.NewReader(port),
		settings:    settings,
		logger:      logger.With("component", "wms"),
		replies:     make(chan string, 4),
		events:      make(chan Event, eventBuffer),
		blinds:      make(map[string]*blind),
		polling:     defaultPolling,
		movingCheck: defaultMovingCheck,
		done:        make(chan struct{}),
		failed:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// Run configures the network, emits EventInitCompletion and then polls added
// blinds until ctx is cancelled. In discovery mode it only logs traffic.
// It returns the read error if the port fails.
func (s *Stick) Run(ctx context.Context) error {
	if err := s.initialize(ctx); err != nil {
		return err
	}
	if s.settings.DiscoveryMode() {
		s.logger.Warn("PAN id unknown, listening for network parameters only",
			"channel", s.settings.Channel)
		select {
		case <-ctx.Done():
			return nil
		case <-s.failed:
			return s.failErr
		}
	}
	s.emit(Event{Kind: EventInitCompletion})
	return s.pollLoop(ctx)
}

func (s *Stick) initialize(ctx context.Context) error {
	name, err := s.request(ctx, "G", frameName)
	if err != nil {
		return fmt.Errorf("wms stick: name: %w", err)
	}
	version, err := s.request(ctx, "V", frameVersion)
	if err != nil {
		return fmt.Errorf("wms stick: version: %w", err)
	}
	s.logger.Info("stick found", "name", name[1:], "version", version[1:])

	if s.settings.DiscoveryMode() {
		return nil
	}
	if _, err := s.request(ctx, cmdKey(s.settings.Key), frameAck); err != nil {
		return fmt.Errorf("wms stick: set key: %w", err)
	}
	if _, err := s.request(ctx, cmdNetwork(s.settings.Channel, s.settings.PanID), frameAck); err != nil {
		return fmt.Errorf("wms stick: set network: %w", err)
	}
	return nil
}

// request writes a command and waits for the first reply of the given type.
func (s *Stick) request(ctx context.Context, body string, want byte) (string, error) {
	if err := s.write(body); err != nil {
		return "", err
	}
	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()
	for {
		select {
		case reply := <-s.replies:
			if reply[0] == want {
				return reply, nil
			}
			s.logger.Debug("unexpected reply", "want", string(want), "got", reply)
		case <-timer.C:
			return "", fmt.Errorf("%w waiting for %q", ErrTimeout, string(want))
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.done:
			return "", ErrClosed
		case <-s.failed:
			return "", s.failErr
		}
	}
}

func (s *Stick) write(body string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.logger.Debug("tx", "frame", body)
	if _, err := s.port.Write(encodeFrame(body)); err != nil {
		return fmt.Errorf("wms stick: write: %w", err)
	}
	return nil
}

func (s *Stick) readLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.reader.ReadString('}')
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error("stick read failed", "err", err)
				s.failErr = fmt.Errorf("wms stick: read: %w", err)
				close(s.failed)
				s.emit(Event{Kind: EventError, Err: s.failErr})
			}
			return
		}
		body, ok := decodeFrame(raw)
		if !ok {
			s.logger.Debug("discarding malformed frame", "raw", raw)
			continue
		}
		s.handleFrame(body)
	}
}

func (s *Stick) handleFrame(body string) {
	s.logger.Debug("rx", "frame", body)
	switch body[0] {
	case frameName, frameVersion, frameAck:
		select {
		case s.replies <- body:
		default:
			s.logger.Debug("reply dropped, nobody waiting", "frame", body)
		}
	case frameFailed:
		s.logger.Warn("radio transmission failed", "frame", body)
	case frameRadio:
		s.handleRadio(body)
	default:
		s.logger.Debug("unhandled frame", "frame", body)
	}
}

func (s *Stick) handleRadio(body string) {
	msg, err := parseRadio(body)
	if err != nil {
		s.logger.Warn("bad radio frame", "frame", body, "err", err)
		return
	}
	switch msg.typ {
	case msgScanResponse:
		dev, err := parseScanResponse(msg)
		if err != nil {
			s.logger.Warn("bad scan response", "snr", msg.snr, "err", err)
			return
		}
		s.scanMu.Lock()
		if s.scanActive {
			s.scanSeen[dev.Serial] = dev
		}
		s.scanMu.Unlock()
	case msgPositionResponse:
		pos, err := parsePositionResponse(msg)
		if err != nil {
			s.logger.Warn("bad position response", "snr", msg.snr, "err", err)
			return
		}
		s.mu.Lock()
		if b, ok := s.blinds[msg.snr]; ok {
			b.moving = *pos.Moving
		}
		s.mu.Unlock()
		s.emit(Event{Kind: EventPositionUpdate, Payload: pos})
	case msgWeatherBroadcast:
		w, err := parseWeather(msg)
		if err != nil {
			s.logger.Warn("bad weather broadcast", "snr", msg.snr, "err", err)
			return
		}
		s.emit(Event{Kind: EventWeatherBroadcast, Payload: w})
	case msgMoveAck:
		s.logger.Debug("move acknowledged", "snr", msg.snr)
	default:
		if s.settings.DiscoveryMode() {
			s.logger.Info("network traffic", "snr", msg.snr, "type", msg.typ, "data", msg.data)
			return
		}
		s.logger.Debug("unhandled radio message", "snr", msg.snr, "type", msg.typ)
	}
}

func (s *Stick) emit(e Event) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- e:
	default:
		s.logger.Warn("event buffer full, dropping event", "kind", e.Kind)
	}
}

// Events implements Driver.
func (s *Stick) Events() <-chan Event {
	return s.events
}

// ScanDevices broadcasts a scan request and emits EventScannedDevices once
// the scan window has elapsed.
func (s *Stick) ScanDevices(opts ScanOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultScanTimeout
	}

	s.scanMu.Lock()
	if s.scanActive {
		s.scanMu.Unlock()
		return fmt.Errorf("wms stick: scan already running")
	}
	s.scanActive = true
	s.scanSeen = make(map[string]ScannedDevice)
	s.scanMu.Unlock()

	if err := s.write(cmdScan(s.settings.PanID)); err != nil {
		s.scanMu.Lock()
		s.scanActive = false
		s.scanMu.Unlock()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(timeout):
		case <-s.done:
			return
		}
		s.scanMu.Lock()
		devices := make([]ScannedDevice, 0, len(s.scanSeen))
		for _, d := range s.scanSeen {
			devices = append(devices, d)
		}
		s.scanActive = false
		s.scanMu.Unlock()
		sort.Slice(devices, func(i, j int) bool { return devices[i].Serial < devices[j].Serial })

		if opts.AutoAssignBlinds {
			for _, d := range devices {
				_ = s.AddBlind(d.Serial, d.Serial)
			}
		}
		s.emit(Event{Kind: EventScannedDevices, Payload: ScanPayload{Devices: devices}})
	}()
	return nil
}

// AddBlind adds a blind to the polling list and requests its position.
func (s *Stick) AddBlind(snr, label string) error {
	hex, err := encodeSNR(snr)
	if err != nil {
		return fmt.Errorf("wms stick: add blind: %w", err)
	}
	s.mu.Lock()
	if _, ok := s.blinds[snr]; !ok {
		s.blinds[snr] = &blind{label: label, hex: hex}
	}
	s.mu.Unlock()
	return s.write(cmdPosition(hex))
}

// Blinds returns the serials of all added blinds.
func (s *Stick) Blinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]string, 0, len(s.blinds))
	for snr := range s.blinds {
		list = append(list, snr)
	}
	sort.Strings(list)
	return list
}

// SetBlindPosition moves a blind. A nil angle leaves the slat angle unchanged.
func (s *Stick) SetBlindPosition(snr string, position int, angle *int) error {
	if position < 0 || position > 100 {
		return fmt.Errorf("wms stick: position %d out of range", position)
	}
	if angle != nil && (*angle < -100 || *angle > 100) {
		return fmt.Errorf("wms stick: angle %d out of range", *angle)
	}
	hex, err := encodeSNR(snr)
	if err != nil {
		return fmt.Errorf("wms stick: set position: %w", err)
	}
	if err := s.write(cmdMove(hex, position, angle)); err != nil {
		return err
	}
	s.markMoving(snr)
	return nil
}

// StopBlind stops a moving blind.
func (s *Stick) StopBlind(snr string) error {
	hex, err := encodeSNR(snr)
	if err != nil {
		return fmt.Errorf("wms stick: stop: %w", err)
	}
	if err := s.write(cmdStop(hex)); err != nil {
		return err
	}
	s.markMoving(snr)
	return nil
}

func (s *Stick) markMoving(snr string) {
	s.mu.Lock()
	if b, ok := s.blinds[snr]; ok {
		b.moving = true
	}
	s.mu.Unlock()
}

// SetPollingInterval sets how often every added blind is polled.
func (s *Stick) SetPollingInterval(d time.Duration) {
	s.mu.Lock()
	s.polling = d
	s.mu.Unlock()
}

// SetMovingCheckInterval sets how often moving blinds are polled.
func (s *Stick) SetMovingCheckInterval(d time.Duration) {
	if d < minMovingCheckDelay {
		d = minMovingCheckDelay
	}
	s.mu.Lock()
	s.movingCheck = d
	s.mu.Unlock()
}

func (s *Stick) pollLoop(ctx context.Context) error {
	for {
		s.mu.Lock()
		wait := s.movingCheck
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-s.failed:
			return s.failErr
		case now := <-time.After(wait):
			for _, hex := range s.due(now) {
				if err := s.write(cmdPosition(hex)); err != nil {
					s.logger.Warn("position poll failed", "err", err)
				}
			}
		}
	}
}

// due returns blinds that need a position poll: moving ones every tick, the
// rest once per polling interval.
func (s *Stick) due(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hexes []string
	for _, b := range s.blinds {
		if b.moving || now.Sub(b.lastPoll) >= s.polling {
			b.lastPoll = now
			hexes = append(hexes, b.hex)
		}
	}
	sort.Strings(hexes)
	return hexes
}

// Close stops the read loop and closes the port. The events channel is
// closed once all goroutines have exited.
func (s *Stick) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.port.Close()
		s.wg.Wait()
		s.emitMu.Lock()
		s.closed = true
		close(s.events)
		s.emitMu.Unlock()
	})
	return err
}
