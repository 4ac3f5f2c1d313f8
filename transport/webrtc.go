// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/syncroom/syncroom/lib/codec"
	"github.com/syncroom/syncroom/protocol"
)

// Compile-time interface check.
var _ protocol.Transport = (*WebRTC)(nil)

// Data channel labels. The offering side creates both channels; the
// answering side receives them through OnDataChannel.
const (
	textChannelLabel  = "text-channel"
	mediaChannelLabel = "media-channel"
)

// Flow control on the media channel: Stream stops writing while more
// than mediaHighWater bytes are queued in SCTP and resumes once pion
// reports the queue drained below mediaLowWater.
const (
	mediaHighWater = 1 << 20
	mediaLowWater  = 256 << 10
)

// inboxCapacity bounds inbound requests and completed streams waiting
// for the dispatch goroutine.
const inboxCapacity = 256

// WebRTC is the point-to-point transport to one remote peer: a pion
// PeerConnection carrying an envelope channel and a media channel.
//
// Negotiation is trickle ICE over a [Signaler]. The local side offers
// only while the PeerConnection's signaling state is stable, and applies
// a remote answer only while its own offer is outstanding. When both
// sides offer at once, the peer whose id is lexicographically greater
// yields: it discards its PeerConnection and answers the other's offer.
// The smaller id ignores the foreign offer and waits for the answer.
type WebRTC struct {
	signaler Signaler
	peerID   string
	localID  string
	options  Options
	media    *mediaCodec
	logger   *slog.Logger

	// ctx is cancelled on teardown. Relay calls made from pion
	// callbacks and request handlers run under it.
	ctx    context.Context
	cancel context.CancelFunc

	// negotiationMu serializes session description changes and the
	// candidate buffer flush against each other. Never held by pion
	// callbacks other than OnNegotiationNeeded, which pion runs on its
	// own goroutine.
	negotiationMu sync.Mutex

	// mu protects the fields below.
	mu               sync.Mutex
	state            protocol.State
	connection       *webrtc.PeerConnection
	textChannel      *webrtc.DataChannel
	mediaChannel     *webrtc.DataChannel
	peerConnected    bool
	textOpen         bool
	mediaOpen        bool
	remoteCandidates []webrtc.ICECandidateInit
	pending          map[string]chan *protocol.Message
	subscribed       bool
	unsubscribe      func()
	closeErr         error

	// established is closed when the PeerConnection is connected and
	// both data channels are open.
	established chan struct{}

	// inbox feeds the dispatch goroutine, which runs request handlers
	// and the stream handler one at a time in arrival order.
	inbox chan func()

	// lowWater receives a token whenever the media channel's buffered
	// amount drops below mediaLowWater.
	lowWater chan struct{}
	streamMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// New creates the transport to peerID. Nothing happens on the network
// until Start or Initiate is called.
func New(signaler Signaler, peerID string, options Options) (*WebRTC, error) {
	options.applyDefaults()
	media, err := newMediaCodec(options.CompressMedia, options.MaxMediaBytes)
	if err != nil {
		return nil, err
	}
	return newWebRTC(signaler, peerID, options, media), nil
}

// NewFactory returns a protocol.Factory producing WebRTC transports that
// signal through signaler and share options.
func NewFactory(signaler Signaler, options Options) (protocol.Factory, error) {
	options.applyDefaults()
	media, err := newMediaCodec(options.CompressMedia, options.MaxMediaBytes)
	if err != nil {
		return nil, err
	}
	return func(peerID string) protocol.Transport {
		return newWebRTC(signaler, peerID, options, media)
	}, nil
}

func newWebRTC(signaler Signaler, peerID string, options Options, media *mediaCodec) *WebRTC {
	ctx, cancel := context.WithCancel(context.Background())
	t := &WebRTC{
		signaler:    signaler,
		peerID:      peerID,
		localID:     signaler.LocalID(),
		options:     options,
		media:       media,
		logger:      options.Logger.With("peer", peerID),
		ctx:         ctx,
		cancel:      cancel,
		state:       protocol.StateIdle,
		pending:     make(map[string]chan *protocol.Message),
		established: make(chan struct{}),
		inbox:       make(chan func(), inboxCapacity),
		lowWater:    make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	go t.dispatchLoop()
	return t
}

func (t *WebRTC) PeerID() string { return t.peerID }

func (t *WebRTC) State() protocol.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WebRTC) Done() <-chan struct{} { return t.done }

// Start subscribes to the peer's relay mailbox, answers any offer the
// peer makes, and blocks until the transport is established.
func (t *WebRTC) Start(ctx context.Context) error {
	if err := t.subscribe(); err != nil {
		return err
	}
	return t.wait(ctx)
}

// Initiate creates the PeerConnection and both data channels, which
// makes pion request negotiation, and blocks until the transport is
// established. If negotiation with the peer is already under way it
// only waits.
func (t *WebRTC) Initiate(ctx context.Context) error {
	if err := t.subscribe(); err != nil {
		return err
	}
	if err := t.openChannels(); err != nil {
		err = fmt.Errorf("%w: %w", protocol.ErrNegotiationFailed, err)
		t.teardown(protocol.StateFailed, err)
		return err
	}
	return t.wait(ctx)
}

// Close tears the transport down and rejects every pending Send.
func (t *WebRTC) Close() error {
	t.teardown(protocol.StateClosed, protocol.ErrTransportClosed)
	return nil
}

func (t *WebRTC) subscribe() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return t.closeErr
	}
	if t.subscribed {
		return nil
	}
	signals, cancel := t.signaler.Subscribe(t.peerID)
	t.subscribed = true
	t.unsubscribe = cancel
	go t.signalLoop(signals)
	return nil
}

func (t *WebRTC) wait(ctx context.Context) error {
	select {
	case <-t.established:
		return nil
	default:
	}

	timeout := t.options.Clock.After(t.options.NegotiationTimeout)
	select {
	case <-t.established:
		return nil
	case <-t.done:
		return t.terminalError()
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		err := fmt.Errorf("%w: not connected after %s", protocol.ErrNegotiationFailed, t.options.NegotiationTimeout)
		t.teardown(protocol.StateFailed, err)
		return t.terminalError()
	}
}

func (t *WebRTC) terminalError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeErr
}

// openChannels creates the PeerConnection and data channels for the
// offering side. A transport that already has a PeerConnection is either
// offering already or answering the peer, and gets its channels from
// the other side.
func (t *WebRTC) openChannels() error {
	t.negotiationMu.Lock()
	defer t.negotiationMu.Unlock()

	t.mu.Lock()
	existing := t.connection
	t.mu.Unlock()
	if existing != nil {
		return nil
	}

	pc, err := t.createConnection()
	if err != nil {
		return err
	}

	ordered := true
	text, err := pc.CreateDataChannel(textChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("creating %s: %w", textChannelLabel, err)
	}
	t.attachChannel(pc, text)

	media, err := pc.CreateDataChannel(mediaChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("creating %s: %w", mediaChannelLabel, err)
	}
	t.attachChannel(pc, media)

	t.logger.Debug("data channels created")
	return nil
}

// createConnection builds a PeerConnection, arms its listeners, and
// installs it as the current one. Caller holds negotiationMu.
func (t *WebRTC) createConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(t.options.ICE.IncludeLoopback)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: t.options.ICE.Servers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		payload, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			t.logger.Warn("encoding local candidate failed", "error", err)
			return
		}
		t.relay(SignalCandidate, payload)
	})
	pc.OnNegotiationNeeded(func() {
		t.negotiate(pc)
	})
	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		t.logger.Debug("signaling state change", "state", state.String())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.handleConnectionState(pc, state)
	})
	pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		t.attachChannel(pc, channel)
	})

	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		pc.Close()
		return nil, protocol.ErrTransportClosed
	}
	t.connection = pc
	t.textChannel = nil
	t.mediaChannel = nil
	t.peerConnected = false
	t.textOpen = false
	t.mediaOpen = false
	t.mu.Unlock()

	return pc, nil
}

func (t *WebRTC) isCurrent(pc *webrtc.PeerConnection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connection == pc
}

// negotiationState records offering or answering unless the transport
// has already moved past negotiation.
func (t *WebRTC) negotiationState(state protocol.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == protocol.StateConnected || t.state.Terminal() {
		return
	}
	t.state = state
}

// negotiate creates and relays an offer. It does nothing while an offer
// or answer is already in flight.
func (t *WebRTC) negotiate(pc *webrtc.PeerConnection) {
	t.negotiationMu.Lock()
	defer t.negotiationMu.Unlock()

	if !t.isCurrent(pc) {
		return
	}
	if pc.SignalingState() != webrtc.SignalingStateStable {
		t.logger.Debug("negotiation already in flight, not offering")
		return
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.fail(fmt.Errorf("creating offer: %w", err))
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.fail(fmt.Errorf("setting local offer: %w", err))
		return
	}
	t.negotiationState(protocol.StateOffering)

	payload, err := json.Marshal(offer)
	if err != nil {
		t.fail(fmt.Errorf("encoding offer: %w", err))
		return
	}
	t.relay(SignalOffer, payload)
	t.logger.Info("offer sent")
}

func (t *WebRTC) relay(kind SignalKind, payload json.RawMessage) {
	if err := t.signaler.Relay(t.ctx, t.peerID, Signal{Kind: kind, Payload: payload}); err != nil {
		t.logger.Warn("relaying signal failed", "kind", string(kind), "error", err)
	}
}

// signalLoop applies relayed signals in order until teardown or until
// the relay is lost.
func (t *WebRTC) signalLoop(signals <-chan Signal) {
	for {
		select {
		case <-t.done:
			return
		case <-t.signaler.Done():
			t.teardown(protocol.StateClosed, fmt.Errorf("%w: signaling relay lost", protocol.ErrTransportClosed))
			return
		case signal := <-signals:
			switch signal.Kind {
			case SignalOffer:
				t.handleOffer(signal.Payload)
			case SignalAnswer:
				t.handleAnswer(signal.Payload)
			case SignalCandidate:
				t.handleCandidate(signal.Payload)
			default:
				t.logger.Debug("dropping unknown signal", "kind", string(signal.Kind))
			}
		}
	}
}

func (t *WebRTC) handleOffer(payload json.RawMessage) {
	var description webrtc.SessionDescription
	if err := json.Unmarshal(payload, &description); err != nil || description.Type != webrtc.SDPTypeOffer {
		t.logger.Warn("dropping malformed offer", "error", err)
		return
	}

	t.negotiationMu.Lock()
	defer t.negotiationMu.Unlock()

	t.mu.Lock()
	pc := t.connection
	t.mu.Unlock()

	// A PeerConnection that has an offer outstanding, or that was
	// created locally and never negotiated, collides with this offer.
	if pc != nil && (pc.SignalingState() != webrtc.SignalingStateStable || pc.RemoteDescription() == nil) {
		if t.localID < t.peerID {
			t.logger.Info("simultaneous offers, keeping local offer")
			return
		}
		t.logger.Info("simultaneous offers, yielding to remote offer")
		t.mu.Lock()
		t.connection = nil
		t.mu.Unlock()
		pc.Close()
		pc = nil
	}

	if pc == nil {
		created, err := t.createConnection()
		if err != nil {
			t.fail(err)
			return
		}
		pc = created
	}

	if err := pc.SetRemoteDescription(description); err != nil {
		t.fail(fmt.Errorf("setting remote offer: %w", err))
		return
	}
	t.negotiationState(protocol.StateAnswering)
	t.flushCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.fail(fmt.Errorf("creating answer: %w", err))
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		t.fail(fmt.Errorf("setting local answer: %w", err))
		return
	}

	encoded, err := json.Marshal(answer)
	if err != nil {
		t.fail(fmt.Errorf("encoding answer: %w", err))
		return
	}
	t.relay(SignalAnswer, encoded)
	t.logger.Info("offer answered")
}

func (t *WebRTC) handleAnswer(payload json.RawMessage) {
	var description webrtc.SessionDescription
	if err := json.Unmarshal(payload, &description); err != nil || description.Type != webrtc.SDPTypeAnswer {
		t.logger.Warn("dropping malformed answer", "error", err)
		return
	}

	t.negotiationMu.Lock()
	defer t.negotiationMu.Unlock()

	t.mu.Lock()
	pc := t.connection
	t.mu.Unlock()

	if pc == nil || pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.logger.Debug("dropping answer, no offer outstanding")
		return
	}
	if err := pc.SetRemoteDescription(description); err != nil {
		t.fail(fmt.Errorf("setting remote answer: %w", err))
		return
	}
	t.flushCandidates(pc)
	t.logger.Info("answer applied")
}

// handleCandidate applies a remote candidate, or buffers it until a
// remote description exists to apply it to.
func (t *WebRTC) handleCandidate(payload json.RawMessage) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		t.logger.Warn("dropping malformed candidate", "error", err)
		return
	}

	t.negotiationMu.Lock()
	defer t.negotiationMu.Unlock()

	t.mu.Lock()
	pc := t.connection
	if pc == nil || pc.RemoteDescription() == nil {
		t.remoteCandidates = append(t.remoteCandidates, candidate)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		t.logger.Debug("adding remote candidate failed", "error", err)
	}
}

// flushCandidates applies candidates buffered before the remote
// description was set. Caller holds negotiationMu.
func (t *WebRTC) flushCandidates(pc *webrtc.PeerConnection) {
	t.mu.Lock()
	buffered := t.remoteCandidates
	t.remoteCandidates = nil
	t.mu.Unlock()

	for _, candidate := range buffered {
		if err := pc.AddICECandidate(candidate); err != nil {
			t.logger.Debug("adding buffered candidate failed", "error", err)
		}
	}
}

func (t *WebRTC) handleConnectionState(pc *webrtc.PeerConnection, state webrtc.PeerConnectionState) {
	if !t.isCurrent(pc) {
		return
	}
	t.logger.Info("connection state change", "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		t.mu.Lock()
		t.peerConnected = true
		t.checkEstablishedLocked()
		t.mu.Unlock()

	case webrtc.PeerConnectionStateDisconnected:
		// ICE may recover after connecting; pion moves to failed if
		// it does not. Before connecting it never recovers.
		if t.isEstablished() {
			t.logger.Warn("peer connection disconnected, waiting for recovery")
			return
		}
		t.fail(errors.New("peer connection disconnected"))

	case webrtc.PeerConnectionStateFailed:
		t.fail(errors.New("peer connection failed"))

	case webrtc.PeerConnectionStateClosed:
		t.teardown(protocol.StateClosed, fmt.Errorf("%w: peer connection closed", protocol.ErrTransportClosed))
	}
}

func (t *WebRTC) isEstablished() bool {
	select {
	case <-t.established:
		return true
	default:
		return false
	}
}

// checkEstablishedLocked moves to connected once the PeerConnection and
// both data channels are up. Caller holds mu.
func (t *WebRTC) checkEstablishedLocked() {
	if !t.peerConnected || !t.textOpen || !t.mediaOpen {
		return
	}
	if t.state == protocol.StateConnected || t.state.Terminal() {
		return
	}
	t.state = protocol.StateConnected
	close(t.established)
	t.logger.Info("peer transport established")
}

// attachChannel wires a data channel of pc, created locally or announced
// by the peer, to the transport.
func (t *WebRTC) attachChannel(pc *webrtc.PeerConnection, channel *webrtc.DataChannel) {
	label := channel.Label()

	var streams *reassembler

	switch label {
	case textChannelLabel:
		channel.OnMessage(func(message webrtc.DataChannelMessage) {
			t.receiveEnvelope(message.Data)
		})

	case mediaChannelLabel:
		streams = newReassembler(t.media)
		channel.SetBufferedAmountLowThreshold(mediaLowWater)
		channel.OnBufferedAmountLow(func() {
			select {
			case t.lowWater <- struct{}{}:
			default:
			}
		})
		channel.OnMessage(func(message webrtc.DataChannelMessage) {
			t.receiveFrame(streams, message.Data)
		})

	default:
		t.logger.Debug("closing unexpected data channel", "label", label)
		channel.Close()
		return
	}

	t.mu.Lock()
	if t.connection == pc {
		if label == textChannelLabel {
			t.textChannel = channel
		} else {
			t.mediaChannel = channel
		}
	}
	t.mu.Unlock()

	channel.OnOpen(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.connection != pc {
			return
		}
		t.logger.Debug("data channel open", "label", label)
		if label == textChannelLabel {
			t.textOpen = true
		} else {
			t.mediaOpen = true
		}
		t.checkEstablishedLocked()
	})

	channel.OnClose(func() {
		if streams != nil {
			streams.reset()
		}
		if !t.isCurrent(pc) {
			return
		}
		if t.isEstablished() {
			t.teardown(protocol.StateClosed, fmt.Errorf("%w: %s closed by peer", protocol.ErrTransportClosed, label))
		}
	})
}

func (t *WebRTC) receiveEnvelope(data []byte) {
	message, err := protocol.Parse(data)
	if errors.Is(err, protocol.ErrUnknownEvent) {
		t.logger.Debug("dropping envelope from a newer protocol revision", "error", err)
		return
	}
	if err != nil {
		t.logger.Warn("dropping malformed envelope", "error", err)
		return
	}

	if message.Type == protocol.KindResponse {
		t.mu.Lock()
		reply, ok := t.pending[message.ID]
		delete(t.pending, message.ID)
		t.mu.Unlock()
		if !ok {
			t.logger.Debug("dropping response with unknown id", "event", string(message.Event), "id", message.ID)
			return
		}
		reply <- message
		return
	}

	t.enqueue(func() { t.respond(message) })
}

func (t *WebRTC) receiveFrame(streams *reassembler, data []byte) {
	media, err := streams.accept(data)
	if err != nil {
		t.logger.Warn("dropping media stream", "error", err)
		return
	}
	if media == nil {
		return
	}
	t.logger.Debug("media stream received", "track_id", media.TrackID, "kind", string(media.Kind), "bytes", len(media.Data))
	t.enqueue(func() {
		if !t.options.Router.DispatchStream(t.peerID, *media) {
			t.logger.Debug("dropping media stream, no stream handler")
		}
	})
}

func (t *WebRTC) enqueue(work func()) {
	select {
	case t.inbox <- work:
	case <-t.done:
	}
}

func (t *WebRTC) dispatchLoop() {
	for {
		select {
		case <-t.done:
			return
		case work := <-t.inbox:
			work()
		}
	}
}

func (t *WebRTC) respond(request *protocol.Message) {
	response, ok := t.options.Router.Dispatch(t.ctx, t.peerID, request)
	if !ok {
		if !request.NoReply {
			t.logger.Debug("dropping request for unregistered event", "event", string(request.Event))
		}
		return
	}
	if err := t.write(response); err != nil {
		t.logger.Debug("writing response failed", "event", string(request.Event), "error", err)
	}
}

// write sends one envelope on the text channel.
func (t *WebRTC) write(message *protocol.Message) error {
	data, err := message.Encode()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", message.Event, err)
	}

	t.mu.Lock()
	channel := t.textChannel
	open := t.textOpen
	t.mu.Unlock()

	if channel == nil || !open {
		return fmt.Errorf("writing %s to %s: %w", message.Event, t.peerID, protocol.ErrChannelClosed)
	}
	if err := channel.Send(data); err != nil {
		return fmt.Errorf("writing %s to %s: %w: %v", message.Event, t.peerID, protocol.ErrChannelClosed, err)
	}
	return nil
}

// Send issues a REQUEST and waits for the matching RESPONSE.
func (t *WebRTC) Send(ctx context.Context, event protocol.Event, payload any) (codec.RawMessage, error) {
	request, err := protocol.NewRequest(event, payload)
	if err != nil {
		return nil, err
	}

	reply := make(chan *protocol.Message, 1)
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return nil, fmt.Errorf("sending %s to %s: %w", event, t.peerID, protocol.ErrTransportClosed)
	}
	t.pending[request.ID] = reply
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, request.ID)
		t.mu.Unlock()
	}()

	if err := t.write(request); err != nil {
		return nil, err
	}

	select {
	case response := <-reply:
		return responseData(response)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		select {
		case response := <-reply:
			return responseData(response)
		default:
		}
		return nil, fmt.Errorf("sending %s to %s: %w", event, t.peerID, protocol.ErrTransportClosed)
	}
}

func responseData(response *protocol.Message) (codec.RawMessage, error) {
	if response.Error != "" {
		return nil, &protocol.RemoteError{Event: response.Event, Message: response.Error}
	}
	return response.Data, nil
}

// Notify issues a REQUEST the peer does not answer.
func (t *WebRTC) Notify(_ context.Context, event protocol.Event, payload any) error {
	request, err := protocol.NewNotification(event, payload)
	if err != nil {
		return err
	}
	return t.write(request)
}

// Stream sends media on the media channel, pausing while SCTP has more
// than mediaHighWater bytes queued. Streams to one peer are sent one at
// a time.
func (t *WebRTC) Stream(ctx context.Context, media protocol.Media) error {
	frames, err := t.media.frames(media, t.options.ChunkSize)
	if err != nil {
		return err
	}

	t.streamMu.Lock()
	defer t.streamMu.Unlock()

	t.mu.Lock()
	channel := t.mediaChannel
	open := t.mediaOpen
	t.mu.Unlock()
	if channel == nil || !open {
		return fmt.Errorf("streaming %s to %s: %w", media.TrackID, t.peerID, protocol.ErrChannelClosed)
	}

	for _, frame := range frames {
		for channel.BufferedAmount() > mediaHighWater {
			select {
			case <-t.lowWater:
			case <-ctx.Done():
				return ctx.Err()
			case <-t.done:
				return fmt.Errorf("streaming %s to %s: %w", media.TrackID, t.peerID, protocol.ErrTransportClosed)
			}
		}
		if err := channel.Send(frame); err != nil {
			return fmt.Errorf("streaming %s to %s: %w: %v", media.TrackID, t.peerID, protocol.ErrChannelClosed, err)
		}
	}

	t.logger.Debug("media stream sent", "track_id", media.TrackID, "kind", string(media.Kind), "frames", len(frames))
	return nil
}

// fail moves to failed. Before the transport is established the reason
// is reported as a negotiation failure.
func (t *WebRTC) fail(reason error) {
	t.teardown(protocol.StateFailed, reason)
}

func (t *WebRTC) teardown(state protocol.State, reason error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		if !t.isEstablished() && !errors.Is(reason, protocol.ErrNegotiationFailed) {
			reason = fmt.Errorf("%w: %w", protocol.ErrNegotiationFailed, reason)
		}
		t.state = state
		t.closeErr = reason
		pc := t.connection
		t.connection = nil
		t.textChannel = nil
		t.mediaChannel = nil
		t.textOpen = false
		t.mediaOpen = false
		clear(t.pending)
		unsubscribe := t.unsubscribe
		t.mu.Unlock()

		close(t.done)
		t.cancel()
		if unsubscribe != nil {
			unsubscribe()
		}
		if pc != nil {
			pc.Close()
		}

		if state == protocol.StateFailed {
			t.logger.Warn("peer transport failed", "error", reason)
		} else {
			t.logger.Info("peer transport closed", "reason", reason)
		}
	})
}
