// Package webrtc pushes detection payloads to browsers over WebRTC data channels.
//
// The browser creates a data channel labelled "detections" in its offer;
// every payload handed to Broadcast is sent on it as a text message.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/threatlens/annotator/internal/logger"
	"github.com/threatlens/annotator/internal/metrics"
)

var log = logger.For("WebRTC")

// ChannelLabel is the data channel label clients must use.
const ChannelLabel = "detections"

// ErrTooManyClients is returned by HandleOffer when the client limit is reached.
var ErrTooManyClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC client
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	msgChan   chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	channel     *webrtc.DataChannel
	msgsSent    uint64
	msgsDropped uint64
}

// Options configures the server.
type Options struct {
	// ICEServers are STUN/TURN URLs. Empty means host candidates only.
	ICEServers []string
	MaxClients int
	// IncludeLoopback gathers loopback candidates, for same-host peers.
	IncludeLoopback bool
	Metrics         *metrics.Metrics
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server
func NewServer(opts Options) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(opts.ICEServers))
	for _, url := range opts.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	if opts.IncludeLoopback {
		settingsEngine.SetIncludeLoopbackCandidate(true)
	}

	maxClients := opts.MaxClients
	if maxClients <= 0 {
		maxClients = 10
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: maxClients,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine)),
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, errors.New("failed to parse offer: not an SDP offer")
	}

	if s.GetClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		msgChan:   make(chan []byte, 30),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			log.Debugf("Client %s opened unexpected channel %q, ignoring", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			client.mu.Lock()
			client.channel = dc
			client.mu.Unlock()
			log.Infof("Client %s data channel open", client.id)
		})
		dc.OnClose(func() {
			s.RemoveClient(client.id)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debugf("Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, errors.New("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.metrics.WebRTCClients.Store(int64(n))
	s.metrics.WebRTCTotalPeers.Add(1)

	go s.sendMessages(client)

	log.Infof("Client %s connected", client.id)
	return answerJSON, nil
}

// Broadcast queues msg for every client. Slow clients drop messages.
func (s *Server) Broadcast(msg []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.msgChan <- msg:
		default:
			client.mu.Lock()
			client.msgsDropped++
			client.mu.Unlock()
			s.metrics.SubscriberDrops.Add(1)
		}
	}
}

func (s *Server) sendMessages(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case msg := <-client.msgChan:
			client.mu.Lock()
			dc := client.channel
			client.mu.Unlock()
			if dc == nil {
				// Channel not open yet; the message is stale by the time it would be.
				continue
			}
			if err := dc.SendText(string(msg)); err != nil {
				log.Warnf("Send to client %s failed: %v", client.id, err)
				continue
			}
			client.mu.Lock()
			client.msgsSent++
			client.mu.Unlock()
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	n := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.metrics.WebRTCClients.Store(int64(n))
	s.closeClient(client)

	client.mu.Lock()
	sent, dropped := client.msgsSent, client.msgsDropped
	client.mu.Unlock()
	log.Infof("Client %s disconnected (sent: %d, dropped: %d)", clientID, sent, dropped)
}

func (s *Server) closeClient(client *Client) {
	client.closeOnce.Do(func() {
		close(client.closeChan)
		if client.peerConn != nil {
			// Close may re-enter RemoveClient through the state callback; it finds nothing.
			go client.peerConn.Close()
		}
	})
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats is the per-client delivery count.
type ClientStats struct {
	MessagesSent    uint64 `json:"messages_sent"`
	MessagesDropped uint64 `json:"messages_dropped"`
	ChannelOpen     bool   `json:"channel_open"`
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]ClientStats {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]ClientStats, len(s.clients))
	for id, client := range s.clients {
		client.mu.Lock()
		stats[id] = ClientStats{
			MessagesSent:    client.msgsSent,
			MessagesDropped: client.msgsDropped,
			ChannelOpen:     client.channel != nil,
		}
		client.mu.Unlock()
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for id, c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		s.closeClient(c)
	}
	s.metrics.WebRTCClients.Store(0)
	return nil
}
