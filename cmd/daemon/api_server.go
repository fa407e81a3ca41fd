package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const timeout = 10 * time.Second

type ApiServer struct {
	allowOrigin string
	certFile    string
	keyFile     string
	metrics     http.Handler

	close    atomic.Bool
	done     chan struct{}
	listener net.Listener

	requests chan ApiRequest

	clients     []*websocket.Conn
	clientsLock sync.RWMutex
}

var (
	ErrBadRequest  = errors.New("bad request")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)

type ApiRequestType string

const (
	ApiRequestTypeStatus  ApiRequestType = "status"
	ApiRequestTypePeers   ApiRequestType = "peers"
	ApiRequestTypePublish ApiRequestType = "publish"
	ApiRequestTypeRevoke  ApiRequestType = "revoke"
)

type ApiEventType string

const (
	ApiEventTypePeersChanged ApiEventType = "peers_changed"
	ApiEventTypeStateChanged ApiEventType = "state_changed"
)

type ApiRequest struct {
	Type ApiRequestType
	Data any

	resp chan apiResponse
}

func (r *ApiRequest) Reply(data any, err error) {
	r.resp <- apiResponse{data, err}
}

type ApiRequestDataPublish struct {
	Name string `json:"name"`
}

type apiResponse struct {
	data any
	err  error
}

type ApiResponseStatus struct {
	Version      string `json:"version"`
	ClientId     string `json:"client_id"`
	DisplayName  string `json:"display_name"`
	ServiceType  string `json:"service_type"`
	State        string `json:"state"`
	VisiblePeers int    `json:"visible_peers"`
}

type ApiResponsePeers struct {
	Ids []string `json:"ids"`
}

type ApiEvent struct {
	Type ApiEventType `json:"type"`
	Data any          `json:"data"`
}

type ApiEventDataPeersChanged ApiResponsePeers

type ApiEventDataStateChanged struct {
	State string `json:"state"`
}

func NewApiServer(address string, port int, allowOrigin, certFile, keyFile string, metrics http.Handler) (_ *ApiServer, err error) {
	s := newApiServer(allowOrigin, metrics)
	s.certFile, s.keyFile = certFile, keyFile

	s.listener, err = net.Listen("tcp", net.JoinHostPort(address, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("failed starting api listener: %w", err)
	}

	log.Infof("api server listening on %s", s.listener.Addr())

	go s.serve()
	return s, nil
}

// NewStubApiServer creates a server that accepts no connections, events are dropped.
func NewStubApiServer() (*ApiServer, error) {
	return newApiServer("", nil), nil
}

func newApiServer(allowOrigin string, metrics http.Handler) *ApiServer {
	return &ApiServer{
		allowOrigin: allowOrigin,
		metrics:     metrics,
		done:        make(chan struct{}),
		requests:    make(chan ApiRequest),
	}
}

func (s *ApiServer) handleRequest(req ApiRequest, w http.ResponseWriter) {
	req.resp = make(chan apiResponse, 1)

	select {
	case <-s.done:
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	default:
	}

	select {
	case s.requests <- req:
	case <-s.done:
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	resp := <-req.resp

	if resp.err != nil {
		switch {
		case errors.Is(resp.err, ErrBadRequest):
			w.WriteHeader(http.StatusBadRequest)
			return
		case errors.Is(resp.err, ErrConflict):
			w.WriteHeader(http.StatusConflict)
			return
		case errors.Is(resp.err, ErrUnavailable):
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		default:
			log.WithError(resp.err).Errorf("failed handling request %s", req.Type)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	if resp.data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp.data)
}

func (s *ApiServer) handler() http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{}"))
	})
	m.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		s.handleRequest(ApiRequest{Type: ApiRequestTypeStatus}, w)
	})
	m.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		s.handleRequest(ApiRequest{Type: ApiRequestTypePeers}, w)
	})
	m.HandleFunc("/publish", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var data ApiRequestDataPublish
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		s.handleRequest(ApiRequest{Type: ApiRequestTypePublish, Data: data}, w)
	})
	m.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		s.handleRequest(ApiRequest{Type: ApiRequestTypeRevoke}, w)
	})
	if s.metrics != nil {
		m.Handle("/metrics", s.metrics)
	}
	m.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		opts := &websocket.AcceptOptions{}
		if len(s.allowOrigin) > 0 {
			allow := s.allowOrigin
			allow = strings.TrimPrefix(allow, "http://")
			allow = strings.TrimPrefix(allow, "https://")
			allow = strings.TrimSuffix(allow, "/")
			opts.OriginPatterns = []string{allow}
		}

		c, err := websocket.Accept(w, r, opts)
		if err != nil {
			log.WithError(err).Error("failed accepting websocket connection")
			return
		}

		s.clientsLock.Lock()
		s.clients = append(s.clients, c)
		s.clientsLock.Unlock()

		log.Debugf("new websocket client")

		for {
			_, _, err := c.Read(context.Background())
			if err == nil {
				continue
			}

			s.removeClient(c)
			if !s.close.Load() && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.WithError(err).Warn("websocket connection errored")
			}

			return
		}
	})

	c := cors.New(cors.Options{
		AllowedOrigins:      []string{s.allowOrigin},
		AllowPrivateNetwork: true,
		AllowCredentials:    true,
	})

	return c.Handler(m)
}

func (s *ApiServer) removeClient(c *websocket.Conn) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()

	for i, cc := range s.clients {
		if cc == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			break
		}
	}
}

func (s *ApiServer) serve() {
	var err error
	if len(s.certFile) > 0 && len(s.keyFile) > 0 {
		err = http.ServeTLS(s.listener, s.handler(), s.certFile, s.keyFile)
	} else {
		err = http.Serve(s.listener, s.handler())
	}

	if s.close.Load() {
		return
	} else if err != nil {
		log.WithError(err).Fatal("failed serving api")
	}
}

func (s *ApiServer) Emit(ev *ApiEvent) {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()

	log.Tracef("emitting websocket event: %s", ev.Type)

	for _, client := range s.clients {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := wsjson.Write(ctx, client, ev)
		cancel()
		if err != nil {
			// purposely do not propagate this to the caller
			log.WithError(err).Error("failed communicating with websocket client")
		}
	}
}

func (s *ApiServer) Receive() <-chan ApiRequest {
	return s.requests
}

func (s *ApiServer) Close() {
	if s.close.Swap(true) {
		return
	}

	close(s.done)

	s.clientsLock.RLock()
	clients := slices.Clone(s.clients)
	s.clientsLock.RUnlock()

	for _, client := range clients {
		_ = client.Close(websocket.StatusGoingAway, "")
	}

	if s.listener != nil {
		_ = s.listener.Close()
	}
}
