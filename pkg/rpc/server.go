// Copyright © 2024 Stratus
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package rpc serves the Ethereum JSON-RPC surface plus the stratus admin
// namespace over HTTP and WebSocket on one listener.
package rpc

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	log "github.com/sirupsen/logrus"

	"github.com/stratusevm/stratus/pkg/node"
)

// DefaultTimeout is the base request timeout; the HTTP server's read and write
// timeouts are five times it.
const DefaultTimeout = 2 * time.Second

// Server hosts the eth, net, web3 and stratus namespaces.
type Server struct {
	addr string
	rpc  *rpc.Server
	http *http.Server
}

// NewServer registers the namespaces and prepares the listener.
func NewServer(n *node.Node, addr string) (*Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("eth", NewEthAPI(n)); err != nil {
		return nil, err
	}
	if err := server.RegisterName("net", &NetAPI{}); err != nil {
		return nil, err
	}
	if err := server.RegisterName("web3", &Web3API{}); err != nil {
		return nil, err
	}
	if err := server.RegisterName("stratus", NewStratusAPI(n)); err != nil {
		return nil, err
	}

	s := &Server{addr: addr, rpc: server}
	ws := server.WebsocketHandler([]string{"*"})
	mux := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			ws.ServeHTTP(w, r)
			return
		}
		server.ServeHTTP(w, r)
	})
	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  DefaultTimeout * 5,
		WriteTimeout: DefaultTimeout * 5,
	}
	return s, nil
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.addr).Info("rpc server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.rpc.Stop()
		return s.http.Shutdown(shutdownCtx)
	}
}
