// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/fiot-project/fiot-esp/api"
	"github.com/fiot-project/fiot-esp/esp"
	"github.com/fiot-project/fiot-esp/internal/refcipher"
	"github.com/fiot-project/fiot-esp/internal/session"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the responding side of one or more FIOT secure channel associations",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfigFile(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg FIOTServerConfig
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("decode server configuration: %w", err)
		}
		if err := cfg.validate(); err != nil {
			return err
		}
		return runServer(&cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().String("net-listen", "", "UDP address to listen on, host:port")
	serverCmd.Flags().String("http-ip", "127.0.0.1", "Introspection API listen IP")
	serverCmd.Flags().String("http-port", "8080", "Introspection API listen port")
	serverCmd.Flags().String("db-type", "sqlite", "Association store type: sqlite or postgres")
	serverCmd.Flags().String("db-dsn", "", "Association store DSN")

	bindServerFlagKeys()
}

// bindServerFlagKeys maps the server flags onto their nested viper
// config keys. Split out of init so tests can rebind after
// viper.Reset().
func bindServerFlagKeys() {
	_ = viper.BindPFlag("net.listen", serverCmd.Flags().Lookup("net-listen"))
	_ = viper.BindPFlag("http.ip", serverCmd.Flags().Lookup("http-ip"))
	_ = viper.BindPFlag("http.port", serverCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("db.type", serverCmd.Flags().Lookup("db-type"))
	_ = viper.BindPFlag("db.dsn", serverCmd.Flags().Lookup("db-dsn"))
}

// boundAssociation ties a provisioned esp.Context to its bookkeeping
// identity so the UDP read loop can dispatch and the session store can
// be kept current.
type boundAssociation struct {
	ctx  *esp.Context
	peer string
	mu   sync.Mutex
}

func buildContext(p *AssociationProfile, windowSize, tfcLength int) (*esp.Context, error) {
	ctx := esp.NewContext(refcipher.KDF256, refcipher.Factory)
	if err := ctx.SetTransform(p.transform); err != nil {
		return nil, err
	}
	if err := ctx.SetSPI(p.SPI); err != nil {
		return nil, err
	}
	outRoot, outSalt, inRoot, inSalt, err := p.deriveKeyMaterial()
	if err != nil {
		return nil, err
	}
	if err := ctx.SetRootKey(outRoot, esp.DirOut); err != nil {
		return nil, err
	}
	if err := ctx.SetSalt(outSalt, esp.DirOut); err != nil {
		return nil, err
	}
	if err := ctx.SetRootKey(inRoot, esp.DirIn); err != nil {
		return nil, err
	}
	if err := ctx.SetSalt(inSalt, esp.DirIn); err != nil {
		return nil, err
	}
	if windowSize > 0 {
		if err := ctx.SetWindowSize(windowSize); err != nil {
			return nil, err
		}
	}
	if err := ctx.SetTFCLength(tfcLength); err != nil {
		return nil, err
	}
	return ctx, nil
}

// fiotServer holds the listener, the provisioned associations, and
// the bookkeeping store for one `server` invocation.
type fiotServer struct {
	conn  *net.UDPConn
	store *session.Store

	associations map[uint32]*boundAssociation
	limiters     map[string]*rate.Limiter
	limitersMu   sync.Mutex
}

func runServer(cfg *FIOTServerConfig) error {
	store, err := cfg.DB.openStore()
	if err != nil {
		return fmt.Errorf("open association store: %w", err)
	}

	associations := make(map[uint32]*boundAssociation, len(cfg.Associations))
	for i := range cfg.Associations {
		p := &cfg.Associations[i]
		ctx, err := buildContext(p, cfg.WindowSize, cfg.TFCLength)
		if err != nil {
			return fmt.Errorf("spi %d: %w", p.SPI, err)
		}
		if err := store.Register(p.SPI, p.Transform, p.Peer, "server"); err != nil {
			return fmt.Errorf("spi %d: register association: %w", p.SPI, err)
		}
		associations[p.SPI] = &boundAssociation{ctx: ctx, peer: p.Peer}
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Net.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	defer conn.Close()

	srv := &fiotServer{
		conn:         conn,
		store:        store,
		associations: associations,
		limiters:     make(map[string]*rate.Limiter),
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddress(),
		Handler:           api.NewRouter(store),
		ReadHeaderTimeout: 3 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Debug("shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Debug("http server forced to shutdown", "err", err)
		}
	}()

	go func() {
		slog.Info("serving introspection API", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("introspection API stopped", "err", err)
		}
	}()

	slog.Info("listening for ESP datagrams", "addr", conn.LocalAddr().String())
	return srv.serve()
}

// limiterFor returns (creating if necessary) a token-bucket limiter
// for one remote peer, so a single noisy or malicious sender cannot
// starve every other association's read loop.
func (s *fiotServer) limiterFor(peer string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	l, ok := s.limiters[peer]
	if !ok {
		l = rate.NewLimiter(rate.Limit(200), 400)
		s.limiters[peer] = l
	}
	return l
}

func (s *fiotServer) serve() error {
	buf := make([]byte, 65536)
	for {
		n, peerAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if isClosedConnErr(err) {
				return nil
			}
			slog.Error("read udp", "err", err)
			continue
		}

		if !s.limiterFor(peerAddr.String()).Allow() {
			slog.Debug("dropping datagram over per-peer rate limit", "peer", peerAddr.String())
			continue
		}

		packet := append([]byte(nil), buf[:n]...)
		go s.handlePacket(packet, peerAddr)
	}
}

func (s *fiotServer) handlePacket(packet []byte, peerAddr *net.UDPAddr) {
	if len(packet) < 8 {
		slog.Debug("dropping undersized datagram", "peer", peerAddr.String())
		return
	}
	spi := uint32(packet[0])<<24 | uint32(packet[1])<<16 | uint32(packet[2])<<8 | uint32(packet[3])

	assoc, ok := s.associations[spi]
	if !ok {
		slog.Debug("dropping datagram for unknown spi", "spi", spi, "peer", peerAddr.String())
		return
	}

	assoc.mu.Lock()
	payload, nextHeader, err := assoc.ctx.ReadPacket(packet)
	if err != nil {
		assoc.mu.Unlock()
		slog.Debug("packet rejected", "spi", spi, "peer", peerAddr.String(), "err", err)
		return
	}

	reply, err := assoc.ctx.WritePacket(payload, nextHeader)
	seqNum := assoc.ctx.SeqNum()
	inRightBound := assoc.ctx.InRightBound()
	assoc.mu.Unlock()
	if err != nil {
		slog.Error("failed to echo reply", "spi", spi, "err", err)
		return
	}

	if err := s.store.Touch(spi, seqNum, inRightBound); err != nil {
		slog.Debug("failed to update association bookkeeping", "spi", spi, "err", err)
	}

	if _, err := s.conn.WriteToUDP(reply, peerAddr); err != nil {
		slog.Error("failed to send reply", "spi", spi, "err", err)
	}
}

func isClosedConnErr(err error) bool {
	var netErr *net.OpError
	return errors.As(err, &netErr) && netErr.Err.Error() == "use of closed network connection"
}
