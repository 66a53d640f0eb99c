// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fiot-project/fiot-esp/esp"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Drive the initiating side of one FIOT secure channel association",
	Long: `client provisions a single security association from
	configuration and sends periodic payloads to a server over UDP. No key
	agreement is performed: both root keys and salts must already be
	shared out of band, the same way manually-keyed IPsec SAs are set up.
`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfigFile(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg FIOTClientConfig
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("decode client configuration: %w", err)
		}
		if err := cfg.validate(); err != nil {
			return err
		}
		return runClient(&cfg)
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)

	clientCmd.Flags().String("net-remote", "", "UDP address of the server, host:port")
	clientCmd.Flags().Int("interval-ms", 1000, "Milliseconds between sent payloads")

	_ = viper.BindPFlag("net.remote", clientCmd.Flags().Lookup("net-remote"))
	_ = viper.BindPFlag("interval_ms", clientCmd.Flags().Lookup("interval-ms"))
}

func runClient(cfg *FIOTClientConfig) error {
	ctx, err := buildContext(&cfg.Association, cfg.WindowSize, cfg.TFCLength)
	if err != nil {
		return fmt.Errorf("provision association: %w", err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", cfg.Net.RemoteAddr)
	if err != nil {
		return fmt.Errorf("resolve remote address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, remoteAddr)
	if err != nil {
		return fmt.Errorf("dial udp: %w", err)
	}
	defer conn.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.IntervalMS) * time.Millisecond)
	defer ticker.Stop()

	slog.Info("sending to server", "addr", remoteAddr.String(), "spi", cfg.Association.SPI)

	readBuf := make([]byte, 65536)
	seq := 0
	for {
		select {
		case <-stop:
			slog.Debug("client shutting down")
			return nil
		case <-ticker.C:
			if err := sendAndReceive(conn, ctx, readBuf, seq); err != nil {
				slog.Error("exchange failed", "err", err)
			}
			seq++
		}
	}
}

func sendAndReceive(conn *net.UDPConn, ctx *esp.Context, readBuf []byte, seq int) error {
	payload := []byte(fmt.Sprintf("ping %d", seq))
	packet, err := ctx.WritePacket(payload, 0)
	if err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	n, err := conn.Read(readBuf)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}

	reply, _, err := ctx.ReadPacket(readBuf[:n])
	if err != nil {
		return fmt.Errorf("read packet: %w", err)
	}
	slog.Debug("received reply", "payload", string(reply))
	return nil
}
