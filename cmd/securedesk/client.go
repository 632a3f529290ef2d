package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/securedesk/core/internal/config"
	"github.com/securedesk/core/internal/eventsink"
	"github.com/securedesk/core/internal/identity"
	"github.com/securedesk/core/internal/session"
)

var (
	clientFlagRelay        string
	clientFlagTarget       string
	clientFlagP2P          bool
	clientFlagIdentityPath string
	clientFlagConfigPath   string
	clientFlagInsecureTLS  bool
	clientFlagOutputJPEG   string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run as the controlling machine, connecting to a host device over a relay",
	RunE:  runClient,
}

func init() {
	flags := clientCmd.Flags()
	flags.StringVar(&clientFlagRelay, "relay", "", "relay address to dial (host:port)")
	flags.StringVar(&clientFlagTarget, "target", "", "device ID of the host to connect to")
	flags.BoolVar(&clientFlagP2P, "p2p", true, "attempt a direct P2P upgrade after connecting")
	flags.StringVar(&clientFlagIdentityPath, "identity", identity.DefaultPath(), "path to this device's identity file")
	flags.StringVar(&clientFlagConfigPath, "config", config.DefaultPath(), "path to the local configuration file")
	flags.BoolVar(&clientFlagInsecureTLS, "insecure-tls", false, "skip relay certificate verification (development only)")
	flags.StringVar(&clientFlagOutputJPEG, "screenshot", "", "if set, request one video frame and write its JPEG bytes to this path, then exit")
	clientCmd.MarkFlagRequired("relay")
	clientCmd.MarkFlagRequired("target")
}

func runClient(cmd *cobra.Command, args []string) error {
	id, err := identity.LoadOrCreate(clientFlagIdentityPath)
	if err != nil {
		return err
	}
	log.Info().Str("device_id", id.DeviceID()).Msg("[securedesk] client identity loaded")

	store := config.NewStore(clientFlagConfigPath)
	cfg, err := store.LoadOrCreate()
	if err != nil {
		return err
	}

	var tlsConfig *tls.Config
	if clientFlagInsecureTLS {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sink := eventsink.NewLogging(log.Logger)
	p2pEnabled := clientFlagP2P && cfg.Settings.P2PEnabled

	sess, err := session.DialClient(ctx, clientFlagRelay, tlsConfig, id, clientFlagTarget, sink, p2pEnabled)
	if err != nil {
		return fmt.Errorf("[securedesk] dial client: %w", err)
	}
	defer sess.Disconnect()

	log.Info().Str("target", clientFlagTarget).Msg("[securedesk] secure channel established")

	if err := sess.RequestSession(ctx); err != nil {
		return fmt.Errorf("[securedesk] session request: %w", err)
	}
	log.Info().Msg("[securedesk] session accepted")

	if p2pEnabled {
		if err := sess.NegotiateP2P(ctx); err != nil {
			log.Warn().Err(err).Msg("[securedesk] P2P negotiation failed, staying on relay")
		} else {
			log.Info().Str("transport", sess.ConnectionType().String()).Msg("[securedesk] connection type")
		}
	}

	if clientFlagOutputJPEG != "" {
		width, height, jpeg, ok, err := sess.RequestAndReceiveFrame()
		if err != nil {
			return fmt.Errorf("[securedesk] request frame: %w", err)
		}
		if !ok {
			return fmt.Errorf("[securedesk] host sent no usable video frame")
		}
		if err := os.WriteFile(clientFlagOutputJPEG, jpeg, 0o600); err != nil {
			return fmt.Errorf("[securedesk] write screenshot: %w", err)
		}
		log.Info().Uint16("width", width).Uint16("height", height).Str("path", clientFlagOutputJPEG).
			Msg("[securedesk] screenshot saved")
		return nil
	}

	<-ctx.Done()
	time.Sleep(100 * time.Millisecond)
	return nil
}
