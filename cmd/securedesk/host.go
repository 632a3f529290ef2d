package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/securedesk/core/internal/capture"
	"github.com/securedesk/core/internal/clipboard"
	"github.com/securedesk/core/internal/config"
	"github.com/securedesk/core/internal/eventsink"
	"github.com/securedesk/core/internal/identity"
	"github.com/securedesk/core/internal/inject"
	"github.com/securedesk/core/internal/session"
)

var (
	hostFlagRelays       []string
	hostFlagP2P          bool
	hostFlagIdentityPath string
	hostFlagConfigPath   string
	hostFlagInsecureTLS  bool
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run as the controlled machine, accepting incoming sessions over a relay",
	RunE:  runHost,
}

func init() {
	flags := hostCmd.Flags()
	flags.StringSliceVar(&hostFlagRelays, "relay", nil, "relay address(es) to register with, in fallback order (host:port)")
	flags.BoolVar(&hostFlagP2P, "p2p", true, "attempt direct P2P upgrade when a client negotiates it")
	flags.StringVar(&hostFlagIdentityPath, "identity", identity.DefaultPath(), "path to this device's identity file")
	flags.StringVar(&hostFlagConfigPath, "config", config.DefaultPath(), "path to the local configuration file")
	flags.BoolVar(&hostFlagInsecureTLS, "insecure-tls", false, "skip relay certificate verification (development only)")
}

func runHost(cmd *cobra.Command, args []string) error {
	id, err := identity.LoadOrCreate(hostFlagIdentityPath)
	if err != nil {
		return err
	}
	log.Info().Str("device_id", id.DeviceID()).Msg("[securedesk] host identity loaded")

	store := config.NewStore(hostFlagConfigPath)
	cfg, err := store.LoadOrCreate()
	if err != nil {
		return err
	}

	relays := hostFlagRelays
	if len(relays) == 0 {
		relays = cfg.RelayAddresses
	}
	if len(relays) == 0 {
		log.Fatal().Msg("[securedesk] no relay address configured: pass --relay or set relay_addresses in config")
	}

	var tlsConfig *tls.Config
	if hostFlagInsecureTLS {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	supervisor := &session.HostSupervisor{
		ID:             id,
		RelayAddresses: relays,
		TLSConfig:      tlsConfig,
		Capture:        capture.NewStub(),
		Inject:         inject.NewStub(),
		Clipboard:      clipboard.NewStub(),
		Sink:           eventsink.NewLogging(log.Logger),
		P2PEnabled:     hostFlagP2P && cfg.Settings.P2PEnabled,
		Trusted: func() map[string]config.TrustedDevice {
			current, err := store.LoadOrCreate()
			if err != nil {
				log.Warn().Err(err).Msg("[securedesk] reload trusted devices")
				return cfg.TrustedDevices
			}
			return current.TrustedDevices
		},
	}

	log.Info().Strs("relays", relays).Msg("[securedesk] host supervisor starting")
	supervisor.Run(ctx)

	// Allow any in-flight cleanup (overlay teardown, socket close) to settle
	// before the process exits.
	time.Sleep(200 * time.Millisecond)
	_ = os.Stdout.Sync()
	return nil
}
