package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	canopen "github.com/samsamfire/gocanopen-sdo"
	can "github.com/samsamfire/gocanopen-sdo/pkg/can"
	"github.com/samsamfire/gocanopen-sdo/pkg/config"
	"github.com/samsamfire/gocanopen-sdo/pkg/node"
	"github.com/samsamfire/gocanopen-sdo/pkg/od"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type serveFlags struct {
	config    string
	iface     string
	channel   string
	eds       string
	nodeId    int
	logLevel  string
	noBlock   bool
	noSegment bool
}

// Configuration file first, then flags explicitly set
func resolveConfig(cmd *cobra.Command, flags *serveFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.config != "" {
		loaded, err := config.Load(flags.config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	changed := cmd.Flags().Changed
	if changed("interface") {
		cfg.Interface = flags.iface
	}
	if changed("channel") {
		cfg.Channel = flags.channel
	}
	if changed("eds") {
		cfg.EDS = flags.eds
	}
	if changed("node-id") {
		cfg.NodeId = flags.nodeId
	}
	if changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if flags.noBlock {
		disabled := false
		cfg.SDO.Block = &disabled
	}
	if flags.noSegment {
		disabled := false
		cfg.SDO.Segmented = &disabled
	}
	return cfg, cfg.Validate()
}

func loadDictionary(path string, nodeId uint8) (*od.ObjectDictionary, error) {
	if path == "" {
		return od.Default(nodeId), nil
	}
	odict, err := od.Parse(path, nodeId)
	if err != nil {
		return nil, fmt.Errorf("parse EDS %s: %w", path, err)
	}
	return odict, nil
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SDO server node until interrupted",
		Example: `  sdoserver serve --config node.yaml
  sdoserver serve --interface socketcan --channel can0 --node-id 0x20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			level, err := log.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			if raw, err := cfg.Marshal(); err == nil {
				log.Debugf("configuration :\n%s", raw)
			}

			odict, err := loadDictionary(cfg.EDS, uint8(cfg.NodeId))
			if err != nil {
				return err
			}
			bus, err := can.NewBus(cfg.Interface, cfg.Channel)
			if err != nil {
				return err
			}
			bm := canopen.NewBusManager(bus)
			if err := bus.Subscribe(bm); err != nil {
				return err
			}
			if err := bus.Connect(); err != nil {
				return fmt.Errorf("connect %s %s: %w", cfg.Interface, cfg.Channel, err)
			}
			defer bus.Disconnect()

			n, err := node.New(bm, odict, cfg)
			if err != nil {
				return err
			}
			defer n.Close()
			log.Infof("node x%x serving on %s %s", n.ID(), cfg.Interface, cfg.Channel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = n.Run(ctx)
			for _, server := range n.Servers() {
				stats := server.Stats()
				log.Infof("transfers %v, aborts %v, read failures %v, write failures %v",
					stats.Transfers, stats.Aborts, stats.ObjReadFail, stats.ObjWriteFail)
			}
			return err
		},
	}
	bindServeFlags(cmd, flags)
	return cmd
}

func bindServeFlags(cmd *cobra.Command, flags *serveFlags) {
	cmd.Flags().StringVarP(&flags.config, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVarP(&flags.iface, "interface", "i", config.DefaultInterface, "CAN interface type, see interfaces command")
	cmd.Flags().StringVar(&flags.channel, "channel", config.DefaultChannel, "CAN channel e.g. can0, vcan0")
	cmd.Flags().StringVarP(&flags.eds, "eds", "p", "", "EDS file path, embedded dictionary if empty")
	cmd.Flags().IntVarP(&flags.nodeId, "node-id", "n", config.DefaultNodeId, "node id")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&flags.noBlock, "no-block", false, "refuse block transfers")
	cmd.Flags().BoolVar(&flags.noSegment, "no-segmented", false, "refuse segmented transfers")
}
