package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"treadctl/internal/ble"
	"treadctl/internal/commands"
	"treadctl/internal/config"
	"treadctl/internal/treadmill"
	"treadctl/internal/tui"
)

// CLI is the root command structure for treadctl.
type CLI struct {
	Verbose  bool   `short:"v" help:"Enable verbose debug output"`
	Config   string `type:"path" help:"Config file (default: user config dir/treadctl/config.yaml)"`
	Provider string `help:"Bluetooth provider: tinygo or hci (overrides config)"`
	HCI      []int  `name:"hci" help:"HCI adapter ids for the hci provider (repeatable)"`
	Mode     string `help:"Scan mode: auto, stream or enumerate (overrides config)"`

	// Default command - TUI
	Tui TuiCmd `cmd:"" default:"withargs" help:"Launch interactive TUI (default)"`

	Scan     ScanCmd     `cmd:"" help:"Scan for a treadmill"`
	SetSpeed SetSpeedCmd `cmd:"" name:"set-speed" help:"Resume the belt and send the speed command"`
	Explore  ExploreCmd  `cmd:"" help:"List all BLE services and characteristics of a device"`
	Send     SendCmd     `cmd:"" help:"Write raw command frames to a treadmill"`
	Frames   FramesCmd   `cmd:"" help:"List known command frames"`
}

// env is everything a command needs once flags and config are merged.
type env struct {
	cfg      *config.Config
	log      *logrus.Logger
	adapters []ble.Adapter
	close    func() error
}

func (c *CLI) setup() (*env, error) {
	config.Verbose = c.Verbose

	path := c.Config
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if c.Provider != "" {
		cfg.Scan.Provider = c.Provider
	}
	if len(c.HCI) > 0 {
		cfg.Scan.HCIDevices = c.HCI
	}
	if c.Mode != "" {
		cfg.Scan.Mode = c.Mode
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	log, closeLog, err := config.NewLogger(cfg.Logger, c.Verbose)
	if err != nil {
		return nil, err
	}
	config.Log = log

	adapters, err := Adapters(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}
	return &env{cfg: cfg, log: log, adapters: adapters, close: closeLog}, nil
}

// Adapters builds the adapters selected by cfg.
func Adapters(cfg *config.Config) ([]ble.Adapter, error) {
	switch cfg.Scan.Provider {
	case config.ProviderTinyGo, "":
		return []ble.Adapter{ble.NewTinyGo(nil)}, nil
	case config.ProviderHCI:
		adapters := make([]ble.Adapter, 0, len(cfg.Scan.HCIDevices))
		for _, id := range cfg.Scan.HCIDevices {
			adapters = append(adapters, ble.NewHCI(id))
		}
		return adapters, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Scan.Provider)
	}
}

func (e *env) discoverer() *treadmill.Discoverer {
	d := treadmill.NewDiscoverer(treadmill.Mode(e.cfg.Scan.Mode), e.adapters...)
	d.Log = e.log
	return d
}

// sequencer drives the first adapter; only one device is controlled at a time.
func (e *env) sequencer() (*treadmill.Sequencer, error) {
	conn, ok := e.adapters[0].(ble.Connector)
	if !ok {
		return nil, fmt.Errorf("adapter %s cannot connect", e.adapters[0].Name())
	}
	seq, err := treadmill.FromConfig(conn, e.cfg)
	if err != nil {
		return nil, err
	}
	seq.Log = e.log
	return seq, nil
}

// interruptible returns a context cancelled by Ctrl-C.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// --- TUI Command ---

type TuiCmd struct{}

func (c *TuiCmd) Run(globals *CLI) error {
	e, err := globals.setup()
	if err != nil {
		return err
	}
	defer e.close()

	// Terminal log output would tear the alternate screen.
	switch e.cfg.Logger.Output {
	case "", "stderr", "stdout":
		e.log.SetOutput(io.Discard)
	}

	seq, err := e.sequencer()
	if err != nil {
		return err
	}
	return tui.Run(e.discoverer(), seq, e.cfg.Scan.Timeout)
}

// --- Scan Command ---

type ScanCmd struct {
	Seconds int  `arg:"" optional:"" default:"-1" help:"Scan window in seconds, 0-255 (default: scan.timeout from config)"`
	All     bool `help:"Scan for the whole window and list every treadmill"`
}

func (c *ScanCmd) Validate() error {
	if c.Seconds < -1 || c.Seconds > 255 {
		return fmt.Errorf("seconds must be between 0 and 255, got %d", c.Seconds)
	}
	return nil
}

func (c *ScanCmd) timeout(cfg *config.Config) time.Duration {
	if c.Seconds < 0 {
		return cfg.Scan.Timeout
	}
	return time.Duration(c.Seconds) * time.Second
}

func (c *ScanCmd) Run(globals *CLI) error {
	e, err := globals.setup()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := interruptible()
	defer cancel()

	d := e.discoverer()
	if c.All {
		_, err = commands.ScanAll(ctx, commands.Stdio(), d, c.timeout(e.cfg))
		return err
	}
	_, err = commands.Scan(ctx, commands.Stdio(), d, c.timeout(e.cfg))
	return err
}

// --- Control Commands ---

type SetSpeedCmd struct {
	Address string `arg:"" help:"Treadmill address (AA:BB:CC:DD:EE:FF)"`
	Speed   uint8  `arg:"" help:"Target speed (logged; the speed frame is fixed)"`
}

func (c *SetSpeedCmd) Run(globals *CLI) error {
	e, err := globals.setup()
	if err != nil {
		return err
	}
	defer e.close()

	seq, err := e.sequencer()
	if err != nil {
		return err
	}
	ctx, cancel := interruptible()
	defer cancel()
	return commands.SetSpeed(ctx, commands.Stdio(), seq, c.Address, c.Speed)
}

type ExploreCmd struct {
	Address string `arg:"" help:"Device address (AA:BB:CC:DD:EE:FF)"`
}

func (c *ExploreCmd) Run(globals *CLI) error {
	e, err := globals.setup()
	if err != nil {
		return err
	}
	defer e.close()

	seq, err := e.sequencer()
	if err != nil {
		return err
	}
	ctx, cancel := interruptible()
	defer cancel()
	return commands.Explore(ctx, commands.Stdio(), seq, c.Address)
}

type SendCmd struct {
	Address  string   `arg:"" help:"Treadmill address (AA:BB:CC:DD:EE:FF)"`
	Frames   []string `arg:"" sep:"none" help:"Frame names (see 'frames') or hex frames such as 'f0 c3 03 03 0b 00 c4'"`
	Checksum bool     `help:"Append the checksum to hex frames instead of expecting it"`
}

func (c *SendCmd) Run(globals *CLI) error {
	e, err := globals.setup()
	if err != nil {
		return err
	}
	defer e.close()

	seq, err := e.sequencer()
	if err != nil {
		return err
	}
	ctx, cancel := interruptible()
	defer cancel()
	return commands.Send(ctx, commands.Stdio(), seq, c.Address, c.Frames, c.Checksum)
}

type FramesCmd struct{}

func (c *FramesCmd) Run(globals *CLI) error {
	config.Verbose = globals.Verbose
	commands.Frames(commands.Stdio())
	return nil
}
