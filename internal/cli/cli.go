package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/nanoframework/nf-debugger-sub001/internal/ble"
	"github.com/nanoframework/nf-debugger-sub001/internal/commands"
	"github.com/nanoframework/nf-debugger-sub001/internal/config"
	"github.com/nanoframework/nf-debugger-sub001/internal/deploy"
	"github.com/nanoframework/nf-debugger-sub001/internal/discovery"
	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/firmware"
	"github.com/nanoframework/nf-debugger-sub001/internal/tui"
	"github.com/nanoframework/nf-debugger-sub001/internal/util"
)

// CLI is the root command structure for nfdbg.
type CLI struct {
	Verbose bool   `short:"v" help:"Enable verbose debug output"`
	Config  string `short:"c" type:"path" help:"Configuration file (default: nfdbg/config.toml in the user config directory)"`
	Port    string `short:"p" env:"NFDBG_PORT" help:"Device address: COM3, /dev/ttyACM0, tcp://host[:port] or ble://name"`
	Baud    int    `short:"b" help:"Serial baud rate (default: try the configured rates)"`
	JSON    bool   `help:"Print JSON where supported"`

	Devices       DevicesCmd       `cmd:"" help:"Find and watch devices"`
	Ping          PingCmd          `cmd:"" help:"Check which firmware answers"`
	Info          InfoCmd          `cmd:"" help:"Show target, firmware and capabilities"`
	FlashMap      FlashMapCmd      `cmd:"" name:"flash-map" help:"Show the flash sector map"`
	DeploymentMap DeploymentMapCmd `cmd:"" name:"deployment-map" help:"Show deployed assemblies"`
	MemoryMap     MemoryMapCmd     `cmd:"" name:"memory-map" help:"Show RAM and flash ranges"`
	Memory        MemoryCmd        `cmd:"" help:"Raw memory access"`
	Deploy        DeployCmd        `cmd:"" help:"Deploy assemblies or firmware"`
	Reboot        RebootCmd        `cmd:"" help:"Reboot the device"`
	Exec          ExecCmd          `cmd:"" help:"Execution control"`
	Threads       ThreadsCmd       `cmd:"" help:"List managed threads"`
	Assemblies    AssembliesCmd    `cmd:"" help:"List loaded assemblies"`
	Monitor       MonitorCmd       `cmd:"" help:"Print debug output until interrupted"`
	DeviceConfig  DeviceConfigCmd  `cmd:"" name:"config" help:"Device configuration blocks"`
	Settings      SettingsCmd      `cmd:"" help:"Show effective tool settings"`
	Cache         CacheCmd         `cmd:"" help:"Known device cache"`
	Images        ImagesCmd        `cmd:"" help:"Deployed image cache"`
	Debug         DebugCmd         `cmd:"" help:"Debug and development tools"`
}

// Vars returns the interpolation variables used in help strings.
func Vars() kong.Vars {
	return kong.Vars{
		"config_kinds": strings.Join(commands.ConfigKindNames(), ", "),
	}
}

// withDevice connects, runs fn and disposes the engine.
func (g *CLI) withDevice(ctx context.Context, fn func(e *engine.Engine, s *session) error) error {
	e, s, done, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer done()
	return fn(e, s)
}

// --- Devices ---

type DevicesCmd struct {
	List  DevicesListCmd  `cmd:"" default:"1" help:"Enumerate devices once"`
	Watch DevicesWatchCmd `cmd:"" help:"Follow device arrival and departure"`
}

type DevicesListCmd struct{}

func (c *DevicesListCmd) Run(g *CLI, ctx context.Context) error {
	s, err := g.session()
	if err != nil {
		return err
	}
	cache, closeCache, err := s.deviceCache(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("device cache unavailable")
		cache, closeCache = nil, func() {}
	}
	defer closeCache()

	m := s.manager(cache)
	defer m.Close()
	if err := m.Start(ctx); err != nil {
		return err
	}
	if err := waitEnumerated(ctx, m); err != nil {
		return err
	}
	m.Stop()
	if g.JSON {
		return commands.PrintJSON(os.Stdout, deviceReports(m.Devices()))
	}
	return commands.ListDevices(os.Stdout, m.Devices())
}

type deviceReport struct {
	Port     string `json:"port"`
	Kind     string `json:"kind"`
	Target   string `json:"target"`
	Platform string `json:"platform"`
	BaudRate int    `json:"baud_rate,omitempty"`
}

func deviceReports(devs []*discovery.Device) []deviceReport {
	out := make([]deviceReport, 0, len(devs))
	for _, d := range devs {
		out = append(out, deviceReport{
			Port:     d.Port,
			Kind:     d.Kind.String(),
			Target:   d.Identity.TargetName,
			Platform: d.Identity.PlatformName,
			BaudRate: d.BaudRate,
		})
	}
	return out
}

type DevicesWatchCmd struct {
	Plain bool `help:"Print events as lines instead of the interactive view"`
}

func (c *DevicesWatchCmd) Run(g *CLI, ctx context.Context) error {
	s, err := g.session()
	if err != nil {
		return err
	}
	cache, closeCache, err := s.deviceCache(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("device cache unavailable")
		cache, closeCache = nil, func() {}
	}
	defer closeCache()

	m := s.manager(cache)
	defer m.Close()
	if err := m.Start(ctx); err != nil {
		return err
	}

	if !c.Plain && interactive() {
		return tui.RunWatch(ctx, m)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-m.Events():
			if !ok {
				return nil
			}
			commands.PrintDeviceEvent(os.Stdout, ev)
		}
	}
}

// --- Device queries ---

type PingCmd struct{}

func (c *PingCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.Ping(ctx, os.Stdout, e)
	})
}

type InfoCmd struct{}

func (c *InfoCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.Info(ctx, os.Stdout, e, g.JSON)
	})
}

type FlashMapCmd struct{}

func (c *FlashMapCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.FlashMap(ctx, os.Stdout, e)
	})
}

type DeploymentMapCmd struct{}

func (c *DeploymentMapCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.DeploymentMap(ctx, os.Stdout, e)
	})
}

type MemoryMapCmd struct{}

func (c *MemoryMapCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.MemoryMap(ctx, os.Stdout, e)
	})
}

// --- Memory ---

type MemoryCmd struct {
	Read  MemoryReadCmd  `cmd:"" help:"Read memory as a hex dump or to a file"`
	Erase MemoryEraseCmd `cmd:"" help:"Erase flash"`
	Check MemoryCheckCmd `cmd:"" help:"Compute the device CRC32 of a range"`
}

// memoryRange is the address/length pair shared by the memory commands.
type memoryRange struct {
	Address string `arg:"" help:"Start address (0x prefix for hex)"`
	Length  string `arg:"" help:"Byte count"`
}

func (r memoryRange) parse() (uint32, uint32, error) {
	addr, err := commands.ParseUint32(r.Address)
	if err != nil {
		return 0, 0, fmt.Errorf("address: %w", err)
	}
	n, err := commands.ParseUint32(r.Length)
	if err != nil {
		return 0, 0, fmt.Errorf("length: %w", err)
	}
	return addr, n, nil
}

type MemoryReadCmd struct {
	Range  memoryRange `embed:""`
	Output string      `short:"o" type:"path" help:"Write the bytes to a file"`
}

func (c *MemoryReadCmd) Run(g *CLI, ctx context.Context) error {
	addr, n, err := c.Range.parse()
	if err != nil {
		return err
	}
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.ReadMemory(ctx, os.Stdout, e, addr, n, c.Output)
	})
}

type MemoryEraseCmd struct {
	Range memoryRange `embed:""`
	Yes   bool        `short:"y" help:"Do not ask for confirmation"`
}

func (c *MemoryEraseCmd) Run(g *CLI, ctx context.Context) error {
	addr, n, err := c.Range.parse()
	if err != nil {
		return err
	}
	if !c.Yes && !commands.ConfirmAction(os.Stdin, os.Stdout, fmt.Sprintf("Erase %d bytes at 0x%08X?", n, addr)) {
		return nil
	}
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.EraseMemory(ctx, os.Stdout, e, addr, n)
	})
}

type MemoryCheckCmd struct {
	Range memoryRange `embed:""`
}

func (c *MemoryCheckCmd) Run(g *CLI, ctx context.Context) error {
	addr, n, err := c.Range.parse()
	if err != nil {
		return err
	}
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.CheckMemory(ctx, os.Stdout, e, addr, n)
	})
}

// --- Deploy ---

type DeployCmd struct {
	Files    []string `arg:"" type:"existingfile" help:"Assembly images, or one firmware binary with --firmware"`
	Full     bool     `help:"Append after the deployed assemblies instead of rewriting the deployment area"`
	Firmware bool     `help:"Write to the code area through nanoBooter"`
	NoVerify bool     `help:"Skip the read-back check"`
	Reboot   bool     `help:"Restart the CLR after writing"`
	Pad      bool     `default:"true" negatable:"" help:"Zero pad each image to a 4 byte boundary"`
}

func (c *DeployCmd) options() []deploy.Option {
	strategy := deploy.Incremental
	if c.Full {
		strategy = deploy.Full
	}
	return []deploy.Option{
		deploy.WithStrategy(strategy),
		deploy.WithFirmware(c.Firmware),
		deploy.WithVerify(!c.NoVerify),
		deploy.WithReboot(c.Reboot),
	}
}

func (c *DeployCmd) Run(g *CLI, ctx context.Context) error {
	images := make([]*firmware.Image, 0, len(c.Files))
	for _, f := range c.Files {
		img, err := firmware.Load(f, c.Pad)
		if err != nil {
			return err
		}
		images = append(images, img)
	}

	return g.withDevice(ctx, func(e *engine.Engine, s *session) error {
		cache, err := firmware.NewCache()
		if err != nil {
			s.log.Warn().Err(err).Msg("image cache unavailable")
			cache = nil
		}
		opts := append(c.options(), deploy.WithLogger(s.log))

		if g.JSON || !interactive() {
			_, err := commands.Deploy(ctx, os.Stdout, e, images, cache,
				append(opts, deploy.WithProgress(commands.ProgressPrinter(os.Stdout)))...)
			return err
		}
		title := fmt.Sprintf("Deploying %d image(s) to %s", len(images), e.Port().InstanceID())
		_, err = tui.RunDeploy(ctx, title, func(progress func(deploy.Progress)) (*deploy.Result, error) {
			return commands.Deploy(ctx, io.Discard, e, images, cache, append(opts, deploy.WithProgress(progress))...)
		})
		return err
	})
}

// --- Reboot and execution ---

type RebootCmd struct {
	Mode string `arg:"" optional:"" default:"normal" enum:"normal,clr,booter" help:"normal, clr or booter"`
}

func (c *RebootCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.Reboot(ctx, os.Stdout, e, c.Mode)
	})
}

type ExecCmd struct {
	State  ExecStateCmd  `cmd:"" default:"1" help:"Show the execution mode"`
	Pause  ExecPauseCmd  `cmd:"" help:"Stop managed execution"`
	Resume ExecResumeCmd `cmd:"" help:"Resume managed execution"`
}

type ExecStateCmd struct{}

func (c *ExecStateCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.ExecState(ctx, os.Stdout, e)
	})
}

type ExecPauseCmd struct{}

func (c *ExecPauseCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.ExecPause(ctx, os.Stdout, e)
	})
}

type ExecResumeCmd struct{}

func (c *ExecResumeCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.ExecResume(ctx, os.Stdout, e)
	})
}

type ThreadsCmd struct {
	Stacks bool `short:"s" help:"Include call stacks"`
}

func (c *ThreadsCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.Threads(ctx, os.Stdout, e, c.Stacks)
	})
}

type AssembliesCmd struct{}

func (c *AssembliesCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.Assemblies(ctx, os.Stdout, e)
	})
}

type MonitorCmd struct{}

func (c *MonitorCmd) Run(g *CLI, ctx context.Context) error {
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		fmt.Fprintf(os.Stderr, "Monitoring %s, press Ctrl+C to stop\n", e.Port().InstanceID())
		return commands.Monitor(ctx, os.Stdout, e)
	})
}

// --- Configuration ---

type DeviceConfigCmd struct {
	Get DeviceConfigGetCmd `cmd:"" help:"Read a configuration block"`
}

type DeviceConfigGetCmd struct {
	Kind  string `arg:"" help:"Block kind: ${config_kinds}"`
	Block uint32 `arg:"" optional:"" help:"Block index"`
}

func (c *DeviceConfigGetCmd) Run(g *CLI, ctx context.Context) error {
	if _, ok := commands.ConfigKinds[c.Kind]; !ok {
		return fmt.Errorf("unknown configuration kind %q (want one of %s)", c.Kind, strings.Join(commands.ConfigKindNames(), ", "))
	}
	return g.withDevice(ctx, func(e *engine.Engine, _ *session) error {
		return commands.ConfigGet(ctx, os.Stdout, e, c.Kind, c.Block)
	})
}

type SettingsCmd struct{}

func (c *SettingsCmd) Run(g *CLI) error {
	s, err := g.session()
	if err != nil {
		return err
	}
	if g.JSON {
		return commands.PrintJSON(os.Stdout, s.cfg)
	}
	out, err := s.cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

// --- Caches ---

type CacheCmd struct {
	List  CacheListCmd  `cmd:"" default:"1" help:"List remembered devices"`
	Clear CacheClearCmd `cmd:"" help:"Forget all remembered devices"`
}

type CacheListCmd struct{}

func (c *CacheListCmd) Run(g *CLI, ctx context.Context) error {
	s, err := g.session()
	if err != nil {
		return err
	}
	cache, done, err := s.deviceCache(ctx)
	if err != nil {
		return err
	}
	defer done()
	return commands.ListCachedDevices(os.Stdout, cache)
}

type CacheClearCmd struct{}

func (c *CacheClearCmd) Run(g *CLI, ctx context.Context) error {
	s, err := g.session()
	if err != nil {
		return err
	}
	cache, done, err := s.deviceCache(ctx)
	if err != nil {
		return err
	}
	defer done()
	n := cache.Len()
	if err := cache.Clear(ctx); err != nil {
		return err
	}
	fmt.Printf("Removed %d device(s)\n", n)
	return nil
}

type ImagesCmd struct {
	List  ImagesListCmd  `cmd:"" default:"1" help:"List cached images"`
	Clear ImagesClearCmd `cmd:"" help:"Delete all cached images"`
}

type ImagesListCmd struct{}

func (c *ImagesListCmd) Run(g *CLI) error {
	cache, err := firmware.NewCache()
	if err != nil {
		return err
	}
	return commands.ListImages(os.Stdout, cache)
}

type ImagesClearCmd struct {
	Yes bool `short:"y" help:"Do not ask for confirmation"`
}

func (c *ImagesClearCmd) Run(g *CLI) error {
	cache, err := firmware.NewCache()
	if err != nil {
		return err
	}
	if !c.Yes && !commands.ConfirmAction(os.Stdin, os.Stdout, "Delete all cached images?") {
		return nil
	}
	if err := cache.Clear(); err != nil {
		return err
	}
	fmt.Printf("Cleared %s\n", cache.Path())
	return nil
}

// --- Debug ---

type DebugCmd struct {
	Decode DebugDecodeCmd `cmd:"" help:"Decode a raw capture of debugger traffic"`
	Scan   DebugScanCmd   `cmd:"" help:"Scan for BLE devices exposing the UART service"`
}

type DebugDecodeCmd struct {
	File      string `arg:"" type:"existingfile" help:"Capture file"`
	Hex       bool   `help:"The file holds a hex dump instead of raw bytes"`
	BigEndian bool   `help:"Decode payloads as big-endian"`
}

func (c *DebugDecodeCmd) Run(g *CLI) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	if c.Hex {
		if data, err = util.ParseHex(string(data)); err != nil {
			return fmt.Errorf("%s: %w", c.File, err)
		}
	}
	log := config.SetupLogging(g.Verbose, os.Stderr)
	return commands.Decode(os.Stdout, data, c.BigEndian, log)
}

type DebugScanCmd struct{}

func (c *DebugScanCmd) Run(g *CLI, ctx context.Context) error {
	log := config.SetupLogging(g.Verbose, os.Stderr)
	found, err := ble.Scan(ctx, log)
	if err != nil {
		return err
	}
	if g.JSON {
		return commands.PrintJSON(os.Stdout, found)
	}
	if len(found) == 0 {
		fmt.Println("No BLE devices found.")
		return nil
	}
	for _, f := range found {
		fmt.Printf("  %-24s %s  %d dBm\n", f.Name, f.Address, f.RSSI)
	}
	return nil
}
