package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// InfoReport is what the info command shows, also used for --json output.
type InfoReport struct {
	Port             string   `json:"port"`
	Session          string   `json:"session"`
	Source           string   `json:"source"`
	TargetName       string   `json:"target"`
	PlatformName     string   `json:"platform"`
	CLRVersion       string   `json:"clr_version"`
	BooterVersion    string   `json:"booter_version"`
	BigEndian        bool     `json:"big_endian"`
	CRC32            bool     `json:"crc32"`
	Capabilities     []string `json:"capabilities,omitempty"`
	BuildDate        string   `json:"build_date,omitempty"`
	Compiler         string   `json:"compiler,omitempty"`
	NativeAssemblies []string `json:"native_assemblies,omitempty"`
}

var capabilityNames = []struct {
	flag uint32
	name string
}{
	{protocol.CapFloatingPoint, "floating-point"},
	{protocol.CapSourceLevelDebugging, "source-level-debugging"},
	{protocol.CapAppDomains, "app-domains"},
	{protocol.CapExceptionFilters, "exception-filters"},
	{protocol.CapIncrementalDeployment, "incremental-deployment"},
	{protocol.CapSoftReboot, "soft-reboot"},
	{protocol.CapProfiling, "profiling"},
	{protocol.CapThreadCreateEx, "thread-create-ex"},
	{protocol.CapConfigBlockNeedsErase, "config-block-needs-erase"},
	{protocol.CapHasNanoBooter, "nanobooter"},
	{protocol.CapCanChangeMACAddress, "change-mac-address"},
}

// CollectInfo gathers identity and capabilities of a connected target.
func CollectInfo(ctx context.Context, e *engine.Engine) (*InfoReport, error) {
	id, err := e.Identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	r := &InfoReport{
		Port:          e.Port().InstanceID(),
		Session:       e.SessionID(),
		Source:        e.Source().String(),
		TargetName:    id.TargetName,
		PlatformName:  id.PlatformName,
		CLRVersion:    id.CLRVersion.String(),
		BooterVersion: id.BooterVersion.String(),
		BigEndian:     e.IsBigEndian(),
		CRC32:         e.SupportsCRC32(),
	}
	if caps := e.Capabilities(); caps != nil {
		for _, c := range capabilityNames {
			if caps.Has(c.flag) {
				r.Capabilities = append(r.Capabilities, c.name)
			}
		}
		r.BuildDate = caps.Software.BuildDate
		r.Compiler = strings.TrimSpace(fmt.Sprintf("%s %d", caps.Software.CompilerInfo, caps.Software.CompilerVersion))
		for _, na := range caps.NativeAssemblies {
			r.NativeAssemblies = append(r.NativeAssemblies, fmt.Sprintf("%s %s", na.Name, na.Version))
		}
	}
	return r, nil
}

// Info prints the identity of the target.
func Info(ctx context.Context, w io.Writer, e *engine.Engine, asJSON bool) error {
	r, err := CollectInfo(ctx, e)
	if err != nil {
		return err
	}
	if asJSON {
		return PrintJSON(w, r)
	}
	fmt.Fprintf(w, "%s (%s)\n", r.TargetName, r.PlatformName)
	field(w, "Port", r.Port)
	field(w, "Running", r.Source)
	field(w, "CLR", r.CLRVersion)
	field(w, "nanoBooter", r.BooterVersion)
	order := "little-endian"
	if r.BigEndian {
		order = "big-endian"
	}
	field(w, "Byte order", order)
	field(w, "CRC32", r.CRC32)
	if r.BuildDate != "" {
		field(w, "Build", r.BuildDate)
	}
	if r.Compiler != "" {
		field(w, "Compiler", r.Compiler)
	}
	if len(r.Capabilities) > 0 {
		field(w, "Capabilities", strings.Join(r.Capabilities, ", "))
	}
	if len(r.NativeAssemblies) > 0 {
		fmt.Fprintf(w, "\nNative assemblies (%d):\n", len(r.NativeAssemblies))
		for _, na := range r.NativeAssemblies {
			fmt.Fprintf(w, "  %s\n", na)
		}
	}
	return nil
}

// Ping checks the target answers and shows who answered.
func Ping(ctx context.Context, w io.Writer, e *engine.Engine) error {
	res, err := e.Ping(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s answered from %s (crc32=%v big-endian=%v)\n",
		e.Port().InstanceID(), res.Source, res.SupportsCRC32, res.BigEndian)
	return nil
}

// FlashMap prints the flash sector map.
func FlashMap(ctx context.Context, w io.Writer, e *engine.Engine) error {
	sectors, err := e.FlashSectorMap(ctx)
	if err != nil {
		return err
	}
	tw := table(w)
	fmt.Fprintln(tw, "START\tEND\tBLOCKS\tBLOCK SIZE\tSIZE\tUSAGE")
	for _, s := range sectors {
		fmt.Fprintf(tw, "0x%08X\t0x%08X\t%d\t%s\t%s\t%s\n",
			s.StartAddress, s.StartAddress+s.Size(), s.NumBlocks,
			humanize.IBytes(uint64(s.BytesPerBlock)), humanize.IBytes(uint64(s.Size())),
			protocol.BlockUsageName(s.Flags))
	}
	return tw.Flush()
}

// DeploymentMap prints the assemblies currently in the deployment area.
func DeploymentMap(ctx context.Context, w io.Writer, e *engine.Engine) error {
	assemblies, err := e.DeploymentMap(ctx)
	if err != nil {
		return err
	}
	if len(assemblies) == 0 {
		fmt.Fprintln(w, "Deployment area is empty.")
		return nil
	}
	tw := table(w)
	fmt.Fprintln(tw, "ADDRESS\tSIZE\tCRC")
	var total uint64
	for _, a := range assemblies {
		fmt.Fprintf(tw, "0x%08X\t%s\t0x%08X\n", a.Address, humanize.IBytes(uint64(a.Size)), a.CRC)
		total += uint64(a.Size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d assemblies, %s\n", len(assemblies), humanize.IBytes(total))
	return nil
}

// MemoryMap prints RAM and flash regions.
func MemoryMap(ctx context.Context, w io.Writer, e *engine.Engine) error {
	regions, err := e.MemoryMap(ctx)
	if err != nil {
		return err
	}
	tw := table(w)
	fmt.Fprintln(tw, "ADDRESS\tLENGTH\tKIND")
	for _, r := range regions {
		kind := "unknown"
		switch r.Flags {
		case protocol.MemoryRAM:
			kind = "RAM"
		case protocol.MemoryFlash:
			kind = "FLASH"
		}
		fmt.Fprintf(tw, "0x%08X\t%s\t%s\n", r.Address, humanize.IBytes(uint64(r.Length)), kind)
	}
	return tw.Flush()
}

// RebootModes maps CLI names to reboot options.
var RebootModes = map[string]uint32{
	"normal": protocol.RebootNormal,
	"clr":    protocol.RebootClrOnly,
	"booter": protocol.RebootEnterNanoBooter,
}

// Reboot restarts the target.
func Reboot(ctx context.Context, w io.Writer, e *engine.Engine, mode string) error {
	if mode == "booter" {
		if err := e.ConnectToNanoBooter(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "Target is running nanoBooter.")
		return nil
	}
	opt, ok := RebootModes[mode]
	if !ok {
		return fmt.Errorf("unknown reboot mode %q", mode)
	}
	if err := e.Reboot(ctx, opt); err != nil {
		return err
	}
	fmt.Fprintf(w, "Reboot (%s) sent.\n", mode)
	return nil
}
