package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// FlashSectorMap returns the target flash layout. The map is cached for the
// session and dropped on reboot.
func (e *Engine) FlashSectorMap(ctx context.Context) ([]protocol.FlashSector, error) {
	e.mu.RLock()
	cached := e.flashMap
	e.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	reply, err := request[*protocol.FlashSectorMapReply](ctx, e, protocol.CmdFlashSectorMap, nil, e.defaultCall())
	if err != nil {
		return nil, err
	}
	if len(reply.Sectors) == 0 {
		return nil, fmt.Errorf("flash sector map: %w: empty map", ErrNoReply)
	}
	e.mu.Lock()
	e.flashMap = reply.Sectors
	e.mu.Unlock()
	return reply.Sectors, nil
}

// DeploymentMap lists the assemblies currently deployed.
func (e *Engine) DeploymentMap(ctx context.Context) ([]protocol.DeployedAssembly, error) {
	reply, err := request[*protocol.DeploymentMapReply](ctx, e, protocol.CmdDeploymentMap, nil, e.defaultCall())
	if err != nil {
		return nil, err
	}
	return reply.Assemblies, nil
}

// MemoryMap lists the RAM and flash regions.
func (e *Engine) MemoryMap(ctx context.Context) ([]protocol.MemoryRegion, error) {
	reply, err := request[*protocol.MemoryMapReply](ctx, e, protocol.CmdMemoryMap, nil, e.defaultCall())
	if err != nil {
		return nil, err
	}
	return reply.Regions, nil
}

// TargetInfo queries firmware identity.
func (e *Engine) TargetInfo(ctx context.Context) (*protocol.TargetInfoReply, error) {
	return request[*protocol.TargetInfoReply](ctx, e, protocol.CmdTargetInfo, nil, e.defaultCall())
}

// OemInfo queries the older identity record.
func (e *Engine) OemInfo(ctx context.Context) (*protocol.OemInfoReply, error) {
	return request[*protocol.OemInfoReply](ctx, e, protocol.CmdOemInfo, nil, e.defaultCall())
}

// Identity is the target and platform name of a device.
type Identity struct {
	TargetName    string
	PlatformName  string
	CLRVersion    protocol.Version
	BooterVersion protocol.Version
}

// Identity asks for target info and falls back to OEM info on targets that
// predate the newer command.
func (e *Engine) Identity(ctx context.Context) (*Identity, error) {
	ti, err := e.TargetInfo(ctx)
	if err == nil && ti.TargetName != "" {
		return &Identity{
			TargetName:    ti.TargetName,
			PlatformName:  ti.PlatformName,
			CLRVersion:    ti.CLR.Version,
			BooterVersion: ti.Booter.Version,
		}, nil
	}
	if err != nil && !isNoReply(err) {
		return nil, err
	}
	e.log.Debug().Msg("target info unavailable, trying OEM info")
	oem, oerr := e.OemInfo(ctx)
	if oerr != nil {
		return nil, oerr
	}
	id := parseOemInfo(oem.Release.Info)
	id.CLRVersion = oem.Release.Version
	if id.TargetName == "" {
		return nil, fmt.Errorf("identity: %w: target name missing", ErrNoReply)
	}
	return id, nil
}

// parseOemInfo reads "target, platform" style info strings.
func parseOemInfo(info string) *Identity {
	parts := strings.FieldsFunc(info, func(r rune) bool { return r == ',' || r == ';' || r == '\n' })
	id := &Identity{}
	if len(parts) > 0 {
		id.TargetName = strings.TrimSpace(parts[0])
	}
	if len(parts) > 1 {
		id.PlatformName = strings.TrimSpace(parts[1])
	}
	return id
}

// DeploymentSectors returns only the sectors reserved for deployment.
func DeploymentSectors(sectors []protocol.FlashSector) []protocol.FlashSector {
	var out []protocol.FlashSector
	for _, s := range sectors {
		if s.Usage() == protocol.BlockUsageDeployment {
			out = append(out, s)
		}
	}
	return out
}
