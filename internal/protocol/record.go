package protocol

import (
	"encoding/binary"
	"fmt"
)

// Record is a command or reply payload with a hand-written wire codec.
type Record interface {
	MarshalWire(w *Writer)
	UnmarshalWire(r *Reader)
}

// Marshal encodes rec in the given byte order. A nil record encodes to an
// empty payload.
func Marshal(rec Record, order ByteOrder) []byte {
	if rec == nil {
		return nil
	}
	w := NewWriter(order)
	rec.MarshalWire(w)
	return w.Bytes()
}

// Unmarshal decodes data into rec.
func Unmarshal(data []byte, rec Record, order ByteOrder) error {
	r := NewReader(data, order)
	rec.UnmarshalWire(r)
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %T: %w", rec, err)
	}
	return nil
}

// OrderFor returns the payload byte order for a session.
func OrderFor(bigEndian bool) ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

type key struct {
	cmd   uint32
	reply bool
}

var registry = map[key]func() Record{}

func register(cmd uint32, reply bool, fn func() Record) {
	registry[key{cmd, reply}] = fn
}

// NewRecord returns an empty record for (cmd, reply), or nil if the payload
// shape is not known.
func NewRecord(cmd uint32, reply bool) Record {
	if fn, ok := registry[key{cmd, reply}]; ok {
		return fn()
	}
	return nil
}

// Decode resolves the payload type from the command id and reply flag and
// decodes data into it. Unknown commands and empty payloads yield a nil
// record and no error; callers still have the raw bytes.
func Decode(cmd uint32, reply bool, data []byte, order ByteOrder) (Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	rec := NewRecord(cmd, reply)
	if rec == nil {
		return nil, nil
	}
	if err := Unmarshal(data, rec, order); err != nil {
		return nil, err
	}
	return rec, nil
}

func init() {
	register(CmdPing, false, func() Record { return &Ping{} })
	register(CmdPing, true, func() Record { return &Ping{} })
	register(CmdMessage, false, func() Record { return &TextMessage{} })
	register(CmdReadMemory, false, func() Record { return &MemoryRange{} })
	register(CmdReadMemory, true, func() Record { return &ReadMemoryReply{} })
	register(CmdWriteMemory, false, func() Record { return &WriteMemory{} })
	register(CmdWriteMemory, true, func() Record { return &ErrorCodeReply{} })
	register(CmdCheckMemory, false, func() Record { return &MemoryRange{} })
	register(CmdCheckMemory, true, func() Record { return &CheckMemoryReply{} })
	register(CmdEraseMemory, false, func() Record { return &MemoryRange{} })
	register(CmdEraseMemory, true, func() Record { return &ErrorCodeReply{} })
	register(CmdExecute, false, func() Record { return &Execute{} })
	register(CmdReboot, false, func() Record { return &Reboot{} })
	register(CmdMemoryMap, true, func() Record { return &MemoryMapReply{} })
	register(CmdDeploymentMap, true, func() Record { return &DeploymentMapReply{} })
	register(CmdFlashSectorMap, true, func() Record { return &FlashSectorMapReply{} })
	register(CmdOemInfo, true, func() Record { return &OemInfoReply{} })
	register(CmdTargetInfo, true, func() Record { return &TargetInfoReply{} })
	register(CmdQueryConfiguration, false, func() Record { return &QueryConfiguration{} })
	register(CmdQueryConfiguration, true, func() Record { return &RawReply{} })
	register(CmdUpdateConfiguration, false, func() Record { return &UpdateConfiguration{} })
	register(CmdUpdateConfiguration, true, func() Record { return &ErrorCodeReply{} })

	register(CmdExecutionChangeConditions, false, func() Record { return &ChangeConditions{} })
	register(CmdExecutionChangeConditions, true, func() Record { return &ChangeConditionsReply{} })
	register(CmdQueryCapabilities, false, func() Record { return &QueryCapabilities{} })
	register(CmdQueryCapabilities, true, func() Record { return &RawReply{} })
	register(CmdThreadList, true, func() Record { return &IndexList{} })
	register(CmdThreadStack, false, func() Record { return &ThreadID{} })
	register(CmdThreadStack, true, func() Record { return &ThreadStackReply{} })
	register(CmdThreadKill, false, func() Record { return &ThreadID{} })
	register(CmdThreadKill, true, func() Record { return &ErrorCodeReply{} })
	register(CmdThreadSuspend, false, func() Record { return &ThreadID{} })
	register(CmdThreadResume, false, func() Record { return &ThreadID{} })
	register(CmdTypeSysAssemblies, true, func() Record { return &IndexList{} })
	register(CmdResolveAssembly, false, func() Record { return &ResolveIndex{} })
	register(CmdResolveAssembly, true, func() Record { return &ResolveAssemblyReply{} })
	register(CmdResolveType, false, func() Record { return &ResolveIndex{} })
	register(CmdResolveType, true, func() Record { return &ResolveTypeReply{} })
	register(CmdResolveField, false, func() Record { return &ResolveIndex{} })
	register(CmdResolveField, true, func() Record { return &ResolveFieldReply{} })
	register(CmdResolveMethod, false, func() Record { return &ResolveIndex{} })
	register(CmdResolveMethod, true, func() Record { return &ResolveMethodReply{} })
	register(CmdMessagingQuery, false, func() Record { return &MessagingQuery{} })
	register(CmdMessagingQuery, true, func() Record { return &MessagingQueryReply{} })
	register(CmdMessagingSend, false, func() Record { return &MessagingSend{} })
	register(CmdMessagingSend, true, func() Record { return &MessagingQueryReply{} })
	register(CmdMessagingReply, false, func() Record { return &MessagingSend{} })
	register(CmdMessagingReply, true, func() Record { return &MessagingQueryReply{} })
}
