package protocol

import "fmt"

// Monitor commands are understood by both nanoBooter and nanoCLR.
const (
	CmdPing                = 0x00000000
	CmdMessage             = 0x00000001
	CmdReadMemory          = 0x00000002
	CmdWriteMemory         = 0x00000003
	CmdCheckMemory         = 0x00000004
	CmdEraseMemory         = 0x00000005
	CmdExecute             = 0x00000006
	CmdReboot              = 0x00000007
	CmdMemoryMap           = 0x00000008
	CmdProgramExit         = 0x00000009
	CmdDeploymentMap       = 0x0000000B
	CmdFlashSectorMap      = 0x0000000C
	CmdOemInfo             = 0x0000000E
	CmdQueryConfiguration  = 0x0000000F
	CmdUpdateConfiguration = 0x00000010
	CmdTargetInfo          = 0x00000020
)

// Debugging commands are only answered by nanoCLR.
const (
	CmdExecutionChangeConditions = 0x00020001
	CmdQueryCapabilities         = 0x00020008

	CmdThreadList    = 0x00020011
	CmdThreadStack   = 0x00020012
	CmdThreadKill    = 0x00020013
	CmdThreadSuspend = 0x00020014
	CmdThreadResume  = 0x00020015

	CmdTypeSysAssemblies = 0x00020040

	CmdResolveAssembly = 0x00020050
	CmdResolveType     = 0x00020051
	CmdResolveField    = 0x00020052
	CmdResolveMethod   = 0x00020053

	CmdMessagingQuery = 0x00020090
	CmdMessagingSend  = 0x00020091
	CmdMessagingReply = 0x00020092
)

var commandNames = map[uint32]string{
	CmdPing:                      "Ping",
	CmdMessage:                   "Message",
	CmdReadMemory:                "ReadMemory",
	CmdWriteMemory:               "WriteMemory",
	CmdCheckMemory:               "CheckMemory",
	CmdEraseMemory:               "EraseMemory",
	CmdExecute:                   "Execute",
	CmdReboot:                    "Reboot",
	CmdMemoryMap:                 "MemoryMap",
	CmdProgramExit:               "ProgramExit",
	CmdDeploymentMap:             "DeploymentMap",
	CmdFlashSectorMap:            "FlashSectorMap",
	CmdOemInfo:                   "OemInfo",
	CmdQueryConfiguration:        "QueryConfiguration",
	CmdUpdateConfiguration:       "UpdateConfiguration",
	CmdTargetInfo:                "TargetInfo",
	CmdExecutionChangeConditions: "Execution_ChangeConditions",
	CmdQueryCapabilities:         "QueryCapabilities",
	CmdThreadList:                "Thread_List",
	CmdThreadStack:               "Thread_Stack",
	CmdThreadKill:                "Thread_Kill",
	CmdThreadSuspend:             "Thread_Suspend",
	CmdThreadResume:              "Thread_Resume",
	CmdTypeSysAssemblies:         "TypeSys_Assemblies",
	CmdResolveAssembly:           "Resolve_Assembly",
	CmdResolveType:               "Resolve_Type",
	CmdResolveField:              "Resolve_Field",
	CmdResolveMethod:             "Resolve_Method",
	CmdMessagingQuery:            "Messaging_Query",
	CmdMessagingSend:             "Messaging_Send",
	CmdMessagingReply:            "Messaging_Reply",
}

// CommandName returns a readable name for a command id.
func CommandName(cmd uint32) string {
	if n, ok := commandNames[cmd]; ok {
		return n
	}
	return fmt.Sprintf("0x%08X", cmd)
}

// Ping source values identify who is answering on the other end.
const (
	PingSourceNanoCLR    uint32 = 0x00010000
	PingSourceNanoBooter uint32 = 0x00010001
	PingSourceHost       uint32 = 0x00010002
)

// Ping reply flags.
const (
	PingFlagBigEndian     uint32 = 0x02000002
	PingFlagSupportsCRC32 uint32 = 0x00000010
)

// Reboot options, combinable.
const (
	RebootNormal          uint32 = 0
	RebootEnterNanoBooter uint32 = 1
	RebootClrOnly         uint32 = 2
	RebootWaitForDebugger uint32 = 4
	RebootNoShutdown      uint32 = 8
)

// Capability kinds for CmdQueryCapabilities.
const (
	CapabilityFlags               uint32 = 1
	CapabilitySoftwareVersion     uint32 = 3
	CapabilityHalSystemInfo       uint32 = 5
	CapabilityClrInfo             uint32 = 6
	CapabilitySolutionReleaseInfo uint32 = 7
	CapabilityNativeAssemblies    uint32 = 8
)

// Execution condition bits used with CmdExecutionChangeConditions.
const (
	ExecutionInitialize       uint32 = 0x00000000
	ExecutionResolutionFailed uint32 = 0x00000001
	ExecutionProgramExited    uint32 = 0x00000002
	ExecutionDebuggerEnabled  uint32 = 0x00000010
	ExecutionSourceLevelDebug uint32 = 0x00000020
	ExecutionProgramRunning   uint32 = 0x00000400
	ExecutionPauseTimers      uint32 = 0x40000000
	ExecutionStopped          uint32 = 0x80000000
)

// Memory access error codes reported in ReadMemory/WriteMemory/EraseMemory replies.
const (
	AccessMemoryOK              uint32 = 0
	AccessMemoryErrorRead       uint32 = 1
	AccessMemoryErrorWrite      uint32 = 2
	AccessMemoryErrorErase      uint32 = 3
	AccessMemoryErrorFailed     uint32 = 4
	AccessMemoryErrorWrongRange uint32 = 5
)

// Configuration block kinds for Query/UpdateConfiguration.
const (
	ConfigNetwork                uint32 = 1
	ConfigWireless80211          uint32 = 2
	ConfigWirelessAP             uint32 = 3
	ConfigX509CaRootBundle       uint32 = 4
	ConfigX509DeviceCertificates uint32 = 5
)
