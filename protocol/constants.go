// Package protocol defines the PVGPU wire format: the binary layout shared
// between the guest miniport/UMD, the emulator device, and the host backend.
// It depends only on the standard library; nothing in this package reaches
// back into shmem, emulator, miniport, umd or backend.
package protocol

// Magic identifies a valid control region. "PVGP" read little-endian.
const Magic uint32 = 0x50564750

const (
	VersionMajor uint32 = 1
	VersionMinor uint32 = 0
)

// Version returns the packed (major<<16|minor) value stored in the control
// region and exchanged during handshake.
func Version() uint32 {
	return VersionMajor<<16 | VersionMinor
}

// Default region sizes.
const (
	ControlRegionSize  = 0x1000      // 4KB
	CommandRingSize    = 0x1000000   // 16MB
	DefaultShmemSize   = 0x10000000  // 256MB
	BAR0Size           = 0x1000      // 4KB config registers
	BAR2SizeDefault    = 0x10000000  // 256MB shared memory
)

// PCI identity (§6).
const (
	VendorID           = 0x1AF4
	DeviceID           = 0x10F0
	SubsystemVendorID  = 0x1AF4
	SubsystemID        = 0x0001
	Revision           = 0x01
	PCIClass           = 0x030200 // VGA compatible 3D controller
)

// BAR0 register offsets.
const (
	RegVersion    = 0x00 // R:  protocol version
	RegFeatures   = 0x04 // R:  feature bitmap, low 32
	RegFeaturesHi = 0x08 // R:  feature bitmap, high 32
	RegStatus     = 0x0C // RW: device status
	RegDoorbell   = 0x10 // W:  notify host of new commands
	RegIRQStatus  = 0x14 // RW: IRQ status, write-1-to-clear
	RegIRQMask    = 0x18 // RW: IRQ mask
	RegShmemSize  = 0x1C // R:  shared memory size
	RegRingSize   = 0x20 // R:  command ring size
	RegReset      = 0x24 // W:  write 1 to reset device
)

// Status register bits. ShutdownPending and DeviceLost are referenced by
// the guest UMD sources this protocol was distilled from (PvgpuWaitFence
// checks both before and during a wait) but their defining bits did not
// survive the header filtering the way StatusReady/Error/BackendConn did;
// they're placed in the next two free bit positions.
const (
	StatusReady           uint32 = 1 << 0
	StatusError           uint32 = 1 << 1
	StatusBackendConn     uint32 = 1 << 2
	StatusShutdownPending uint32 = 1 << 3
	StatusDeviceLost      uint32 = 1 << 4
)

// IRQ bits.
const (
	IRQFenceComplete uint32 = 1 << 0
	IRQError         uint32 = 1 << 1
)

// Feature flags, negotiated at handshake time.
const (
	FeatureD3D11        uint64 = 1 << 0
	FeatureD3D12        uint64 = 1 << 1
	FeatureCompute      uint64 = 1 << 2
	FeatureGeometry     uint64 = 1 << 3
	FeatureTessellation uint64 = 1 << 4
	FeatureMSAA         uint64 = 1 << 5
	FeatureHDR          uint64 = 1 << 6
	FeatureVSync        uint64 = 1 << 7
	FeatureTripleBuffer uint64 = 1 << 8
)

// FeaturesMVP is the minimal feature set this implementation requires.
const FeaturesMVP = FeatureD3D11 | FeatureCompute | FeatureVSync

// Command types. Resource commands occupy 0x0001-0x00FF, state commands
// 0x0100-0x01FF, draw commands 0x0200-0x02FF, sync commands 0x0300-0x03FF.
const (
	CmdTypeCreateResource  = 0x0001
	CmdTypeDestroyResource = 0x0002
	CmdTypeMapResource     = 0x0003
	CmdTypeUnmapResource   = 0x0004
	CmdTypeUpdateResource  = 0x0005
	CmdTypeCopyResource    = 0x0006
	// CmdTypeCopyResourceRegion supplements the distilled command catalogue
	// with the sub-region copy the original protocol header defines
	// (PvgpuCmdCopyResourceRegion) alongside the whole-resource copy.
	CmdTypeCopyResourceRegion = 0x0007

	CmdTypeSetRenderTarget      = 0x0101
	CmdTypeSetViewport          = 0x0102
	CmdTypeSetScissor           = 0x0103
	CmdTypeSetBlendState        = 0x0104
	CmdTypeSetRasterizerState   = 0x0105
	CmdTypeSetDepthStencil      = 0x0106
	CmdTypeSetShader            = 0x0107
	CmdTypeSetSampler           = 0x0108
	CmdTypeSetConstantBuffer    = 0x0109
	CmdTypeSetVertexBuffer      = 0x010A
	CmdTypeSetIndexBuffer       = 0x010B
	CmdTypeSetInputLayout       = 0x010C
	CmdTypeSetPrimitiveTopology = 0x010D
	CmdTypeSetShaderResource    = 0x010E

	CmdTypeDraw                 = 0x0201
	CmdTypeDrawIndexed          = 0x0202
	CmdTypeDrawInstanced        = 0x0203
	CmdTypeDrawIndexedInstanced = 0x0204
	CmdTypeDispatch             = 0x0205
	CmdTypeClearRenderTarget    = 0x0206
	CmdTypeClearDepthStencil    = 0x0207

	CmdTypeFence     = 0x0301
	CmdTypePresent   = 0x0302
	CmdTypeFlush     = 0x0303
	CmdTypeWaitFence = 0x0304
)

// Command header flags.
const (
	CmdFlagSync    uint32 = 1 << 0 // wait for completion
	CmdFlagNoFence uint32 = 1 << 1 // don't signal fence
)

// Resource types.
const (
	ResourceTexture1D               = 1
	ResourceTexture2D               = 2
	ResourceTexture3D               = 3
	ResourceBuffer                  = 4
	ResourceVertexShader            = 5
	ResourcePixelShader             = 6
	ResourceGeometryShader          = 7
	ResourceHullShader              = 8
	ResourceDomainShader            = 9
	ResourceComputeShader           = 10
	ResourceInputLayout             = 11
	ResourceBlendState              = 12
	ResourceRasterizerState         = 13
	ResourceDepthStencilState       = 14
	ResourceSamplerState            = 15
	ResourceRenderTargetView        = 16
	ResourceDepthStencilView        = 17
	ResourceShaderResourceView      = 18
	ResourceUnorderedAccessView     = 19
)

// Buffer bind flags, matching D3D11_BIND_FLAG numbering.
const (
	BindVertexBuffer    uint32 = 1 << 0
	BindIndexBuffer     uint32 = 1 << 1
	BindConstantBuffer  uint32 = 1 << 2
	BindShaderResource  uint32 = 1 << 3
	BindRenderTarget    uint32 = 1 << 4
	BindDepthStencil    uint32 = 1 << 5
	BindUnorderedAccess uint32 = 1 << 6
)

// Shader stages.
const (
	StageVertex   = 0
	StagePixel    = 1
	StageGeometry = 2
	StageHull     = 3
	StageDomain   = 4
	StageCompute  = 5
	StageCount    = 6
)

// Error codes reported via ControlRegion.ErrorCode and escape replies.
const (
	ErrorSuccess            = 0x0000
	ErrorInvalidCommand     = 0x0001
	ErrorResourceNotFound   = 0x0002
	ErrorOutOfMemory        = 0x0003
	ErrorShaderCompile      = 0x0004
	ErrorDeviceLost         = 0x0005
	ErrorInvalidParameter   = 0x0006
	ErrorUnsupportedFormat  = 0x0007
	ErrorBackendDisconnected = 0x0008
	ErrorRingFull           = 0x0009
	ErrorTimeout            = 0x000A
	ErrorUnknown            = 0xFFFF
)

// Escape interface codes (§4.4), authored from spec.md since the guest
// driver header in the distillation's original_source/ references these
// escape names (PvgpuEscapeGetShmemInfo, PvgpuEscapeAllocHeap, ...) without
// its defining enum surviving the filter.
const (
	EscapeGetShmemInfo  = 0x0001
	EscapeAllocHeap     = 0x0002
	EscapeFreeHeap      = 0x0003
	EscapeSubmitCommands = 0x0004
	EscapeWaitFence     = 0x0005
	EscapeGetCaps       = 0x0006
	EscapeRingDoorbell  = 0x0007
	EscapeSetDisplayMode = 0x0008
)

// Align16 rounds x up to the next 16-byte boundary, matching the ring's
// command-alignment requirement (§4.2).
func Align16(x uint32) uint32 {
	return (x + 15) &^ 15
}
