package umd

// DXGI format identifiers this driver recognizes. Numeric values match
// the public DXGI_FORMAT enumeration so a real D3D runtime's format
// codes pass straight through without translation.
const (
	FormatUnknown           = 0
	FormatR32G32B32A32Float = 2
	FormatR16G16B16A16Float = 10
	FormatR16G16B16A16Unorm = 11
	FormatR32G32Float       = 16
	FormatR10G10B10A2Unorm  = 24
	FormatR11G11B10Float    = 26
	FormatR8G8B8A8Unorm     = 28
	FormatR8G8B8A8UnormSRGB = 29
	FormatR16G16Float       = 34
	FormatR16G16Unorm       = 35
	FormatD32Float          = 40
	FormatR32Float          = 41
	FormatD24UnormS8Uint    = 45
	FormatR8G8Unorm         = 49
	FormatR16Float          = 54
	FormatD16Unorm          = 55
	FormatR16Unorm          = 56
	FormatR8Unorm           = 61
	FormatA8Unorm           = 65
	FormatBC1Unorm          = 71
	FormatBC2Unorm          = 74
	FormatBC3Unorm          = 77
	FormatBC4Unorm          = 80
	FormatBC5Unorm          = 83
	FormatB5G6R5Unorm       = 85
	FormatB5G5R5A1Unorm     = 86
	FormatB8G8R8A8Unorm     = 87
	FormatB8G8R8X8Unorm     = 88
	FormatBC6HUF16          = 95
	FormatBC7Unorm          = 98
)

// Format capability bits, matching PVGPU_FMT_* from the guest UMD
// source: a format can be sampled, bound as a render target, blended,
// multisample-rendered-to, and/or multisample-loaded, in any
// combination.
const (
	FmtSample uint32 = 0x01
	FmtRT     uint32 = 0x02
	FmtBlend  uint32 = 0x04
	FmtMSRT   uint32 = 0x08
	FmtMSLoad uint32 = 0x10

	FmtAll    = FmtSample | FmtRT | FmtBlend | FmtMSRT | FmtMSLoad
	FmtRTFull = FmtSample | FmtRT | FmtBlend
	// FmtDS matches the guest source's PVGPU_FMT_DS definition exactly:
	// depth-stencil formats answer sample-capable only, since they bind
	// through a DSV rather than an RTV slot.
	FmtDS = FmtSample
)

// formatInfo pairs a format's capability bitmask with its uncompressed
// bytes-per-pixel, or 0 for block-compressed formats (bytesPerPixel does
// not apply; callers must use blockBytes instead).
type formatInfo struct {
	caps          uint32
	bytesPerPixel uint32
	blockBytes    uint32 // bytes per 4x4 block, for BC* formats
}

// formatTable is the fixed support table FormatCapabilities answers
// from, generous feature-level-11.0 answers per §4.6: every format a
// stock D3D11 device reports support for here, none gated behind
// hardware capability bits since the backend does no real rasterization.
var formatTable = map[uint32]formatInfo{
	FormatUnknown:           {},
	FormatR32G32B32A32Float: {caps: FmtAll, bytesPerPixel: 16},
	FormatR16G16B16A16Float: {caps: FmtAll, bytesPerPixel: 8},
	FormatR16G16B16A16Unorm: {caps: FmtAll, bytesPerPixel: 8},
	FormatR32G32Float:       {caps: FmtRTFull, bytesPerPixel: 8},
	FormatR10G10B10A2Unorm:  {caps: FmtAll, bytesPerPixel: 4},
	FormatR11G11B10Float:    {caps: FmtRTFull, bytesPerPixel: 4},
	FormatR8G8B8A8Unorm:     {caps: FmtAll, bytesPerPixel: 4},
	FormatR8G8B8A8UnormSRGB: {caps: FmtAll, bytesPerPixel: 4},
	FormatR16G16Float:       {caps: FmtAll, bytesPerPixel: 4},
	FormatR16G16Unorm:       {caps: FmtAll, bytesPerPixel: 4},
	FormatD32Float:          {caps: FmtDS, bytesPerPixel: 4},
	FormatR32Float:          {caps: FmtAll, bytesPerPixel: 4},
	FormatD24UnormS8Uint:    {caps: FmtDS, bytesPerPixel: 4},
	FormatR8G8Unorm:         {caps: FmtAll, bytesPerPixel: 2},
	FormatR16Float:          {caps: FmtAll, bytesPerPixel: 2},
	FormatD16Unorm:          {caps: FmtDS, bytesPerPixel: 2},
	FormatR16Unorm:          {caps: FmtAll, bytesPerPixel: 2},
	FormatR8Unorm:           {caps: FmtAll, bytesPerPixel: 1},
	FormatA8Unorm:           {caps: FmtRTFull, bytesPerPixel: 1},
	FormatBC1Unorm:          {caps: FmtSample, blockBytes: 8},
	FormatBC2Unorm:          {caps: FmtSample, blockBytes: 16},
	FormatBC3Unorm:          {caps: FmtSample, blockBytes: 16},
	FormatBC4Unorm:          {caps: FmtSample, blockBytes: 8},
	FormatBC5Unorm:          {caps: FmtSample, blockBytes: 16},
	FormatB5G6R5Unorm:       {caps: FmtRTFull, bytesPerPixel: 2},
	FormatB5G5R5A1Unorm:     {caps: FmtRTFull, bytesPerPixel: 2},
	FormatB8G8R8A8Unorm:     {caps: FmtAll, bytesPerPixel: 4},
	FormatB8G8R8X8Unorm:     {caps: FmtAll, bytesPerPixel: 4},
	FormatBC6HUF16:          {caps: FmtSample, blockBytes: 16},
	FormatBC7Unorm:          {caps: FmtSample, blockBytes: 16},
}

// FormatCapabilities reports which binding stages a format supports, 0
// for a format this driver does not recognize.
func FormatCapabilities(format uint32) uint32 {
	return formatTable[format].caps
}

// formatBytesPerPixel returns the uncompressed bytes-per-texel for
// format and true, or (0, false) for a block-compressed or unrecognized
// format, replacing the original driver's flat "width * 4" approximation
// (§9: called out as a defect a rewrite should fix) with a real
// per-format table.
func formatBytesPerPixel(format uint32) (uint32, bool) {
	info, ok := formatTable[format]
	if !ok || info.bytesPerPixel == 0 {
		return 0, false
	}
	return info.bytesPerPixel, true
}

// formatRowPitch computes the row pitch in bytes for a width-texel-wide
// row of format, used by Map to fill PvgpuCmdMapResource's row_pitch-
// equivalent return value. Block-compressed formats are rounded up to
// whole 4x4 blocks.
func formatRowPitch(format uint32, width uint32) uint32 {
	if info, ok := formatTable[format]; ok && info.blockBytes != 0 {
		blocksWide := (width + 3) / 4
		return blocksWide * info.blockBytes
	}
	bpp, _ := formatBytesPerPixel(format)
	return width * bpp
}
