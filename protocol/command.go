package protocol

import "unsafe"

// CommandHeader prefixes every command in the ring. 16 bytes, matching
// CmdHeaderSize below.
type CommandHeader struct {
	CommandType uint32
	CommandSize uint32
	ResourceID  uint32
	Flags       uint32
}

const CmdHeaderSize = 16

// Cast reinterprets a byte slice as *T without copying, the same
// unsafe.Pointer struct-overlay idiom hanwen-go-fuse/vhostuser's server
// uses to turn a raw receive buffer directly into a typed request
// (e.g. `(*GetFeaturesReply)(outPayloadPtr)`). Every command payload in
// this package is plain fixed-width fields and arrays of them, so Go's
// struct layout matches the wire layout with no padding surprises,
// exactly as it does for vhostuser's Header/VringDesc types.
func Cast[T any](b []byte) *T {
	return (*T)(unsafe.Pointer(&b[0]))
}

// Encode writes v's in-memory representation into a freshly allocated
// byte slice sized to T.
func Encode[T any](v *T) []byte {
	b := make([]byte, unsafe.Sizeof(*v))
	*Cast[T](b) = *v
	return b
}

// Viewport is one entry of CmdSetViewport.Viewports.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// ScissorRect is one entry of CmdSetScissor.Rects.
type ScissorRect struct {
	Left, Top, Right, Bottom int32
}

// VertexBufferBinding is one entry of CmdSetVertexBuffer.Buffers.
type VertexBufferBinding struct {
	BufferID uint32
	Stride   uint32
	Offset   uint32
}

// Box is the optional source region of CmdCopyResourceRegion.
type Box struct {
	Left, Top, Front    uint32
	Right, Bottom, Back uint32
}

type CmdCreateResource struct {
	Header       CommandHeader
	ResourceType uint32
	Format       uint32
	Width        uint32
	Height       uint32
	Depth        uint32
	MipLevels    uint32
	SampleCount  uint32
	SampleQuality uint32
	BindFlags    uint32
	MiscFlags    uint32
	HeapOffset   uint32
	DataSize     uint32
}

type CmdDestroyResource struct {
	Header CommandHeader
}

type CmdMapResource struct {
	Header     CommandHeader
	Subresource uint32
	MapType    uint32
	HeapOffset uint32
	Reserved   uint32
}

type CmdUpdateResource struct {
	Header     CommandHeader
	Subresource uint32
	DstX, DstY, DstZ uint32
	Width, Height, Depth uint32
	HeapOffset uint32
	RowPitch   uint32
	DepthPitch uint32
}

type CmdSetRenderTarget struct {
	Header  CommandHeader
	NumRTVs uint32
	DSVID   uint32
	RTVIDs  [8]uint32
}

type CmdSetViewport struct {
	Header       CommandHeader
	NumViewports uint32
	Viewports    [16]Viewport
}

type CmdSetScissor struct {
	Header   CommandHeader
	NumRects uint32
	Rects    [16]ScissorRect
}

type CmdSetShader struct {
	Header   CommandHeader
	Stage    uint32
	ShaderID uint32
}

type CmdSetConstantBuffer struct {
	Header   CommandHeader
	Stage    uint32
	Slot     uint32
	BufferID uint32
	Offset   uint32
	Size     uint32
}

type CmdSetVertexBuffer struct {
	Header     CommandHeader
	StartSlot  uint32
	NumBuffers uint32
	Buffers    [16]VertexBufferBinding
}

type CmdSetIndexBuffer struct {
	Header   CommandHeader
	BufferID uint32
	Format   uint32
	Offset   uint32
	Reserved uint32
}

type CmdSetPrimitiveTopology struct {
	Header   CommandHeader
	Topology uint32
	Reserved [3]uint32
}

type CmdDraw struct {
	Header      CommandHeader
	VertexCount uint32
	StartVertex uint32
	Reserved    [2]uint32
}

type CmdDrawIndexed struct {
	Header     CommandHeader
	IndexCount uint32
	StartIndex uint32
	BaseVertex int32
	Reserved   uint32
}

type CmdDrawInstanced struct {
	Header        CommandHeader
	VertexCount   uint32
	InstanceCount uint32
	StartVertex   uint32
	StartInstance uint32
}

type CmdDrawIndexedInstanced struct {
	Header        CommandHeader
	IndexCount    uint32
	InstanceCount uint32
	StartIndex    uint32
	BaseVertex    int32
	StartInstance uint32
	Reserved      [3]uint32
}

type CmdDispatch struct {
	Header        CommandHeader
	ThreadGroupX  uint32
	ThreadGroupY  uint32
	ThreadGroupZ  uint32
	Reserved      uint32
}

type CmdClearRenderTarget struct {
	Header CommandHeader
	RTVID  uint32
	Color  [4]float32
}

type CmdClearDepthStencil struct {
	Header     CommandHeader
	DSVID      uint32
	ClearFlags uint32
	Depth      float32
	Stencil    uint8
	Reserved   [3]uint8
}

type CmdFence struct {
	Header     CommandHeader
	FenceValue uint64
}

type CmdPresent struct {
	Header       CommandHeader
	BackbufferID uint32
	SyncInterval uint32
	Flags        uint32
	Reserved     uint32
}

type CmdSetBlendState struct {
	Header       CommandHeader
	BlendStateID uint32
	BlendFactor  [4]float32
	SampleMask   uint32
	Reserved     uint32
}

type CmdSetRasterizerState struct {
	Header            CommandHeader
	RasterizerStateID uint32
	Reserved          [3]uint32
}

type CmdSetDepthStencilState struct {
	Header                CommandHeader
	DepthStencilStateID   uint32
	StencilRef            uint32
	Reserved              [2]uint32
}

type CmdCopyResource struct {
	Header        CommandHeader
	DstResourceID uint32
	SrcResourceID uint32
	Reserved      [2]uint32
}

type CmdCopyResourceRegion struct {
	Header         CommandHeader
	DstResourceID  uint32
	DstSubresource uint32
	DstX, DstY, DstZ uint32
	SrcResourceID  uint32
	SrcSubresource uint32
	HasSrcBox      uint32
	SrcBox         Box
}
