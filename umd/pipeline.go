package umd

import "github.com/templarsco/pvgpu/protocol"

// headerOnly builds a bare CommandHeader-sized command for the command
// types whose wire payload, per the original protocol header, carries
// nothing beyond the header's own resource_id/flags fields
// (SET_SAMPLER, SET_INPUT_LAYOUT, SET_SHADER_RESOURCE, UNMAP_RESOURCE).
func headerOnly(cmdType uint32, resourceID uint32) []byte {
	h := protocol.CommandHeader{CommandType: cmdType, CommandSize: protocol.CmdHeaderSize, ResourceID: resourceID}
	return protocol.Encode(&h)
}

// PipelineShadow tracks every piece of pipeline state a draw call can
// depend on, mirroring §3's state list. Each Set* mutator updates the
// local shadow and returns the wire bytes of the matching CMD_SET_*
// command; PipelineShadow itself never touches shared memory. Device has
// no method that stages these bytes, so calling a mutator through
// Device.Pipeline updates the shadow without sending the command to the
// ring.
type PipelineShadow struct {
	RenderTargets [8]uint32
	NumRTVs       uint32
	DepthStencil  uint32

	Shaders [protocol.StageCount]uint32

	VertexBuffers [16]protocol.VertexBufferBinding
	NumVBuffers   uint32
	IndexBuffer   uint32
	IndexFormat   uint32

	InputLayout uint32
	Topology    uint32

	Viewports    [16]protocol.Viewport
	NumViewports uint32
	Scissors     [16]protocol.ScissorRect
	NumScissors  uint32

	BlendState        uint32
	BlendFactor        [4]float32
	SampleMask         uint32
	RasterizerState    uint32
	DepthStencilState  uint32
	StencilRef         uint32

	ConstantBuffers [protocol.StageCount][14]uint32
	Samplers        [protocol.StageCount][16]uint32
	ShaderResources [protocol.StageCount][128]uint32
}

// NewPipelineShadow returns a zero-valued shadow; handle 0 on every slot
// means "unbound", matching the wire protocol's reserved handle 0.
func NewPipelineShadow() *PipelineShadow { return &PipelineShadow{} }

func (p *PipelineShadow) SetRenderTargets(rtvs []uint32, dsv uint32) []byte {
	p.NumRTVs = uint32(len(rtvs))
	p.DepthStencil = dsv
	for i := range p.RenderTargets {
		p.RenderTargets[i] = 0
	}
	copy(p.RenderTargets[:], rtvs)

	cmd := protocol.CmdSetRenderTarget{
		Header:  protocol.CommandHeader{CommandType: protocol.CmdTypeSetRenderTarget, CommandSize: uint32(sizeOfCmdSetRenderTarget)},
		NumRTVs: p.NumRTVs,
		DSVID:   dsv,
		RTVIDs:  p.RenderTargets,
	}
	return protocol.Encode(&cmd)
}

func (p *PipelineShadow) SetViewports(viewports []protocol.Viewport) []byte {
	p.NumViewports = uint32(len(viewports))
	for i := range p.Viewports {
		p.Viewports[i] = protocol.Viewport{}
	}
	copy(p.Viewports[:], viewports)

	cmd := protocol.CmdSetViewport{
		Header:       protocol.CommandHeader{CommandType: protocol.CmdTypeSetViewport, CommandSize: uint32(sizeOfCmdSetViewport)},
		NumViewports: p.NumViewports,
		Viewports:    p.Viewports,
	}
	return protocol.Encode(&cmd)
}

func (p *PipelineShadow) SetScissors(rects []protocol.ScissorRect) []byte {
	p.NumScissors = uint32(len(rects))
	for i := range p.Scissors {
		p.Scissors[i] = protocol.ScissorRect{}
	}
	copy(p.Scissors[:], rects)

	cmd := protocol.CmdSetScissor{
		Header:   protocol.CommandHeader{CommandType: protocol.CmdTypeSetScissor, CommandSize: uint32(sizeOfCmdSetScissor)},
		NumRects: p.NumScissors,
		Rects:    p.Scissors,
	}
	return protocol.Encode(&cmd)
}

func (p *PipelineShadow) SetShader(stage uint32, shaderID uint32) []byte {
	p.Shaders[stage] = shaderID
	cmd := protocol.CmdSetShader{
		Header:   protocol.CommandHeader{CommandType: protocol.CmdTypeSetShader, CommandSize: uint32(sizeOfCmdSetShader)},
		Stage:    stage,
		ShaderID: shaderID,
	}
	return protocol.Encode(&cmd)
}

func (p *PipelineShadow) SetConstantBuffer(stage, slot, bufferID, offset, size uint32) []byte {
	p.ConstantBuffers[stage][slot] = bufferID
	cmd := protocol.CmdSetConstantBuffer{
		Header:   protocol.CommandHeader{CommandType: protocol.CmdTypeSetConstantBuffer, CommandSize: uint32(sizeOfCmdSetConstantBuffer)},
		Stage:    stage,
		Slot:     slot,
		BufferID: bufferID,
		Offset:   offset,
		Size:     size,
	}
	return protocol.Encode(&cmd)
}

func (p *PipelineShadow) SetVertexBuffers(startSlot uint32, buffers []protocol.VertexBufferBinding) []byte {
	p.NumVBuffers = uint32(len(buffers))
	for i := range p.VertexBuffers {
		p.VertexBuffers[i] = protocol.VertexBufferBinding{}
	}
	copy(p.VertexBuffers[:], buffers)

	cmd := protocol.CmdSetVertexBuffer{
		Header:     protocol.CommandHeader{CommandType: protocol.CmdTypeSetVertexBuffer, CommandSize: uint32(sizeOfCmdSetVertexBuffer)},
		StartSlot:  startSlot,
		NumBuffers: p.NumVBuffers,
		Buffers:    p.VertexBuffers,
	}
	return protocol.Encode(&cmd)
}

func (p *PipelineShadow) SetIndexBuffer(bufferID, format, offset uint32) []byte {
	p.IndexBuffer = bufferID
	p.IndexFormat = format
	cmd := protocol.CmdSetIndexBuffer{
		Header:   protocol.CommandHeader{CommandType: protocol.CmdTypeSetIndexBuffer, CommandSize: uint32(sizeOfCmdSetIndexBuffer)},
		BufferID: bufferID,
		Format:   format,
		Offset:   offset,
	}
	return protocol.Encode(&cmd)
}

func (p *PipelineShadow) SetInputLayout(layoutID uint32) []byte {
	p.InputLayout = layoutID
	return headerOnly(protocol.CmdTypeSetInputLayout, layoutID)
}

func (p *PipelineShadow) SetPrimitiveTopology(topology uint32) []byte {
	p.Topology = topology
	cmd := protocol.CmdSetPrimitiveTopology{
		Header:   protocol.CommandHeader{CommandType: protocol.CmdTypeSetPrimitiveTopology, CommandSize: uint32(sizeOfCmdSetPrimitiveTopology)},
		Topology: topology,
	}
	return protocol.Encode(&cmd)
}

func (p *PipelineShadow) SetShaderResource(stage, slot, resourceID uint32) []byte {
	p.ShaderResources[stage][slot] = resourceID
	return headerOnly(protocol.CmdTypeSetShaderResource, resourceID)
}

func (p *PipelineShadow) SetSampler(stage, slot, samplerID uint32) []byte {
	p.Samplers[stage][slot] = samplerID
	return headerOnly(protocol.CmdTypeSetSampler, samplerID)
}

func (p *PipelineShadow) SetBlendState(blendStateID uint32, factor [4]float32, sampleMask uint32) []byte {
	p.BlendState = blendStateID
	p.BlendFactor = factor
	p.SampleMask = sampleMask
	cmd := protocol.CmdSetBlendState{
		Header:       protocol.CommandHeader{CommandType: protocol.CmdTypeSetBlendState, CommandSize: uint32(sizeOfCmdSetBlendState)},
		BlendStateID: blendStateID,
		BlendFactor:  factor,
		SampleMask:   sampleMask,
	}
	return protocol.Encode(&cmd)
}

func (p *PipelineShadow) SetRasterizerState(rasterizerStateID uint32) []byte {
	p.RasterizerState = rasterizerStateID
	cmd := protocol.CmdSetRasterizerState{
		Header:            protocol.CommandHeader{CommandType: protocol.CmdTypeSetRasterizerState, CommandSize: uint32(sizeOfCmdSetRasterizerState)},
		RasterizerStateID: rasterizerStateID,
	}
	return protocol.Encode(&cmd)
}

func (p *PipelineShadow) SetDepthStencilState(depthStencilStateID, stencilRef uint32) []byte {
	p.DepthStencilState = depthStencilStateID
	p.StencilRef = stencilRef
	cmd := protocol.CmdSetDepthStencilState{
		Header:              protocol.CommandHeader{CommandType: protocol.CmdTypeSetDepthStencil, CommandSize: uint32(sizeOfCmdSetDepthStencilState)},
		DepthStencilStateID: depthStencilStateID,
		StencilRef:          stencilRef,
	}
	return protocol.Encode(&cmd)
}

// Sizes computed once rather than re-derived via unsafe.Sizeof at every
// call site.
var (
	sizeOfCmdSetRenderTarget      = structSize(protocol.CmdSetRenderTarget{})
	sizeOfCmdSetViewport          = structSize(protocol.CmdSetViewport{})
	sizeOfCmdSetScissor           = structSize(protocol.CmdSetScissor{})
	sizeOfCmdSetShader            = structSize(protocol.CmdSetShader{})
	sizeOfCmdSetConstantBuffer    = structSize(protocol.CmdSetConstantBuffer{})
	sizeOfCmdSetVertexBuffer      = structSize(protocol.CmdSetVertexBuffer{})
	sizeOfCmdSetIndexBuffer       = structSize(protocol.CmdSetIndexBuffer{})
	sizeOfCmdSetPrimitiveTopology = structSize(protocol.CmdSetPrimitiveTopology{})
	sizeOfCmdSetBlendState        = structSize(protocol.CmdSetBlendState{})
	sizeOfCmdSetRasterizerState   = structSize(protocol.CmdSetRasterizerState{})
	sizeOfCmdSetDepthStencilState = structSize(protocol.CmdSetDepthStencilState{})
)
