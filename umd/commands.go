package umd

import "github.com/templarsco/pvgpu/protocol"

// Draw stages DRAW.
func (d *Device) Draw(vertexCount, startVertex uint32) error {
	cmd := protocol.CmdDraw{
		Header:      protocol.CommandHeader{CommandType: protocol.CmdTypeDraw, CommandSize: uint32(structSize(protocol.CmdDraw{}))},
		VertexCount: vertexCount, StartVertex: startVertex,
	}
	return d.emit(protocol.Encode(&cmd))
}

// DrawIndexed stages DRAW_INDEXED.
func (d *Device) DrawIndexed(indexCount, startIndex uint32, baseVertex int32) error {
	cmd := protocol.CmdDrawIndexed{
		Header:     protocol.CommandHeader{CommandType: protocol.CmdTypeDrawIndexed, CommandSize: uint32(structSize(protocol.CmdDrawIndexed{}))},
		IndexCount: indexCount, StartIndex: startIndex, BaseVertex: baseVertex,
	}
	return d.emit(protocol.Encode(&cmd))
}

// DrawInstanced stages DRAW_INSTANCED.
func (d *Device) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) error {
	cmd := protocol.CmdDrawInstanced{
		Header:        protocol.CommandHeader{CommandType: protocol.CmdTypeDrawInstanced, CommandSize: uint32(structSize(protocol.CmdDrawInstanced{}))},
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		StartVertex:   startVertex,
		StartInstance: startInstance,
	}
	return d.emit(protocol.Encode(&cmd))
}

// DrawIndexedInstanced stages DRAW_INDEXED_INSTANCED.
func (d *Device) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) error {
	cmd := protocol.CmdDrawIndexedInstanced{
		Header:        protocol.CommandHeader{CommandType: protocol.CmdTypeDrawIndexedInstanced, CommandSize: uint32(structSize(protocol.CmdDrawIndexedInstanced{}))},
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		StartIndex:    startIndex,
		BaseVertex:    baseVertex,
		StartInstance: startInstance,
	}
	return d.emit(protocol.Encode(&cmd))
}

// Dispatch stages DISPATCH.
func (d *Device) Dispatch(groupsX, groupsY, groupsZ uint32) error {
	cmd := protocol.CmdDispatch{
		Header:       protocol.CommandHeader{CommandType: protocol.CmdTypeDispatch, CommandSize: uint32(structSize(protocol.CmdDispatch{}))},
		ThreadGroupX: groupsX, ThreadGroupY: groupsY, ThreadGroupZ: groupsZ,
	}
	return d.emit(protocol.Encode(&cmd))
}

// ClearRenderTarget stages CLEAR_RENDER_TARGET.
func (d *Device) ClearRenderTarget(rtvID uint32, color [4]float32) error {
	cmd := protocol.CmdClearRenderTarget{
		Header: protocol.CommandHeader{CommandType: protocol.CmdTypeClearRenderTarget, CommandSize: uint32(structSize(protocol.CmdClearRenderTarget{}))},
		RTVID:  rtvID, Color: color,
	}
	return d.emit(protocol.Encode(&cmd))
}

// ClearDepthStencil stages CLEAR_DEPTH_STENCIL.
func (d *Device) ClearDepthStencil(dsvID, clearFlags uint32, depth float32, stencil uint8) error {
	cmd := protocol.CmdClearDepthStencil{
		Header:     protocol.CommandHeader{CommandType: protocol.CmdTypeClearDepthStencil, CommandSize: uint32(structSize(protocol.CmdClearDepthStencil{}))},
		DSVID:      dsvID,
		ClearFlags: clearFlags,
		Depth:      depth,
		Stencil:    stencil,
	}
	return d.emit(protocol.Encode(&cmd))
}

// CopyResource stages COPY_RESOURCE (whole-resource copy).
func (d *Device) CopyResource(dst, src uint32) error {
	cmd := protocol.CmdCopyResource{
		Header:        protocol.CommandHeader{CommandType: protocol.CmdTypeCopyResource, CommandSize: uint32(structSize(protocol.CmdCopyResource{}))},
		DstResourceID: dst, SrcResourceID: src,
	}
	return d.emit(protocol.Encode(&cmd))
}

// CopyResourceRegion stages COPY_RESOURCE_REGION, the sub-region copy
// supplementing whole-resource COPY_RESOURCE per the original protocol
// header (PvgpuCmdCopyResourceRegion).
func (d *Device) CopyResourceRegion(dst uint32, dstSub, dstX, dstY, dstZ uint32, src uint32, srcSub uint32, box *protocol.Box) error {
	cmd := protocol.CmdCopyResourceRegion{
		Header:         protocol.CommandHeader{CommandType: protocol.CmdTypeCopyResourceRegion, CommandSize: uint32(structSize(protocol.CmdCopyResourceRegion{}))},
		DstResourceID:  dst,
		DstSubresource: dstSub,
		DstX:           dstX, DstY: dstY, DstZ: dstZ,
		SrcResourceID:  src,
		SrcSubresource: srcSub,
	}
	if box != nil {
		cmd.HasSrcBox = 1
		cmd.SrcBox = *box
	}
	return d.emit(protocol.Encode(&cmd))
}

// UpdateResource stages UPDATE_RESOURCE for a subresource range; the
// caller is responsible for having already written updateData into the
// heap range at heapOffset via the mapped heap slice.
func (d *Device) UpdateResource(resourceID, subresource, dstX, dstY, dstZ, width, height, depth, heapOffset, rowPitch, depthPitch uint32) error {
	cmd := protocol.CmdUpdateResource{
		Header: protocol.CommandHeader{
			CommandType: protocol.CmdTypeUpdateResource,
			CommandSize: uint32(structSize(protocol.CmdUpdateResource{})),
			ResourceID:  resourceID,
		},
		Subresource: subresource,
		DstX:        dstX, DstY: dstY, DstZ: dstZ,
		Width: width, Height: height, Depth: depth,
		HeapOffset: heapOffset, RowPitch: rowPitch, DepthPitch: depthPitch,
	}
	return d.emit(protocol.Encode(&cmd))
}
