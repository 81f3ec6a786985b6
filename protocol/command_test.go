package protocol

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestCommandRoundTrip(t *testing.T) {
	roundTripOne(t, &CmdCreateResource{
		Header:       CommandHeader{CommandType: CmdTypeCreateResource, CommandSize: 48, ResourceID: 7},
		ResourceType: ResourceTexture2D,
		Format:       28,
		Width:        1920,
		Height:       1080,
		MipLevels:    1,
		BindFlags:    BindRenderTarget,
	})
	roundTripOne(t, &CmdDraw{
		Header:      CommandHeader{CommandType: CmdTypeDraw, CommandSize: 32},
		VertexCount: 3,
		StartVertex: 0,
	})
	roundTripOne(t, &CmdFence{
		Header:     CommandHeader{CommandType: CmdTypeFence, CommandSize: 24},
		FenceValue: 0xDEADBEEF,
	})
	roundTripOne(t, &CmdSetViewport{
		Header:       CommandHeader{CommandType: CmdTypeSetViewport, CommandSize: 0},
		NumViewports: 1,
		Viewports: [16]Viewport{
			{X: 0, Y: 0, Width: 1920, Height: 1080, MinDepth: 0, MaxDepth: 1},
		},
	})
}

func roundTripOne[T any](t *testing.T, want *T) {
	t.Helper()
	buf := Encode(want)
	got := Cast[T](buf)
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAlign16(t *testing.T) {
	cases := map[uint32]uint32{0: 0, 1: 16, 15: 16, 16: 16, 17: 32}
	for in, want := range cases {
		if got := Align16(in); got != want {
			t.Errorf("Align16(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestVersionPacking(t *testing.T) {
	v := Version()
	if v>>16 != VersionMajor || v&0xFFFF != VersionMinor {
		t.Fatalf("Version() = %#x, does not decode to %d.%d", v, VersionMajor, VersionMinor)
	}
}
