package miniport

// standardMode is one entry of the standard display mode table, carried
// over from the guest KMD's g_DisplayModes (original_source/driver/kmd/
// pvgpu.h). SET_DISPLAY_MODE's actual validation only rejects zero
// fields per spec.md §4.4; this table is advisory, surfaced through
// IsStandardMode for callers (e.g. a control panel) that want to flag
// non-standard modes without the miniport itself refusing them.
type standardMode struct {
	Width, Height, Refresh uint32
}

var standardModes = []standardMode{
	{1280, 720, 60}, {1280, 720, 120},
	{1920, 1080, 60}, {1920, 1080, 120}, {1920, 1080, 144},
	{2560, 1440, 60}, {2560, 1440, 120}, {2560, 1440, 144},
	{3840, 2160, 60}, {3840, 2160, 120},
	{1920, 1200, 60}, {2560, 1600, 60},
	{1024, 768, 60}, {1600, 1200, 60},
}

// IsStandardMode reports whether width/height/refresh matches one of the
// 14 entries in the standard mode table.
func IsStandardMode(width, height, refresh uint32) bool {
	for _, m := range standardModes {
		if m.Width == width && m.Height == height && m.Refresh == refresh {
			return true
		}
	}
	return false
}
