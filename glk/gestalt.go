package glk

// Gestalt selectors, numbered per the Glk 0.7.6 specification.
const (
	GestaltVersion              uint32 = 0
	GestaltCharInput            uint32 = 1
	GestaltLineInput            uint32 = 2
	GestaltCharOutput           uint32 = 3
	GestaltMouseInput           uint32 = 4
	GestaltTimer                uint32 = 5
	GestaltGraphics             uint32 = 6
	GestaltDrawImage            uint32 = 7
	GestaltSound                uint32 = 8
	GestaltSoundVolume          uint32 = 9
	GestaltSoundNotify          uint32 = 10
	GestaltHyperlinks           uint32 = 11
	GestaltHyperlinkInput       uint32 = 12
	GestaltSoundMusic           uint32 = 13
	GestaltGraphicsTransparency uint32 = 14
	GestaltUnicode              uint32 = 15
	GestaltUnicodeNorm          uint32 = 16
	GestaltLineInputEcho        uint32 = 17
	GestaltLineTerminators      uint32 = 18
	GestaltLineTerminatorKey    uint32 = 19
	GestaltDateTime             uint32 = 20
	GestaltSound2               uint32 = 21
	GestaltResourceStream       uint32 = 22
	GestaltGraphicsCharInput    uint32 = 23
)

// CharOutput answers.
const (
	CharOutputCannotPrint uint32 = 0
	CharOutputApproxPrint uint32 = 1
	CharOutputExactPrint  uint32 = 2
)

// glkVersion is the emulated Glk spec version, 0.7.6.
const glkVersion uint32 = 0x00000706

// Gestalt answers a capability query. Sound, graphics rendering, and
// timers are reported unsupported; that is the honest answer for this
// runtime, not a missing feature.
func (m *Model) Gestalt(sel, val uint32) uint32 {
	switch sel {
	case GestaltVersion:
		return glkVersion
	case GestaltCharInput, GestaltLineInput:
		if val <= 0x7F || (val >= 0xA0 && val <= 0xFF) {
			return 1
		}
		if sel == GestaltCharInput && val >= keycodeBase {
			return 1
		}
		return 0
	case GestaltCharOutput:
		if val <= 0x7F || (val >= 0xA0 && val <= 0xFF) {
			return CharOutputExactPrint
		}
		return CharOutputCannotPrint
	case GestaltUnicode, GestaltUnicodeNorm:
		return 1
	case GestaltHyperlinks, GestaltHyperlinkInput:
		return 1
	case GestaltDateTime, GestaltLineInputEcho, GestaltLineTerminators:
		return 1
	case GestaltResourceStream:
		return 1
	default:
		// Timer, sound, graphics, mouse, and everything unknown.
		return 0
	}
}

// Support lists the capabilities the init update advertises, matching
// the Gestalt answers above.
func (m *Model) Support() []string {
	return []string{"unicode", "hyperlinks", "timer:off", "graphics:off", "sound:off"}
}

// Special key codes, mapped into the top of the 32-bit range per Glk.
const keycodeBase uint32 = 0xFFFFFFF0

const (
	KeycodeUnknown  uint32 = 0xFFFFFFFF
	KeycodeLeft     uint32 = 0xFFFFFFFE
	KeycodeRight    uint32 = 0xFFFFFFFD
	KeycodeUp       uint32 = 0xFFFFFFFC
	KeycodeDown     uint32 = 0xFFFFFFFB
	KeycodeReturn   uint32 = 0xFFFFFFFA
	KeycodeDelete   uint32 = 0xFFFFFFF9
	KeycodeEscape   uint32 = 0xFFFFFFF8
	KeycodeTab      uint32 = 0xFFFFFFF7
	KeycodePageUp   uint32 = 0xFFFFFFF6
	KeycodePageDown uint32 = 0xFFFFFFF5
	KeycodeHome     uint32 = 0xFFFFFFF4
	KeycodeEnd      uint32 = 0xFFFFFFF3
)

var keycodeNames = map[string]uint32{
	"left": KeycodeLeft, "right": KeycodeRight,
	"up": KeycodeUp, "down": KeycodeDown,
	"return": KeycodeReturn, "delete": KeycodeDelete,
	"escape": KeycodeEscape, "tab": KeycodeTab,
	"pageup": KeycodePageUp, "pagedown": KeycodePageDown,
	"home": KeycodeHome, "end": KeycodeEnd,
}

// KeycodeByName resolves a wire key name ("return", "left", ...) to its
// Glk key code.
func KeycodeByName(name string) (uint32, bool) {
	code, ok := keycodeNames[name]
	return code, ok
}
