package song

import (
	"fmt"

	"github.com/hfmkwi/SapPy/internal/rom"
)

// VoiceMode identifies which generator a leaf voice drives.
type VoiceMode int

const (
	VoiceDirectSound VoiceMode = iota + 1
	VoiceSquare1
	VoiceSquare2
	VoiceWave
	VoiceNoise
)

func (m VoiceMode) String() string {
	switch m {
	case VoiceDirectSound:
		return "PCM"
	case VoiceSquare1:
		return "SQ1"
	case VoiceSquare2:
		return "SQ2"
	case VoiceWave:
		return "WAV"
	case VoiceNoise:
		return "NSE"
	}
	return "---"
}

// Voice is a resolved leaf voice entry. PSG ADSR register values are
// already converted to the shared envelope units; DirectSound bytes
// pass through as stored.
type Voice struct {
	Mode       VoiceMode
	FixedPitch bool // DirectSound plays at the recorded rate, key ignored
	Root       int  // key the sample or tone is recorded at
	Pan        int  // bit 7 set = forced pan in bits 0..6, else track pan

	Attack  int
	Decay   int
	Sustain int
	Release int

	Sample *Sample     // DirectSound PCM
	Wave   *WaveSample // programmable wave table
	Duty   int         // square duty index 0..3
	Sweep  int         // square1 sweep register, stored but not synthesized
	Period int         // noise period select: 0 wide, 1 narrow
}

// VoiceTable resolves program numbers to leaf voices. Entries decode
// lazily: resolved voices are cached per program (per key for drumkit
// and key-split programs) and decoded samples per sample pointer.
type VoiceTable struct {
	img     *rom.Image
	off     int
	plain   map[int]*Voice
	keyed   map[int]*Voice
	samples map[int]*Sample
	waves   map[int]*WaveSample
}

// NewVoiceTable wraps the voice table at image offset off.
func NewVoiceTable(img *rom.Image, off int) *VoiceTable {
	return &VoiceTable{
		img:     img,
		off:     off,
		plain:   make(map[int]*Voice),
		keyed:   make(map[int]*Voice),
		samples: make(map[int]*Sample),
		waves:   make(map[int]*WaveSample),
	}
}

// Resolve returns the leaf voice for a program and played key, plus the
// key the voice sounds at. Drumkit leaves substitute their own root for
// the played key; key-split leaves map the key through the keymap and
// sound at the played key.
func (vt *VoiceTable) Resolve(program, key int) (*Voice, int, error) {
	if program < 0 || program > 127 {
		return nil, 0, fmt.Errorf("%w: program %d", ErrBadVoice, program)
	}
	key = clampKey(key)
	t, err := vt.img.Byte(vt.off + program*12)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: program %d at 0x%X: %v", ErrBadVoice, program, vt.off+program*12, err)
	}
	switch t {
	case 0x80:
		v, err := vt.drumLeaf(program, key)
		if err != nil {
			return nil, 0, err
		}
		return v, v.Root, nil
	case 0x40:
		v, err := vt.splitLeaf(program, key)
		if err != nil {
			return nil, 0, err
		}
		return v, key, nil
	default:
		v, err := vt.plainVoice(program)
		if err != nil {
			return nil, 0, err
		}
		return v, key, nil
	}
}

func (vt *VoiceTable) plainVoice(program int) (*Voice, error) {
	if v, ok := vt.plain[program]; ok {
		return v, nil
	}
	v, err := vt.readEntry(vt.off + program*12)
	if err != nil {
		return nil, err
	}
	vt.plain[program] = v
	return v, nil
}

func (vt *VoiceTable) drumLeaf(program, key int) (*Voice, error) {
	ck := program<<8 | key
	if v, ok := vt.keyed[ck]; ok {
		return v, nil
	}
	sub, err := vt.img.Ptr(vt.off + program*12 + 4)
	if err != nil {
		return nil, fmt.Errorf("%w: drum table for program %d: %v", ErrBadVoice, program, err)
	}
	v, err := vt.readEntry(sub + key*12)
	if err != nil {
		return nil, err
	}
	vt.keyed[ck] = v
	return v, nil
}

func (vt *VoiceTable) splitLeaf(program, key int) (*Voice, error) {
	ck := program<<8 | key
	if v, ok := vt.keyed[ck]; ok {
		return v, nil
	}
	base := vt.off + program*12
	sub, err := vt.img.Ptr(base + 4)
	if err != nil {
		return nil, fmt.Errorf("%w: split table for program %d: %v", ErrBadVoice, program, err)
	}
	keymap, err := vt.img.Ptr(base + 8)
	if err != nil {
		return nil, fmt.Errorf("%w: keymap for program %d: %v", ErrBadVoice, program, err)
	}
	idx, err := vt.img.Byte(keymap + key)
	if err != nil {
		return nil, fmt.Errorf("%w: keymap entry for program %d key %d: %v", ErrBadVoice, program, key, err)
	}
	v, err := vt.readEntry(sub + int(idx)*12)
	if err != nil {
		return nil, err
	}
	vt.keyed[ck] = v
	return v, nil
}

// readEntry decodes the 12-byte voice entry at an absolute image
// offset. Drumkit and key-split types are rejected here: only one
// level of indirection is allowed, so a leaf must be a mode entry.
func (vt *VoiceTable) readEntry(off int) (*Voice, error) {
	c := rom.NewCursor(vt.img, off)
	t := c.Byte()
	root := int(c.Byte())
	c.Skip(1)
	b3 := int(c.Byte()) // pan or square1 sweep, by mode
	arg := c.U32()      // sample/wave pointer, duty or noise period
	a := int(c.Byte())
	d := int(c.Byte())
	s := int(c.Byte())
	r := int(c.Byte())
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("%w: entry at 0x%X: %v", ErrBadVoice, off, err)
	}

	v := &Voice{Root: root}
	switch t {
	case 0x80, 0x40:
		return nil, fmt.Errorf("%w: nested drum/key-split entry at 0x%X", ErrBadVoice, off)
	case 0x00, 0x08:
		v.Mode = VoiceDirectSound
		v.FixedPitch = t == 0x08
		v.Pan = b3
		v.Attack, v.Decay, v.Sustain, v.Release = a, d, s, r
		sampleOff, err := vt.img.Offset(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: sample pointer 0x%08X at 0x%X: %v", ErrBadVoice, arg, off, err)
		}
		smp, err := vt.sample(sampleOff)
		if err != nil {
			return nil, err
		}
		v.Sample = smp
	case 0x01, 0x09:
		v.Mode = VoiceSquare1
		v.Sweep = b3
		v.Duty = int(arg & 3)
		v.setPSGEnvelope(a, d, s, r)
	case 0x02, 0x0A:
		v.Mode = VoiceSquare2
		v.Duty = int(arg & 3)
		v.setPSGEnvelope(a, d, s, r)
	case 0x03, 0x0B:
		v.Mode = VoiceWave
		waveOff, err := vt.img.Offset(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: wave pointer 0x%08X at 0x%X: %v", ErrBadVoice, arg, off, err)
		}
		wv, err := vt.wave(waveOff)
		if err != nil {
			return nil, err
		}
		v.Wave = wv
		v.setPSGEnvelope(a, d, s, r)
	case 0x04, 0x0C:
		v.Mode = VoiceNoise
		v.Period = int(arg & 1)
		v.setPSGEnvelope(a, d, s, r)
	default:
		return nil, fmt.Errorf("%w: type 0x%02X at 0x%X", ErrBadVoice, t, off)
	}
	return v, nil
}

// setPSGEnvelope maps CGB envelope registers onto the shared envelope:
// attack 0..7 inverts to the additive step, decay/sustain/release scale
// up to the multiplicative ranges.
func (v *Voice) setPSGEnvelope(a, d, s, r int) {
	v.Attack = clampEnv(255 - a*32)
	v.Decay = clampEnv(d * 32)
	v.Sustain = clampEnv(s * 16)
	v.Release = clampEnv(r * 32)
}

// --- internal helpers ---

func clampEnv(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func clampKey(k int) int {
	if k < 0 {
		return 0
	}
	if k > 127 {
		return 127
	}
	return k
}
