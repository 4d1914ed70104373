// Package display renders the live playback view: a header card for
// the loaded game and song, and one row per track with the voice type,
// output level, pan position and remaining wait.
package display

import (
	"fmt"
	"strings"

	"github.com/hfmkwi/SapPy/internal/sequencer"
	"github.com/hfmkwi/SapPy/internal/song"
)

const (
	barWidth = 8
	panWidth = 9
)

// Snapshot is everything one repaint needs.
type Snapshot struct {
	Meta   song.Meta
	Song   int
	Songs  int
	BPM    int
	Tick   int
	Paused bool
	Tracks []sequencer.TrackStatus
}

type View struct {
	styles styles
}

func New() *View {
	return &View{styles: newStyles()}
}

// Render lays out one whole frame. Lines are joined with \r\n so the
// output stays aligned while the terminal is in raw mode.
func (v *View) Render(s Snapshot) string {
	lines := v.header(s)
	lines = append(lines, "")
	for i, tr := range s.Tracks {
		lines = append(lines, v.trackRow(i, tr))
	}
	lines = append(lines, "", v.styles.hint.Render("space pause · q quit"))
	return strings.Join(lines, "\r\n") + "\r\n"
}

func (v *View) header(s Snapshot) []string {
	title := s.Meta.GameTitle
	if title == "" {
		title = "(untitled)"
	}
	first := v.styles.title.Render(title)
	if s.Meta.GameCode != "" {
		first += "  " + v.styles.value.Render(s.Meta.GameCode)
	}

	pair := func(label, value string) string {
		return v.styles.label.Render(label) + " " + v.styles.value.Render(value)
	}
	second := strings.Join([]string{
		pair("song", fmt.Sprintf("%d/%d", s.Song, s.Songs)),
		pair("table", busAddr(s.Meta.TableOff)),
		pair("header", busAddr(s.Meta.HeaderOff)),
		pair("voices", busAddr(s.Meta.VoiceOff)),
	}, "  ")

	state := "playing"
	if s.Paused {
		state = "paused"
	}
	third := strings.Join([]string{
		pair("bpm", fmt.Sprintf("%d", s.BPM)),
		pair("tick", fmt.Sprintf("%d", s.Tick)),
		pair("reverb", reverbText(s.Meta)),
		v.styles.title.Render(state),
	}, "  ")

	return []string{first, second, third}
}

func (v *View) trackRow(i int, tr sequencer.TrackStatus) string {
	if tr.Halted {
		return v.styles.halted.Render(fmt.Sprintf("%2d  ---", i+1))
	}
	return fmt.Sprintf("%2d  %s %s  %s  %s  %s",
		i+1,
		v.styles.voice.Render(tr.Voice),
		v.styles.value.Render(fmt.Sprintf("@%-3d", tr.Program)),
		v.styles.bar.Render(levelBar(tr.Level)),
		v.styles.pan.Render(panGutter(tr.Pan)),
		v.styles.label.Render(fmt.Sprintf("w%-4d", tr.Wait)),
	)
}

func reverbText(m song.Meta) string {
	if !m.EchoEnabled() {
		return "off"
	}
	return fmt.Sprintf("%d", m.ReverbDepth())
}

func busAddr(off int) string {
	return fmt.Sprintf("0x%08X", 0x08000000+off)
}

var barEighths = []rune(" ▏▎▍▌▋▊▉")

// levelBar draws level into barWidth cells with eighth-block
// resolution.
func levelBar(level float64) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	eighths := int(level*float64(barWidth*8) + 0.5)
	var b strings.Builder
	for i := 0; i < barWidth; i++ {
		switch {
		case eighths >= 8:
			b.WriteRune('█')
			eighths -= 8
		case eighths > 0:
			b.WriteRune(barEighths[eighths])
			eighths = 0
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// panGutter marks the pan position on a fixed gutter, centre at 64.
func panGutter(pan int) string {
	if pan < 0 {
		pan = 0
	}
	if pan > 127 {
		pan = 127
	}
	g := []rune("L───┼───R")
	g[1+pan*(panWidth-3)/127] = '●'
	return string(g)
}
