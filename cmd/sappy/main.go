package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/term"

	sappy "github.com/hfmkwi/SapPy"
	"github.com/hfmkwi/SapPy/internal/display"
	"github.com/hfmkwi/SapPy/internal/song"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("sappy", flag.ContinueOnError)
	var (
		romPath = fs.String("rom", "", "path to a GBA ROM image (required)")
		songIdx = fs.Int("song", 0, "song table index")
		table   = fs.String("table", "", "song table address (e.g. 0x08F80000); empty scans the ROM")
		wavPath = fs.String("wav", "", "render to a float32 WAV file instead of playing")
		loops   = fs.Int("loops", 0, "stop after N loops (0 = loop forever; rendering forces at least 1)")
		volume  = fs.Float64("volume", 1.0, "master volume scalar")
		list    = fs.Bool("list", false, "list the song table and exit")
		info    = fs.Bool("info", false, "print song metadata and exit")
		quiet   = fs.Bool("quiet", false, "play without the live track display")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *romPath == "" {
		fmt.Fprintln(os.Stderr, "sappy: -rom is required")
		fs.Usage()
		return 1
	}

	opts := []sappy.PlayerOption{
		sappy.WithMasterVolume(*volume),
		sappy.WithLoopLimit(*loops),
	}
	if *table != "" {
		addr, err := strconv.ParseUint(*table, 0, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sappy: bad -table %q: %v\n", *table, err)
			return 1
		}
		opts = append(opts, sappy.WithSongTable(uint32(addr)))
	}

	pl, err := sappy.NewPlayer(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sappy: %v\n", err)
		return 2
	}
	if err := pl.LoadFile(*romPath); err != nil {
		fmt.Fprintf(os.Stderr, "sappy: %s: %v\n", *romPath, err)
		return 2
	}

	if *list {
		listSongs(pl)
		return 0
	}

	meta, err := pl.Info(*songIdx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sappy: song %d: %v\n", *songIdx, err)
		return 2
	}
	if *info {
		printInfo(pl, *songIdx, meta)
		return 0
	}

	if *wavPath != "" {
		return renderWAV(pl, *songIdx, *wavPath)
	}

	events := pl.Watch()
	if err := pl.Play(*songIdx); err != nil {
		fmt.Fprintf(os.Stderr, "sappy: play: %v\n", err)
		return 3
	}
	defer pl.Stop()

	fd := int(os.Stdin.Fd())
	if *quiet || !term.IsTerminal(fd) {
		return waitQuiet(pl, events)
	}
	return watchLive(pl, events, fd, display.Snapshot{
		Meta:  meta,
		Song:  *songIdx,
		Songs: pl.Songs(),
	})
}

func listSongs(pl *sappy.Player) {
	n := pl.Songs()
	fmt.Printf("%d songs\n", n)
	for i := 0; i < n; i++ {
		meta, err := pl.Info(i)
		if err != nil {
			fmt.Printf("%4d  -\n", i)
			continue
		}
		fmt.Printf("%4d  header 0x%08X  tracks %-2d  reverb 0x%02X\n",
			i, 0x08000000+meta.HeaderOff, meta.Tracks, meta.Reverb)
	}
}

func printInfo(pl *sappy.Player, idx int, meta song.Meta) {
	mode := pl.Mode()
	fmt.Printf("game     %s (%s)\n", meta.GameTitle, meta.GameCode)
	fmt.Printf("song     %d of %d\n", idx, pl.Songs())
	fmt.Printf("table    0x%08X\n", 0x08000000+meta.TableOff)
	fmt.Printf("header   0x%08X\n", 0x08000000+meta.HeaderOff)
	fmt.Printf("voices   0x%08X\n", 0x08000000+meta.VoiceOff)
	fmt.Printf("tracks   %d\n", meta.Tracks)
	fmt.Printf("priority %d\n", meta.Priority)
	fmt.Printf("reverb   0x%02X\n", meta.Reverb)
	fmt.Printf("driver   %d ch, volume %d/255, %d Hz, %d-bit DAC (found=%v)\n",
		mode.Polyphony, mode.Volume, mode.Frequency, mode.DACBits, mode.Found)
}

func renderWAV(pl *sappy.Player, song int, path string) int {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sappy: %v\n", err)
		return 3
	}
	err = pl.RenderWAV(f, song)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sappy: render: %v\n", err)
		return 3
	}
	fmt.Printf("wrote %s\n", path)
	return 0
}

// waitQuiet follows playback on the event channel alone.
func waitQuiet(pl *sappy.Player, events <-chan sappy.PlaybackEvent) int {
	for ev := range events {
		switch ev.Kind {
		case sappy.EventTempo:
			fmt.Printf("tempo %d bpm\n", ev.BPM)
		case sappy.EventLoop:
			fmt.Printf("loop %d\n", ev.Loop)
		case sappy.EventTrackHalted:
			fmt.Fprintf(os.Stderr, "sappy: track %d halted: %v\n", ev.Track, ev.Err)
		case sappy.EventFinished:
			if ev.Err != nil {
				fmt.Fprintf(os.Stderr, "sappy: %v\n", ev.Err)
				return 3
			}
			fmt.Println("finished")
			return 0
		}
	}
	return 0
}

// watchLive repaints the track display until the song ends or a key
// stops it. The terminal sits in raw mode the whole time; q or Ctrl-C
// quits, space pauses.
func watchLive(pl *sappy.Player, events <-chan sappy.PlaybackEvent, fd int, snap display.Snapshot) int {
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sappy: raw mode: %v\n", err)
		return waitQuiet(pl, events)
	}
	defer term.Restore(fd, oldState)

	fmt.Print("\x1b[?25l\x1b[2J")
	defer fmt.Print("\x1b[?25h")

	view := display.New()
	keys := readKeys()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var exitErr error
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case sappy.EventFinished:
				repaint(pl, view, &snap)
				if ev.Err != nil {
					exitErr = ev.Err
				}
				fmt.Print("\r\n")
				if exitErr != nil {
					fmt.Printf("error: %v\r\n", exitErr)
					return 3
				}
				return 0
			}
		case b, ok := <-keys:
			if !ok {
				return 0
			}
			switch b {
			case 'q', 'Q', 3: // Ctrl-C
				pl.Stop()
			case ' ':
				if snap.Paused {
					pl.Resume()
				} else {
					pl.Pause()
				}
				snap.Paused = !snap.Paused
			}
		case <-ticker.C:
			repaint(pl, view, &snap)
		}
	}
}

func repaint(pl *sappy.Player, view *display.View, snap *display.Snapshot) {
	snap.BPM = pl.BPM()
	snap.Tick = pl.Position()
	snap.Tracks = pl.TrackStates()
	fmt.Print("\x1b[H" + view.Render(*snap) + "\x1b[0J")
}

// readKeys feeds single bytes from stdin; raw mode makes reads return
// per keypress.
func readKeys() <-chan byte {
	ch := make(chan byte)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				close(ch)
				return
			}
			if n > 0 {
				ch <- buf[0]
			}
		}
	}()
	return ch
}
