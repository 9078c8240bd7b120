// Command d2dump prints dumped d2 display lists.
//
// It decodes a blob written by Device.Dump and lists its register writes.
// With -demo it renders a small scene on the simulated accelerator first
// and dumps that; with -replay it also runs the list on the simulator and
// prints the final register values.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/fixed"
	"golang.org/x/term"

	"github.com/gogpu/d2"
	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/hw/sim"
	"github.com/gogpu/d2/regs"
)

func main() {
	var (
		demo   = flag.Bool("demo", false, "render a demo scene on the simulator and dump it")
		output = flag.String("o", "", "write the demo blob to this file")
		replay = flag.Bool("replay", false, "replay the list on the simulator and print final registers")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: d2dump [-replay] file.d2\n       d2dump -demo [-o file.d2]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if !*demo && flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	o := options{demo: *demo, output: *output, replay: *replay, path: flag.Arg(0)}
	out := bufio.NewWriter(os.Stdout)
	err := run(out, layout(), o)
	if ferr := out.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		log.Fatalf("d2dump: %v", err)
	}
}

type options struct {
	demo   bool
	output string
	replay bool
	path   string
}

// run loads or renders the blob and prints it to w. Whatever was printed
// before a failure stays in w.
func run(w io.Writer, c columns, o options) error {
	var blob []byte
	var err error
	if o.demo {
		blob, err = demoBlob()
		if err == nil && o.output != "" {
			err = os.WriteFile(o.output, blob, 0o644)
		}
	} else {
		blob, err = os.ReadFile(o.path)
	}
	if err != nil {
		return err
	}
	if err := printBlob(w, blob, c); err != nil {
		return err
	}
	if o.replay {
		return replayBlob(w, blob)
	}
	return nil
}

// columns is the output layout: how many writes per line and whether to
// highlight register names.
type columns struct {
	perLine int
	color   bool
}

const cellWidth = 26

func layout() columns {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return columns{perLine: 1}
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width < cellWidth {
		return columns{perLine: 1, color: true}
	}
	return columns{perLine: width / cellWidth, color: true}
}

func printBlob(w io.Writer, blob []byte, c columns) error {
	writes, end, err := d2.Decode(blob)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d bytes, %d writes, end code %d\n", len(blob), len(writes), end)
	var line []string
	for _, dw := range writes {
		name := regs.Name(dw.Reg)
		if c.color {
			name = "\x1b[1m" + name + "\x1b[0m"
		}
		cell := fmt.Sprintf("%4d.%d %s=%#08x", dw.Entry, dw.Slot, name, dw.Value)
		line = append(line, cell)
		if len(line) == c.perLine {
			fmt.Fprintln(w, strings.Join(line, "  "))
			line = line[:0]
		}
	}
	if len(line) > 0 {
		fmt.Fprintln(w, strings.Join(line, "  "))
	}
	return nil
}

func replayBlob(w io.Writer, blob []byte) error {
	port := sim.New(sim.Config{})
	defer port.Close()
	n, err := d2.Replay(blob, port)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "replayed %d writes\n", n)
	r := port.Registers()
	for idx, v := range r {
		if v != 0 {
			fmt.Fprintf(w, "%-12s %#08x\n", regs.Name(uint8(idx)), v)
		}
	}
	return nil
}

// demoBlob renders a few boxes in every render mode on the simulator and
// returns the dump of the executed list.
func demoBlob() ([]byte, error) {
	reg := hw.NewRegistry()
	reg.Register(hw.BackendSim, func() hw.Port { return sim.New(sim.Config{}) })

	dev, err := d2.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		port := dev.Port()
		dev.Close()
		if p, ok := port.(*sim.Port); ok {
			p.Close()
		}
	}()
	if err := dev.InitNamed(reg, ""); err != nil {
		return nil, err
	}

	fb, err := dev.Port().AllocVideoMemory(hw.MemTexture, 320*240*4)
	if err != nil {
		return nil, err
	}
	if err := dev.SetFramebuffer(fb, 320*4, 320, 240, gputypes.TextureFormatBGRA8Unorm); err != nil {
		return nil, err
	}
	outline, err := dev.CreateContext()
	if err != nil {
		return nil, err
	}
	steps := []func() error{
		func() error { return dev.Clear(0x202040) },
		func() error { return dev.DefaultContext().SetColor(0, 0xFF8000) },
		func() error { return outline.SetColor(0, 0xFFFFFF) },
		func() error { return dev.OutlineContext(outline) },
		func() error { return dev.SetShadowOffset(fixed.I(4), fixed.I(4)) },
	}
	for m := d2.RenderSolid; m <= d2.RenderPostprocess; m++ {
		x := fixed.I(10 + 50*int(m))
		steps = append(steps,
			func() error { return dev.SetRenderMode(m) },
			func() error { return dev.RenderBox(x, fixed.I(20), fixed.I(40), fixed.I(30)) },
		)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	if err := dev.Execute(nil, 0); err != nil {
		return nil, err
	}
	if err := dev.WaitIdle(context.Background()); err != nil {
		return nil, err
	}
	return dev.Dump(nil)
}
