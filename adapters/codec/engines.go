package codec

import (
	"fmt"
	"sync"

	"github.com/Skryldev/imagecodec/core"
)

// Defaults are the encoder settings engines fall back to when a write
// carries no options.
type Defaults struct {
	JPEGQuality    int
	PNGCompression int
	RawCompression RawCompression
	EXRCompression EXRCompression
}

// Constructor builds one engine from the shared defaults.
type Constructor func(Defaults) core.Engine

var (
	mu           sync.RWMutex
	constructors = map[core.Format]Constructor{
		core.FormatRaw:  func(d Defaults) core.Engine { return NewRaw(d.RawCompression) },
		core.FormatPNG:  func(d Defaults) core.Engine { return NewPNG(d.PNGCompression) },
		core.FormatJPEG: func(d Defaults) core.Engine { return NewJPEG(d.JPEGQuality) },
		core.FormatTIFF: func(Defaults) core.Engine { return NewTIFF() },
		core.FormatBMP:  func(Defaults) core.Engine { return NewBMP() },
		core.FormatWebP: func(Defaults) core.Engine { return NewWebP() },
		core.FormatQOI:  func(Defaults) core.Engine { return NewQOI() },
		core.FormatEXR:  func(d Defaults) core.Engine { return NewEXR(d.EXRCompression) },
		core.FormatHDR:  func(Defaults) core.Engine { return NewHDR() },
		core.FormatTGA:  func(Defaults) core.Engine { return NewTGA() },
	}
	order = []core.Format{
		core.FormatRaw, core.FormatPNG, core.FormatJPEG, core.FormatTIFF,
		core.FormatBMP, core.FormatWebP, core.FormatQOI, core.FormatEXR,
		core.FormatHDR, core.FormatTGA,
	}
)

// RegisterEngine adds an engine constructor outside this package, appended
// to the default detection order. It is meant for init functions.
func RegisterEngine(f core.Format, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := constructors[f]; !dup {
		order = append(order, f)
	}
	constructors[f] = c
}

// DefaultOrder returns every known format in default detection order.
func DefaultOrder() []core.Format {
	mu.RLock()
	defer mu.RUnlock()
	return append([]core.Format(nil), order...)
}

// Engines builds engines for the named formats in the given order. An empty
// list selects DefaultOrder.
func Engines(formats []core.Format, d Defaults) ([]core.Engine, error) {
	if len(formats) == 0 {
		formats = DefaultOrder()
	}
	mu.RLock()
	defer mu.RUnlock()
	out := make([]core.Engine, 0, len(formats))
	for _, f := range formats {
		c, ok := constructors[f]
		if !ok {
			return nil, fmt.Errorf("codec: no engine for format %q", f)
		}
		out = append(out, c(d))
	}
	return out, nil
}
