package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/klauspost/compress/zlib"
	"github.com/x448/float16"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

var exrMagic = []byte{0x76, 0x2f, 0x31, 0x01}

const (
	exrVersion = 2

	exrFlagTiled     = 0x200
	exrFlagDeep      = 0x800
	exrFlagMultipart = 0x1000

	exrUint  = 0
	exrHalf  = 1
	exrFloat = 2

	// maxEXRAttribute bounds a single header attribute value.
	maxEXRAttribute = 1 << 24
)

// EXR reads and writes single-part scanline OpenEXR images with half, float
// or uint channels. NONE, RLE, ZIPS and ZIP blocks decode; NONE, ZIPS and ZIP
// encode. Pixels decode to 16F when every channel is half, otherwise to 32F.
type EXR struct {
	compression EXRCompression
}

// NewEXR returns an EXR engine that writes compression blocks unless
// options say otherwise.
func NewEXR(compression EXRCompression) *EXR { return &EXR{compression: compression} }

func (e *EXR) Format() core.Format { return core.FormatEXR }

func (e *EXR) CanLoad(s *core.Stream) bool {
	h, ok := s.Peek(len(exrMagic))
	return ok && utils.HasSignature(h, 0, exrMagic)
}

func (e *EXR) NewImage() core.Image {
	img := &exrImage{engine: e}
	img.name = "exr"
	return img
}

func (e *EXR) IsFormatSupported(pf core.PixelFormat) bool {
	info := pf.Info()
	return pf.Valid() && info.Kind == core.SampleFloat
}

// WriteFormatFor keeps float data as it is and stores integer data as float
// with the same channels: 32F for wide samples, 16F otherwise.
func (e *EXR) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if !pf.Valid() {
		return core.PixelFormatInvalid
	}
	if e.IsFormatSupported(pf) {
		return pf
	}
	info := pf.Info()
	depth := 2
	if info.BytesPerChannel > 2 {
		depth = 4
	}
	return core.FormatFor(info.Channels, depth, core.SampleFloat)
}

type exrChannel struct {
	name  string
	typ   int32
	slot  int // index in the decoded pixel, -1 when dropped
	bytes int
}

type exrImage struct {
	imageHandle
	engine *EXR

	channels    []exrChannel
	compression EXRCompression
	xMin, yMin  int
	width       int
	height      int
	native      core.PixelFormat
	raw         core.RawLayout
	tableAt     int64
}

func (i *exrImage) Open(s *core.Stream) apperrors.Status {
	if st := i.bind(s); st != apperrors.StatusOK {
		return st
	}
	r := s.Reader()
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil || !bytes.Equal(head[:4], exrMagic) {
		return i.fail(apperrors.StatusLoadFailedExternal, "truncated header")
	}
	version := binary.LittleEndian.Uint32(head[4:])
	if version&0xff != exrVersion {
		return i.fail(apperrors.StatusLoadFailedExternal, "unsupported version %d", version&0xff)
	}
	if version&(exrFlagTiled|exrFlagDeep|exrFlagMultipart) != 0 {
		return i.fail(apperrors.StatusLoadFailedExternal, "only single-part scanline images are supported")
	}

	var haveChannels, haveCompression, haveWindow bool
	for {
		name, err := readCString(r)
		if err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "attribute name: %v", err)
		}
		if name == "" {
			break
		}
		typ, err := readCString(r)
		if err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "attribute %s: %v", name, err)
		}
		var size int32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "attribute %s: %v", name, err)
		}
		if size < 0 || size > maxEXRAttribute {
			return i.fail(apperrors.StatusLoadFailedExternal, "attribute %s has size %d", name, size)
		}
		value := make([]byte, size)
		if _, err := io.ReadFull(r, value); err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "attribute %s: %v", name, err)
		}

		switch {
		case name == "channels" && typ == "chlist":
			if st := i.parseChannels(value); st != apperrors.StatusOK {
				return st
			}
			haveChannels = true
		case name == "compression" && typ == "compression" && size == 1:
			i.compression = EXRCompression(value[0])
			haveCompression = true
		case name == "dataWindow" && typ == "box2i" && size == 16:
			xMin := int64(int32(binary.LittleEndian.Uint32(value[0:])))
			yMin := int64(int32(binary.LittleEndian.Uint32(value[4:])))
			xMax := int64(int32(binary.LittleEndian.Uint32(value[8:])))
			yMax := int64(int32(binary.LittleEndian.Uint32(value[12:])))
			if xMax < xMin || yMax < yMin {
				return i.fail(apperrors.StatusLoadFailedExternal, "empty data window")
			}
			i.xMin, i.yMin = int(xMin), int(yMin)
			i.width, i.height = int(xMax-xMin+1), int(yMax-yMin+1)
			haveWindow = true
		}
	}
	if !haveChannels || !haveCompression || !haveWindow {
		return i.fail(apperrors.StatusLoadFailedExternal, "header lacks channels, compression or dataWindow")
	}
	switch i.compression {
	case EXRNone, EXRRLE, EXRZIPS, EXRZIP:
	default:
		return i.fail(apperrors.StatusLoadFailedExternal, "compression %d is not supported", i.compression)
	}

	i.tableAt = s.Tell()
	if i.tableAt < 0 {
		return i.fail(apperrors.StatusIOFailed, "cannot read stream position")
	}
	return i.rewind()
}

// parseChannels reads a chlist, assigns decoded slots and picks the native
// layout. Channels are stored sorted by name; an all-RGBA set decodes in RGBA
// order, anything else keeps the first four in file order.
func (i *exrImage) parseChannels(v []byte) apperrors.Status {
	i.channels = i.channels[:0]
	for len(v) > 0 && v[0] != 0 {
		end := bytes.IndexByte(v, 0)
		if end < 0 || len(v) < end+1+16 {
			return i.fail(apperrors.StatusLoadFailedExternal, "truncated channel list")
		}
		ch := exrChannel{name: string(v[:end]), slot: -1}
		v = v[end+1:]
		ch.typ = int32(binary.LittleEndian.Uint32(v))
		xs, ys := int32(binary.LittleEndian.Uint32(v[8:])), int32(binary.LittleEndian.Uint32(v[12:]))
		v = v[16:]
		switch ch.typ {
		case exrHalf:
			ch.bytes = 2
		case exrUint, exrFloat:
			ch.bytes = 4
		default:
			return i.fail(apperrors.StatusLoadFailedExternal, "channel %s has unknown type %d", ch.name, ch.typ)
		}
		if xs != 1 || ys != 1 {
			return i.fail(apperrors.StatusLoadFailedExternal, "channel %s is subsampled", ch.name)
		}
		i.channels = append(i.channels, ch)
	}
	if len(i.channels) == 0 {
		return i.fail(apperrors.StatusLoadFailedExternal, "no channels")
	}

	seen := make(map[string]bool, len(i.channels))
	allRGBA := true
	for _, ch := range i.channels {
		if seen[ch.name] {
			return i.fail(apperrors.StatusLoadFailedExternal, "channel %s listed twice", ch.name)
		}
		seen[ch.name] = true
		switch ch.name {
		case "R", "G", "B", "A":
		default:
			allRGBA = false
		}
	}
	used := 0
	if allRGBA {
		for _, want := range []string{"R", "G", "B", "A"} {
			for c := range i.channels {
				if i.channels[c].name == want {
					i.channels[c].slot = used
					used++
				}
			}
		}
	} else {
		for c := range i.channels {
			if used == 4 {
				break
			}
			i.channels[c].slot = used
			used++
		}
	}

	allHalf, same := true, true
	for _, ch := range i.channels {
		allHalf = allHalf && ch.typ == exrHalf
		same = same && ch.typ == i.channels[0].typ
	}
	depth := 4
	if allHalf {
		depth = 2
	}
	i.native = core.FormatFor(used, depth, core.SampleFloat)

	i.raw = core.RawLayout{Channels: len(i.channels), BytesPerChannel: -1, Kind: core.SampleUnknown}
	if same {
		i.raw.BytesPerChannel = i.channels[0].bytes
		i.raw.Kind = core.SampleFloat
		if i.channels[0].typ == exrUint {
			i.raw.Kind = core.SampleInt
		}
	}
	return apperrors.StatusOK
}

func (i *exrImage) Info() (core.ImageInfo, apperrors.Status) {
	return core.ImageInfo{
		Width:         i.width,
		Height:        i.height,
		Raw:           i.raw,
		DecodedFormat: i.native,
	}, apperrors.StatusOK
}

func (i *exrImage) lineBytes() int {
	n := 0
	for _, ch := range i.channels {
		n += ch.bytes * i.width
	}
	return n
}

func (i *exrImage) Decode(dst []byte, target core.PixelFormat) apperrors.Status {
	if i.stream == nil || i.stream.Seek(i.tableAt, core.SeekStart) < 0 {
		return i.fail(apperrors.StatusIOFailed, "cannot seek to offset table")
	}
	pix := dst
	if target != i.native {
		pix = make([]byte, i.native.ImageBytes(i.width, i.height))
	}

	lines := i.compression.linesPerBlock()
	chunks := (i.height + lines - 1) / lines
	table := make([]byte, 8*chunks)
	r := i.stream.Reader()
	if _, err := io.ReadFull(r, table); err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "offset table: %v", err)
	}

	lineBytes := i.lineBytes()
	block := make([]byte, lineBytes*lines)
	for c := 0; c < chunks; c++ {
		off := binary.LittleEndian.Uint64(table[c*8:])
		if off > math.MaxInt64-uint64(i.start) || i.stream.Seek(i.start+int64(off), core.SeekStart) < 0 {
			return i.fail(apperrors.StatusLoadFailedExternal, "chunk %d: bad offset %d", c, off)
		}
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "chunk %d: %v", c, err)
		}
		y := int64(int32(binary.LittleEndian.Uint32(ch[:]))) - int64(i.yMin)
		size := int32(binary.LittleEndian.Uint32(ch[4:]))
		if y < 0 || y >= int64(i.height) || size < 0 {
			return i.fail(apperrors.StatusLoadFailedExternal, "chunk %d: bad line %d or size %d", c, y, size)
		}
		n := min(lines, i.height-int(y))
		want := lineBytes * n
		if int(size) > want {
			return i.fail(apperrors.StatusLoadFailedExternal, "chunk %d holds %d bytes, at most %d expected", c, size, want)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "chunk %d: %v", c, err)
		}
		raw := block[:want]
		if int(size) == want {
			copy(raw, data)
		} else if err := exrDecompress(i.compression, data, raw); err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "chunk %d: %v", c, err)
		}
		i.scatter(pix, raw, int(y), n)
	}

	if target == i.native {
		return apperrors.StatusOK
	}
	return i.deliver(dst, pix, i.width, i.height, i.native, target)
}

// scatter moves n planar lines starting at row y into the packed native
// buffer.
func (i *exrImage) scatter(pix, raw []byte, y, n int) {
	info := i.native.Info()
	step := info.Channels * info.BytesPerChannel
	for line := 0; line < n; line++ {
		row := pix[(y+line)*i.width*step:]
		for _, ch := range i.channels {
			src := raw[:ch.bytes*i.width]
			raw = raw[ch.bytes*i.width:]
			if ch.slot < 0 {
				continue
			}
			for x := 0; x < i.width; x++ {
				out := row[x*step+ch.slot*info.BytesPerChannel:]
				if ch.typ != exrUint && ch.bytes == info.BytesPerChannel {
					copy(out[:ch.bytes], src[x*ch.bytes:])
					continue
				}
				// half next to float channels, or uint
				var v float32
				if ch.typ == exrHalf {
					v = float16.Frombits(binary.LittleEndian.Uint16(src[x*2:])).Float32()
				} else {
					v = float32(binary.LittleEndian.Uint32(src[x*4:]))
				}
				binary.LittleEndian.PutUint32(out, math.Float32bits(v))
			}
		}
	}
}

func (i *exrImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	if _, _, st := optionsAs[EXROptions](opts); st != apperrors.StatusOK {
		return i.fail(st, "options of type %T are not exr options", opts)
	}
	return apperrors.StatusOK
}

func (i *exrImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	compression := i.engine.compression
	if o, given, _ := optionsAs[EXROptions](req.Options); given {
		compression = o.Compression
	}
	target := i.engine.WriteFormatFor(req.Format)
	data, err := toWriteFormat(req, target)
	if err != nil {
		return i.fail(apperrors.StatusConversionFailedBadFormat, "%v", err)
	}
	info := target.Info()

	names := []string{"R", "G", "B", "A"}[:info.Channels]
	if info.Channels == 1 {
		names = []string{"Y"}
	}
	typ := int32(exrFloat)
	if info.BytesPerChannel == 2 {
		typ = exrHalf
	}
	i.channels = i.channels[:0]
	for slot, name := range names {
		i.channels = append(i.channels, exrChannel{name: name, typ: typ, slot: slot, bytes: info.BytesPerChannel})
	}
	sort.Slice(i.channels, func(a, b int) bool { return i.channels[a].name < i.channels[b].name })
	i.width, i.height = req.Width, req.Height

	hdr := exrHeader(i.channels, compression, req.Width, req.Height)
	lines := compression.linesPerBlock()
	chunks := (req.Height + lines - 1) / lines
	lineBytes := i.lineBytes()

	body := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(body)
	table := make([]byte, 0, 8*chunks)
	base := uint64(len(hdr) + 8*chunks)
	step := target.PixelBytes()
	planar := make([]byte, lineBytes*lines)
	for c := 0; c < chunks; c++ {
		y := c * lines
		n := min(lines, req.Height-y)
		raw := planar[:lineBytes*n]
		out := raw
		for line := 0; line < n; line++ {
			row := data[(y+line)*req.Width*step:]
			for _, ch := range i.channels {
				for x := 0; x < req.Width; x++ {
					copy(out[x*ch.bytes:(x+1)*ch.bytes], row[x*step+ch.slot*ch.bytes:])
				}
				out = out[req.Width*ch.bytes:]
			}
		}
		payload := raw
		if compression != EXRNone {
			packed, err := exrCompress(raw)
			if err != nil {
				return i.fail(apperrors.StatusWriteFailedInternal, "chunk %d: %v", c, err)
			}
			if len(packed) < len(raw) {
				payload = packed
			}
		}
		table = binary.LittleEndian.AppendUint64(table, base+uint64(body.Len()))
		var head [8]byte
		binary.LittleEndian.PutUint32(head[:], uint32(int32(y)))
		binary.LittleEndian.PutUint32(head[4:], uint32(len(payload)))
		body.Write(head[:])
		body.Write(payload)
	}

	for _, p := range [][]byte{hdr, table, body.Bytes()} {
		if st := i.writeOut(s, p); st != apperrors.StatusOK {
			return st
		}
	}
	return apperrors.StatusOK
}

func exrHeader(channels []exrChannel, compression EXRCompression, w, h int) []byte {
	out := append([]byte(nil), exrMagic...)
	out = binary.LittleEndian.AppendUint32(out, exrVersion)
	attr := func(name, typ string, value []byte) {
		out = append(out, name...)
		out = append(out, 0)
		out = append(out, typ...)
		out = append(out, 0)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(value)))
		out = append(out, value...)
	}

	var chlist []byte
	for _, ch := range channels {
		chlist = append(chlist, ch.name...)
		chlist = append(chlist, 0)
		chlist = binary.LittleEndian.AppendUint32(chlist, uint32(ch.typ))
		chlist = append(chlist, 0, 0, 0, 0) // pLinear + reserved
		chlist = binary.LittleEndian.AppendUint32(chlist, 1)
		chlist = binary.LittleEndian.AppendUint32(chlist, 1)
	}
	chlist = append(chlist, 0)

	var box []byte
	for _, v := range []int{0, 0, w - 1, h - 1} {
		box = binary.LittleEndian.AppendUint32(box, uint32(int32(v)))
	}
	one := binary.LittleEndian.AppendUint32(nil, math.Float32bits(1))

	attr("channels", "chlist", chlist)
	attr("compression", "compression", []byte{byte(compression)})
	attr("dataWindow", "box2i", box)
	attr("displayWindow", "box2i", box)
	attr("lineOrder", "lineOrder", []byte{0})
	attr("pixelAspectRatio", "float", one)
	attr("screenWindowCenter", "v2f", make([]byte, 8))
	attr("screenWindowWidth", "float", one)
	return append(out, 0)
}

// exrCompress applies the ZIP block transform: split even and odd bytes,
// delta-encode, then deflate.
func exrCompress(raw []byte) ([]byte, error) {
	tmp := make([]byte, len(raw))
	half := (len(raw) + 1) / 2
	for k, b := range raw {
		if k%2 == 0 {
			tmp[k/2] = b
		} else {
			tmp[half+k/2] = b
		}
	}
	prev := tmp[0]
	for k := 1; k < len(tmp); k++ {
		cur := tmp[k]
		tmp[k] = byte(int(cur) - int(prev) + 128 + 256)
		prev = cur
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(tmp); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// exrDecompress inverts exrCompress (or the RLE variant) into out, which has
// the exact uncompressed block size.
func exrDecompress(c EXRCompression, data, out []byte) error {
	tmp := make([]byte, len(out))
	switch c {
	case EXRZIP, EXRZIPS:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return err
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, tmp); err != nil {
			return err
		}
	case EXRRLE:
		if err := exrUnRLE(data, tmp); err != nil {
			return err
		}
	default:
		return fmt.Errorf("compression %d is not supported", c)
	}

	for k := 1; k < len(tmp); k++ {
		tmp[k] = byte(int(tmp[k-1]) + int(tmp[k]) - 128)
	}
	half := (len(tmp) + 1) / 2
	for k := range out {
		if k%2 == 0 {
			out[k] = tmp[k/2]
		} else {
			out[k] = tmp[half+k/2]
		}
	}
	return nil
}

func exrUnRLE(in, out []byte) error {
	n := 0
	for len(in) > 0 {
		count := int(int8(in[0]))
		in = in[1:]
		if count < 0 {
			count = -count
			if count > len(in) || n+count > len(out) {
				return fmt.Errorf("rle literal overruns block")
			}
			n += copy(out[n:], in[:count])
			in = in[count:]
			continue
		}
		count++
		if len(in) == 0 || n+count > len(out) {
			return fmt.Errorf("rle run overruns block")
		}
		for k := 0; k < count; k++ {
			out[n+k] = in[0]
		}
		n += count
		in = in[1:]
	}
	if n != len(out) {
		return fmt.Errorf("rle block holds %d bytes, need %d", n, len(out))
	}
	return nil
}

// readCString reads a NUL-terminated attribute string of at most 255 bytes.
func readCString(r io.Reader) (string, error) {
	var b [1]byte
	var name []byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(name), nil
		}
		if len(name) == 255 {
			return "", fmt.Errorf("name too long")
		}
		name = append(name, b[0])
	}
}
