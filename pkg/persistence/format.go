// Package persistence serializes built indexes to a self-describing binary
// file and loads them back, either into owned memory or straight out of a
// memory mapped file.
//
// Layout (little-endian):
//
//	header   64 bytes, see below
//	arena    count*dim float32 components, or count*dim int8 codes
//	graph    per node: layerCount uint16, then per layer
//	         neighborCount uint16 followed by neighbor ids as uint32
//
// The header carries a CRC32 (IEEE) over the whole file except the checksum
// field itself, so a truncated or bit-flipped file, header included, is
// rejected before any of it is trusted.
package persistence

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/dkoess/semdex/pkg/core/distance"
	"github.com/dkoess/semdex/pkg/core/hnsw"
	"github.com/dkoess/semdex/pkg/storage/mmap"
)

const (
	magic      = "SDX1"
	version    = 1
	headerSize = 64

	crcOffset = 40
)

const (
	metricL2     = 0
	metricCosine = 1
)

// FormatError reports a file that cannot be decoded: wrong magic, unknown
// version, truncation, or checksum mismatch.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("index file %s: %s", e.Path, e.Reason)
}

// ConfigError reports a valid index file whose parameters do not match what
// the caller expects, such as a server configured for a different dimension
// or metric.
type ConfigError struct {
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("index file %s: %s", e.Path, e.Reason)
}

func formatErr(path, format string, args ...any) *FormatError {
	return &FormatError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func metricCode(m distance.Metric) (uint8, error) {
	switch m {
	case distance.L2Squared:
		return metricL2, nil
	case distance.Cosine:
		return metricCosine, nil
	}
	return 0, fmt.Errorf("unknown metric %q", m)
}

func metricFromCode(c uint8) (distance.Metric, bool) {
	switch c {
	case metricL2:
		return distance.L2Squared, true
	case metricCosine:
		return distance.Cosine, true
	}
	return "", false
}

// Save writes a built index to path. The file is assembled under a
// temporary name next to the target and renamed into place, so a crash mid
// write never leaves a partial file behind the final name.
func Save(path string, idx *hnsw.Index) error {
	if !idx.Built() {
		return fmt.Errorf("save %s: %w", path, hnsw.ErrNotBuilt)
	}
	cfg := idx.Config()
	mc, err := metricCode(cfg.Metric)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if f != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	header := make([]byte, headerSize)
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint16(header[4:6], version)
	header[6] = mc
	if cfg.Quantized {
		header[7] = 1
	}
	binary.LittleEndian.PutUint32(header[8:12], uint32(cfg.Dim))
	binary.LittleEndian.PutUint32(header[12:16], uint32(idx.Len()))
	binary.LittleEndian.PutUint32(header[16:20], uint32(cfg.M))
	binary.LittleEndian.PutUint32(header[20:24], uint32(cfg.M0))
	binary.LittleEndian.PutUint32(header[24:28], uint32(cfg.EfConstruction))
	binary.LittleEndian.PutUint32(header[28:32], idx.EntryPoint())
	binary.LittleEndian.PutUint32(header[32:36], uint32(int32(idx.MaxLayer())))
	binary.LittleEndian.PutUint32(header[36:40], math.Float32bits(idx.Scale().AbsMax))
	// header[40:44] is the checksum field, patched after the payload is
	// written. It is skipped by the checksum itself.

	bw := bufio.NewWriterSize(f, 1<<20)
	if _, err := bw.Write(header); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	crc.Write(header[:crcOffset])
	crc.Write(header[crcOffset+4:])
	w := io.MultiWriter(bw, crc)
	if err := writePayload(w, idx); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], crc.Sum32())
	if _, err := f.WriteAt(sum[:], crcOffset); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		f = nil
		os.Remove(tmp)
		return err
	}
	f = nil
	return os.Rename(tmp, path)
}

func writePayload(w io.Writer, idx *hnsw.Index) error {
	f32, i8 := idx.VectorData()
	if idx.Config().Quantized {
		buf := make([]byte, len(i8))
		for i, v := range i8 {
			buf[i] = byte(v)
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	} else {
		buf := make([]byte, 4)
		bw := bufio.NewWriterSize(w, 1<<16)
		for _, v := range f32 {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	}

	var u16 [2]byte
	var u32 [4]byte
	for id := 0; id < idx.Len(); id++ {
		links := idx.Links(uint32(id))
		binary.LittleEndian.PutUint16(u16[:], uint16(len(links)))
		if _, err := w.Write(u16[:]); err != nil {
			return err
		}
		for _, layer := range links {
			binary.LittleEndian.PutUint16(u16[:], uint16(len(layer)))
			if _, err := w.Write(u16[:]); err != nil {
				return err
			}
			for _, nb := range layer {
				binary.LittleEndian.PutUint32(u32[:], nb)
				if _, err := w.Write(u32[:]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Load reads the whole file into memory and reconstructs the index. The
// vector arena aliases the read buffer, so nothing is copied twice.
func Load(path string) (*hnsw.Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(path, data)
}

// LoadMmap maps the file and reconstructs the index with its vector arena
// aliased directly from the mapping. The adjacency lists are decoded onto
// the heap. The returned closer releases the mapping and must outlive the
// index.
func LoadMmap(path string) (*hnsw.Index, io.Closer, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, nil, err
	}
	idx, err := decode(path, m.Bytes())
	if err != nil {
		m.Close()
		return nil, nil, err
	}
	return idx, m, nil
}

// Check validates a loaded index against the dimension and metric the
// caller was configured for. The path only labels the returned error.
func Check(path string, idx *hnsw.Index, dim int, metric distance.Metric) error {
	cfg := idx.Config()
	if cfg.Dim != dim {
		return &ConfigError{Path: path, Reason: fmt.Sprintf("index dimension %d, configured dimension %d", cfg.Dim, dim)}
	}
	if metric != "" && cfg.Metric != metric {
		return &ConfigError{Path: path, Reason: fmt.Sprintf("index metric %q, configured metric %q", cfg.Metric, metric)}
	}
	return nil
}

func decode(path string, data []byte) (*hnsw.Index, error) {
	if len(data) < headerSize {
		return nil, formatErr(path, "too short: %d bytes", len(data))
	}
	if string(data[0:4]) != magic {
		return nil, formatErr(path, "bad magic %q", data[0:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != version {
		return nil, formatErr(path, "unsupported version %d", v)
	}
	metric, ok := metricFromCode(data[6])
	if !ok {
		return nil, formatErr(path, "unknown metric code %d", data[6])
	}
	quantized := data[7] != 0

	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	count := int(binary.LittleEndian.Uint32(data[12:16]))
	m := int(binary.LittleEndian.Uint32(data[16:20]))
	m0 := int(binary.LittleEndian.Uint32(data[20:24]))
	efc := int(binary.LittleEndian.Uint32(data[24:28]))
	entryPoint := binary.LittleEndian.Uint32(data[28:32])
	maxLayer := int(int32(binary.LittleEndian.Uint32(data[32:36])))
	absMax := math.Float32frombits(binary.LittleEndian.Uint32(data[36:40]))
	wantCRC := binary.LittleEndian.Uint32(data[40:44])

	got := crc32.ChecksumIEEE(data[:crcOffset])
	got = crc32.Update(got, crc32.IEEETable, data[crcOffset+4:])
	if got != wantCRC {
		return nil, formatErr(path, "checksum mismatch: stored %08x, computed %08x", wantCRC, got)
	}
	if count > 0 && int(entryPoint) >= count {
		return nil, formatErr(path, "entry point %d out of range for %d vectors", entryPoint, count)
	}

	arenaBytes := count * dim
	if !quantized {
		arenaBytes *= 4
	}
	payload := data[headerSize:]
	if len(payload) < arenaBytes {
		return nil, formatErr(path, "truncated vector arena: have %d bytes, need %d", len(payload), arenaBytes)
	}

	parts := hnsw.Parts{
		Config: hnsw.Config{
			Dim:            dim,
			M:              m,
			M0:             m0,
			EfConstruction: efc,
			Metric:         metric,
			Quantized:      quantized,
		},
		Scale:      distance.Scale{AbsMax: absMax},
		EntryPoint: entryPoint,
		MaxLayer:   maxLayer,
	}
	if quantized {
		parts.VectorsI8 = asInt8(payload[:arenaBytes])
	} else {
		parts.VectorsF32 = asFloat32(payload[:arenaBytes])
	}

	links, rest, err := decodeGraph(payload[arenaBytes:], count)
	if err != nil {
		return nil, formatErr(path, "%v", err)
	}
	if len(rest) != 0 {
		return nil, formatErr(path, "%d trailing bytes after graph", len(rest))
	}
	top := -1
	for _, node := range links {
		if l := len(node) - 1; l > top {
			top = l
		}
		for _, layer := range node {
			for _, nb := range layer {
				if int(nb) >= count {
					return nil, formatErr(path, "neighbor id %d out of range for %d vectors", nb, count)
				}
			}
		}
	}
	if count > 0 {
		if maxLayer != top {
			return nil, formatErr(path, "header max layer %d, graph top layer %d", maxLayer, top)
		}
		if len(links[entryPoint]) != maxLayer+1 {
			return nil, formatErr(path, "entry point %d spans %d layers, expected %d", entryPoint, len(links[entryPoint]), maxLayer+1)
		}
	}
	parts.Links = links

	idx, err := hnsw.FromParts(parts)
	if err != nil {
		return nil, formatErr(path, "%v", err)
	}
	return idx, nil
}

func decodeGraph(b []byte, count int) ([][][]uint32, []byte, error) {
	links := make([][][]uint32, count)
	for id := 0; id < count; id++ {
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("truncated graph at node %d", id)
		}
		layers := int(binary.LittleEndian.Uint16(b))
		b = b[2:]
		node := make([][]uint32, layers)
		for l := 0; l < layers; l++ {
			if len(b) < 2 {
				return nil, nil, fmt.Errorf("truncated graph at node %d layer %d", id, l)
			}
			n := int(binary.LittleEndian.Uint16(b))
			b = b[2:]
			if len(b) < n*4 {
				return nil, nil, fmt.Errorf("truncated neighbor list at node %d layer %d", id, l)
			}
			layer := make([]uint32, n)
			for i := range layer {
				layer[i] = binary.LittleEndian.Uint32(b[i*4:])
			}
			b = b[n*4:]
			node[l] = layer
		}
		links[id] = node
	}
	return links, b, nil
}
