// Package elfload parses a compiled eBPF ELF object using debug/elf,
// extracting the license string, map definitions, and one instruction
// stream per program section.
//
// Standard BPF objects are 64-bit little-endian, programs live in sections
// under a well-known prefix, maps live in a ".maps"/"maps" section, and a
// "license" section is required by the kernel loader.
package elfload

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"strings"
)

// Program is one decoded eBPF program section.
type Program struct {
	Section string
	Raw     []byte
}

// MapSpec mirrors the kernel's bpf_map_def: the map metadata a BTF-less
// ".maps" section publishes.
type MapSpec struct {
	Name       string
	Type       uint32
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
	Flags      uint32
}

// Object is everything the verifier needs out of a compiled .o: one raw
// instruction stream per program section, plus the maps it references.
type Object struct {
	License  string
	Programs []Program
	Maps     []MapSpec
}

// progSectionPrefixes lists the ELF section name prefixes the kernel loader
// recognizes as holding a BPF program, mirroring standard libbpf
// conventions (tracepoint/, kprobe/, xdp, socket filters, ...).
var progSectionPrefixes = []string{
	"tracepoint/", "kprobe/", "kretprobe/", "xdp", "socket", "cgroup/", "tc", "lsm/", "fentry/", "fexit/",
}

func isProgramSection(name string) bool {
	for _, p := range progSectionPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Load parses raw as a compiled BPF ELF object.
func Load(raw []byte) (*Object, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("elfload: parse ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("elfload: expected a 64-bit ELF object, got %v", f.Class)
	}

	out := &Object{}
	for _, sec := range f.Sections {
		switch {
		case sec.Name == "license":
			b, err := sec.Data()
			if err != nil {
				return nil, fmt.Errorf("elfload: read license section: %w", err)
			}
			out.License = strings.TrimRight(string(b), "\x00")

		case sec.Name == ".maps" || sec.Name == "maps":
			specs, err := parseMapsSection(sec)
			if err != nil {
				return nil, err
			}
			out.Maps = append(out.Maps, specs...)

		case isProgramSection(sec.Name):
			b, err := sec.Data()
			if err != nil {
				return nil, fmt.Errorf("elfload: read program section %q: %w", sec.Name, err)
			}
			out.Programs = append(out.Programs, Program{Section: sec.Name, Raw: b})
		}
	}

	if out.License == "" {
		out.License = "GPL"
	}
	if len(out.Programs) == 0 {
		return nil, errors.New("elfload: object contains no recognizable BPF program section")
	}
	return out, nil
}

// mapDefSize is sizeof(struct bpf_map_def): 5 consecutive uint32 fields.
const mapDefSize = 4 * 5

// parseMapsSection decodes a legacy (non-BTF) bpf_map_def-style maps
// section: each map is a fixed-size 20-byte little-endian record, named
// only by its ordinal position since the legacy format carries no per-map
// name in the section itself (real name resolution needs the symbol
// table, which this verifier's static analysis does not require).
func parseMapsSection(sec *elf.Section) ([]MapSpec, error) {
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("elfload: read maps section: %w", err)
	}
	if len(data)%mapDefSize != 0 {
		return nil, fmt.Errorf("elfload: maps section size %d is not a multiple of %d", len(data), mapDefSize)
	}
	var specs []MapSpec
	for off := 0; off < len(data); off += mapDefSize {
		rec := data[off : off+mapDefSize]
		specs = append(specs, MapSpec{
			Name:       fmt.Sprintf("map%d", off/mapDefSize),
			Type:       le32(rec[0:4]),
			KeySize:    le32(rec[4:8]),
			ValueSize:  le32(rec[8:12]),
			MaxEntries: le32(rec[12:16]),
			Flags:      le32(rec[16:20]),
		})
	}
	return specs, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
