// Package ko implements the KO Emitter: it serializes a Second Pass
// codegen.Output into the binary Kerbal Object container. Field widths
// are a frozen external contract with the downstream linker, so every
// width and ordering decision here is fixed and versioned rather than
// left to encoding/gob or similar general purpose serializers.
package ko

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/ksp-kos/kasm/internal/codegen"
	"github.com/ksp-kos/kasm/internal/symtab"
)

// Magic identifies a KO container; Version is the current KO major. The
// header layout is locked behind this versioned serializer.
const (
	Magic   = "KASMKO"
	Version = uint16(1)
)

// Options carries the CLI-supplied metadata recorded in the KO: the
// upstream source-symbol name (-f) and linker comment (-c).
type Options struct {
	SourceName string
	Comment    string
}

// stringTable deduplicates names in first-use order and assigns each a
// stable index, so every reference elsewhere in the container is a
// uint32 index rather than a repeated inline string.
type stringTable struct {
	index map[string]uint32
	order []string
}

func newStringTable() *stringTable {
	return &stringTable{index: make(map[string]uint32)}
}

func (t *stringTable) intern(s string) uint32 {
	if i, ok := t.index[s]; ok {
		return i
	}
	i := uint32(len(t.order))
	t.index[s] = i
	t.order = append(t.order, s)
	return i
}

// Write serializes out into the KO container format, writing header,
// string table, section table, symbol table, `.text`, `.data` and
// relocations in that order. Offsets within sections are already final
// after the Second Pass, so this pass only needs to measure and
// concatenate.
func Write(w io.Writer, out *codegen.Output, opts Options) error {
	strs := newStringTable()
	strs.intern(opts.SourceName)
	strs.intern(opts.Comment)

	textBody, err := encodeText(out.TextInstrs, strs)
	if err != nil {
		return fmt.Errorf("emit .text: %w", err)
	}
	dataBody, err := encodeData(out.DataEntries, strs)
	if err != nil {
		return fmt.Errorf("emit .data: %w", err)
	}
	symBody := encodeSymbols(out.Symbols, strs)
	relocBody := encodeRelocations(out.Relocations, strs)

	var buf bytes.Buffer
	buf.WriteString(Magic)
	writeU16(&buf, Version)

	// The section table names its sections by string-table index, so
	// those names are interned before the table is written.
	strs.intern(".text")
	strs.intern(".data")
	writeStringTable(&buf, strs)

	// Section table: one entry per emitted section, each naming its
	// string-table index, record count, and byte size within this
	// container.
	type sectionEntry struct {
		name  string
		count uint32
		body  []byte
	}
	sections := []sectionEntry{
		{".text", uint32(len(out.TextInstrs)), textBody},
		{".data", uint32(len(out.DataEntries)), dataBody},
	}
	writeU32(&buf, uint32(len(sections)))
	for _, s := range sections {
		writeU32(&buf, strs.intern(s.name))
		writeU32(&buf, s.count)
		writeU32(&buf, uint32(len(s.body)))
	}

	writeU32(&buf, uint32(len(symBody)))
	buf.Write(symBody)

	buf.Write(textBody)
	buf.Write(dataBody)

	writeU32(&buf, uint32(len(out.Relocations)))
	buf.Write(relocBody)

	writeU32(&buf, strs.intern(opts.SourceName))
	writeU32(&buf, strs.intern(opts.Comment))

	_, err = w.Write(buf.Bytes())
	return err
}

func writeStringTable(buf *bytes.Buffer, strs *stringTable) {
	writeU32(buf, uint32(len(strs.order)))
	for _, s := range strs.order {
		writeU32(buf, uint32(len(s)))
		buf.WriteString(s)
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func encodeSymbols(syms *symtab.Table, strs *stringTable) []byte {
	var buf bytes.Buffer
	for _, s := range syms.All() {
		writeU32(&buf, strs.intern(s.Name))
		buf.WriteByte(byte(s.Binding))
		buf.WriteByte(byte(s.Type))
		var sectionIdx byte
		switch s.Section {
		case ".text":
			sectionIdx = 1
		case ".data":
			sectionIdx = 2
		}
		buf.WriteByte(sectionIdx)
		writeU64(&buf, s.Offset)
		if s.Defined {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

// encodeOperand writes one operand record: (kind_tag, payload). An
// operand awaiting a relocation patch writes a zero placeholder payload
// of the tag's natural width; the linker overwrites it using the
// accompanying relocation record.
func encodeOperand(buf *bytes.Buffer, op codegen.EncodedOperand, strs *stringTable) error {
	buf.WriteByte(byte(op.KindTag))
	if op.Relocation {
		writeU32(buf, 0)
		return nil
	}
	switch op.KindTag {
	case codegen.TagNull, codegen.TagArgMarker:
		// no payload
	case codegen.TagBool, codegen.TagBoolValue:
		if op.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case codegen.TagByte:
		buf.WriteByte(byte(int8(op.Int)))
	case codegen.TagInt16:
		writeU16(buf, uint16(int16(op.Int)))
	case codegen.TagInt32:
		writeU32(buf, uint32(int32(op.Int)))
	case codegen.TagScalarInt:
		// kOS scalars are 64-bit internally, so the value-wrapped
		// integer keeps the full width.
		writeU64(buf, uint64(op.Int))
	case codegen.TagFloat:
		writeU32(buf, math.Float32bits(float32(op.Float)))
	case codegen.TagDouble, codegen.TagScalarDouble:
		writeU64(buf, math.Float64bits(op.Float))
	case codegen.TagString, codegen.TagStringValue:
		writeU32(buf, strs.intern(op.Str))
	default:
		return fmt.Errorf("unknown operand kind tag %d", op.KindTag)
	}
	return nil
}

func encodeText(instrs []codegen.EncodedInstruction, strs *stringTable) ([]byte, error) {
	var buf bytes.Buffer
	for _, in := range instrs {
		buf.WriteByte(in.Opcode)
		buf.WriteByte(byte(len(in.Operands)))
		for _, op := range in.Operands {
			if err := encodeOperand(&buf, op, strs); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

func encodeData(entries []codegen.EncodedDataEntry, strs *stringTable) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		writeU32(&buf, strs.intern(e.Name))
		if err := encodeOperand(&buf, e.EncodedOperand, strs); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeRelocations(relocs []codegen.Relocation, strs *stringTable) []byte {
	var buf bytes.Buffer
	for _, r := range relocs {
		var sectionIdx byte
		if r.Section == ".data" {
			sectionIdx = 2
		} else {
			sectionIdx = 1
		}
		buf.WriteByte(sectionIdx)
		writeU64(&buf, r.OffsetInSection)
		writeU32(&buf, uint32(r.OperandSlot))
		writeU32(&buf, strs.intern(r.SymbolName))
	}
	return buf.Bytes()
}
