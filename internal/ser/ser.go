// Package ser implements the SER astronomy video container format: a
// fixed 178-byte little-endian header (memory-mapped and mutated in place
// as frames are appended), a body of packed frame images with no padding,
// and an optional per-frame timestamp trailer written at close.
//
// Format reference: http://www.grischa-hahn.homepage.t-online.de/astro/ser/
// This package implements version 3 of that format, matching the original
// seeing-things/zwo capture tool's SERFile.{h,cpp}.
package ser

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ColorID identifies how pixel color information is encoded, per the SER spec.
type ColorID int32

const (
	ColorMono      ColorID = 0
	ColorBayerRGGB ColorID = 8
	ColorBayerGRBG ColorID = 9
	ColorBayerGBRG ColorID = 10
	ColorBayerBGGR ColorID = 11
	ColorBayerCYYM ColorID = 16
	ColorBayerYCMY ColorID = 17
	ColorBayerYMCY ColorID = 18
	ColorBayerMYYC ColorID = 19
	ColorRGB       ColorID = 100
	ColorBGR       ColorID = 101
)

const (
	headerSize = 178

	offFileID             = 0
	lenFileID             = 14
	offLuID               = 14
	offColorID            = 18
	offLittleEndian       = 22
	offImageWidth         = 26
	offImageHeight        = 30
	offPixelDepthPerPlane = 34
	offFrameCount         = 38
	offObserver           = 42
	lenMetaField          = 40
	offInstrument         = offObserver + lenMetaField
	offTelescope          = offInstrument + lenMetaField
	offDateTime           = offTelescope + lenMetaField
	offDateTimeUTC        = offDateTime + 8
)

const fileIDTag = "LUCAM-RECORDER"

// VBDateTicksToUnixEpoch is the number of 100ns "VB ticks" (the Visual
// Basic Date type's epoch: midnight, Jan 1, year 1 proleptic Gregorian)
// between that epoch and the Unix epoch.
const VBDateTicksToUnixEpoch int64 = 621_355_968_000_000_000
const vbTicksPerSecond int64 = 10_000_000

// UnixNSToVBTicks converts nanoseconds since the Unix epoch to VB ticks.
// Sub-100ns precision is truncated, matching the original C++ tool's
// integer division.
func UnixNSToVBTicks(unixNS int64) int64 {
	return unixNS/100 + VBDateTicksToUnixEpoch
}

// VBTicksToUnixNS converts VB ticks back to nanoseconds since the Unix
// epoch. It is the exact inverse of UnixNSToVBTicks up to the 100ns
// truncation: VBTicksToUnixNS(UnixNSToVBTicks(x)) == x - (x mod 100).
func VBTicksToUnixNS(ticks int64) int64 {
	return (ticks - VBDateTicksToUnixEpoch) * 100
}

// File is an open SER container being written to. It is not safe for
// concurrent use — exactly one goroutine (the disk writer) may call
// AddFrame at a time; the container is never opened for concurrent
// writing.
type File struct {
	filename     string
	f            *os.File
	header       []byte // mmap'd header region, headerSize bytes
	bytesPerFrame int64
	addTrailer   bool
	timestamps   []int64
	utcOffsetSec int64
	closed       bool
}

// Options configures a new SER container.
type Options struct {
	Width, Height        int
	ColorID              ColorID
	BitDepth             int // 1..16
	Observer, Instrument string
	Telescope            string
	AddTrailer           bool
}

// Create opens (or truncates) filename and writes a default-initialized
// SER header into it via a memory mapping, ready for AddFrame calls.
func Create(filename string, opt Options) (*File, error) {
	bytesPerPixel := int64((opt.BitDepth-1)/8 + 1)
	bytesPerFrame := int64(opt.Width) * int64(opt.Height) * bytesPerPixel
	if opt.ColorID == ColorRGB || opt.ColorID == ColorBGR {
		bytesPerFrame *= 3
	}

	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ser: open(%s): %w", filename, err)
	}

	if err := f.Truncate(headerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("ser: extend %s to header length: %w", filename, err)
	}

	header, err := unix.Mmap(int(f.Fd()), 0, headerSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ser: mmap header of %s: %w", filename, err)
	}

	// Position the write cursor past the header so the first AddFrame call
	// appends the frame body rather than overwriting the mmap'd region;
	// neither OpenFile nor Truncate nor Mmap moves the fd's offset off 0.
	if _, err := f.Seek(headerSize, io.SeekStart); err != nil {
		unix.Munmap(header)
		f.Close()
		return nil, fmt.Errorf("ser: seek past header of %s: %w", filename, err)
	}

	sf := &File{
		filename:      filename,
		f:             f,
		header:        header,
		bytesPerFrame: bytesPerFrame,
		addTrailer:    opt.AddTrailer,
		utcOffsetSec:  localUTCOffsetSeconds(),
	}
	sf.initHeader(opt)
	return sf, nil
}

func (sf *File) initHeader(opt Options) {
	copy(sf.header[offFileID:offFileID+lenFileID], fileIDTag)
	binary.LittleEndian.PutUint32(sf.header[offLuID:], 0)
	binary.LittleEndian.PutUint32(sf.header[offColorID:], uint32(opt.ColorID))
	binary.LittleEndian.PutUint32(sf.header[offLittleEndian:], 1)
	binary.LittleEndian.PutUint32(sf.header[offImageWidth:], uint32(opt.Width))
	binary.LittleEndian.PutUint32(sf.header[offImageHeight:], uint32(opt.Height))
	binary.LittleEndian.PutUint32(sf.header[offPixelDepthPerPlane:], uint32(opt.BitDepth))
	binary.LittleEndian.PutUint32(sf.header[offFrameCount:], 0)
	putFixedASCII(sf.header[offObserver:offObserver+lenMetaField], opt.Observer)
	putFixedASCII(sf.header[offInstrument:offInstrument+lenMetaField], opt.Instrument)
	putFixedASCII(sf.header[offTelescope:offTelescope+lenMetaField], opt.Telescope)

	utcTicks, localTicks := sf.makeTimestamps()
	binary.LittleEndian.PutUint64(sf.header[offDateTime:], uint64(localTicks))
	binary.LittleEndian.PutUint64(sf.header[offDateTimeUTC:], uint64(utcTicks))
}

func putFixedASCII(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

// FrameCount returns the number of frame bodies written so far, read
// directly from the memory-mapped header.
func (sf *File) FrameCount() int32 {
	return int32(binary.LittleEndian.Uint32(sf.header[offFrameCount:]))
}

// BytesPerFrame returns the fixed per-frame body size in bytes.
func (sf *File) BytesPerFrame() int64 {
	return sf.bytesPerFrame
}

// AddFrame appends exactly BytesPerFrame bytes of pixel data, increments the
// in-memory-mapped FrameCount, and, if the trailer option is enabled,
// records a VB-tick UTC timestamp for later flush at Close.
func (sf *File) AddFrame(data []byte) error {
	if int64(len(data)) != sf.bytesPerFrame {
		return fmt.Errorf("ser: frame size %d bytes does not match expected size %d bytes", len(data), sf.bytesPerFrame)
	}

	if sf.addTrailer {
		utcTicks, _ := sf.makeTimestamps()
		sf.timestamps = append(sf.timestamps, utcTicks)
	}

	n, err := sf.f.Write(data)
	if err != nil {
		return fmt.Errorf("ser: write frame: %w", err)
	}
	if int64(n) != sf.bytesPerFrame {
		return fmt.Errorf("ser: incomplete frame write (%d/%d bytes)", n, sf.bytesPerFrame)
	}

	count := binary.LittleEndian.Uint32(sf.header[offFrameCount:])
	binary.LittleEndian.PutUint32(sf.header[offFrameCount:], count+1)
	return nil
}

// Close finalizes the container. If no frames were ever written, the file
// is removed rather than left behind empty. Otherwise, if the trailer
// option was set, the accumulated per-frame timestamps are appended past
// the last frame body. The mapped header region is synced and unmapped.
//
// When the trailer option is set, a FrameCount that does not match the
// number of recorded timestamps (one per AddFrame call) is a programming
// defect and panics rather than silently producing a corrupt container.
// Without the trailer option, Close makes no such check.
func (sf *File) Close() error {
	if sf.closed {
		return nil
	}
	sf.closed = true

	frameCount := sf.FrameCount()
	if int(frameCount) != len(sf.timestamps) && sf.addTrailer {
		panic(fmt.Sprintf("ser: header FrameCount %d does not match recorded timestamp count %d", frameCount, len(sf.timestamps)))
	}

	if frameCount == 0 {
		sf.unmapAndClose()
		if err := os.Remove(sf.filename); err != nil {
			return fmt.Errorf("ser: remove empty recording %s: %w", sf.filename, err)
		}
		return nil
	}

	if sf.addTrailer {
		buf := make([]byte, 8*len(sf.timestamps))
		for i, ts := range sf.timestamps {
			binary.LittleEndian.PutUint64(buf[i*8:], uint64(ts))
		}
		n, err := sf.f.Write(buf)
		if err != nil {
			return fmt.Errorf("ser: write trailer: %w", err)
		}
		if n != len(buf) {
			return fmt.Errorf("ser: incomplete trailer write (%d/%d bytes)", n, len(buf))
		}
	}

	return sf.unmapAndClose()
}

func (sf *File) unmapAndClose() error {
	if err := unix.Msync(sf.header, unix.MS_SYNC); err != nil {
		return fmt.Errorf("ser: msync header: %w", err)
	}
	if err := unix.Munmap(sf.header); err != nil {
		return fmt.Errorf("ser: munmap header: %w", err)
	}
	return sf.f.Close()
}

func (sf *File) makeTimestamps() (utc, local int64) {
	utc = UnixNSToVBTicks(time.Now().UnixNano())
	local = utc + sf.utcOffsetSec*vbTicksPerSecond
	return utc, local
}

func localUTCOffsetSeconds() int64 {
	_, offset := time.Now().Zone()
	return int64(offset)
}
