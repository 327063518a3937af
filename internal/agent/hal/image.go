package hal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	imageMagic        = 0xE9
	imageHeaderSize   = 24
	segmentHeaderSize = 8
	maxImageSegments  = 16
)

// imageHeader is the fixed header at the start of an app image.
type imageHeader struct {
	Magic        uint8
	SegmentCount uint8
	SPIMode      uint8
	SPISpeedSize uint8
	EntryAddr    uint32
	WPPin        uint8
	SPIPinDrv    [3]uint8
	ChipID       uint16
	MinChipRev   uint8
	MinRevFull   uint16
	MaxRevFull   uint16
	Reserved     [4]uint8
	HashAppended uint8
}

// verifyImage checks that the first size bytes of path hold a structurally valid app image:
// a known magic byte, at least one segment, and segments that fit inside the image.
func verifyImage(path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if size < imageHeaderSize {
		return fmt.Errorf("image of %d bytes is shorter than its header", size)
	}

	r := io.NewSectionReader(f, 0, size)

	var hdr imageHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("read image header: %w", err)
	}
	if hdr.Magic != imageMagic {
		return fmt.Errorf("invalid image magic 0x%02x (expected 0x%02x)", hdr.Magic, imageMagic)
	}
	if hdr.SegmentCount == 0 || hdr.SegmentCount > maxImageSegments {
		return fmt.Errorf("invalid segment count %d", hdr.SegmentCount)
	}

	offset := int64(imageHeaderSize)
	for i := 0; i < int(hdr.SegmentCount); i++ {
		var seg struct {
			LoadAddr uint32
			DataLen  uint32
		}
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &seg); err != nil {
			return fmt.Errorf("read segment %d header: %w", i, err)
		}
		offset += segmentHeaderSize + int64(seg.DataLen)
		if offset > size {
			return fmt.Errorf("segment %d (%d bytes at 0x%08x) extends past the image end", i, seg.DataLen, seg.LoadAddr)
		}
	}

	return nil
}
