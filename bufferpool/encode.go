package bufferpool

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/OneOfOne/xxhash"

	"github.com/gracexichen/L-Store-Database/page"
)

const (
	frameVersion    = 1
	frameHeaderSize = 16
)

var (
	frameSignature = [4]byte{'l', 's', 'p', 'g'}
)

// encodePage frames a page for a store: signature(4) version(1) unused(3) checksum(8)
// followed by the page encoding. The checksum is xxhash64 of the page encoding. The page
// is marked clean as part of encoding; callers mark it dirty again if the write fails.
func encodePage(pg *page.Page) ([]byte, error) {
	body, err := pg.Checkpoint()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	copy(buf, frameSignature[:])
	buf[4] = frameVersion
	binary.BigEndian.PutUint64(buf[8:], xxhash.Checksum64(body))
	return append(buf, body...), nil
}

func decodePage(buf []byte) (*page.Page, error) {
	if len(buf) < frameHeaderSize {
		return nil, fmt.Errorf("short page frame: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[:4], frameSignature[:]) {
		return nil, fmt.Errorf("bad page signature: %v", buf[:4])
	}
	if buf[4] > frameVersion {
		return nil, fmt.Errorf("bad page version: %d", buf[4])
	}
	body := buf[frameHeaderSize:]
	sum := binary.BigEndian.Uint64(buf[8:])
	if xxhash.Checksum64(body) != sum {
		return nil, fmt.Errorf("page checksum mismatch: %x", sum)
	}
	return page.Decode(body)
}
