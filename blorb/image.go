package blorb

import "encoding/binary"

// ImageInfo reports raster dimensions read from the image's own format
// header, without decoding pixel data.
type ImageInfo struct {
	Width  uint32
	Height uint32
}

// ImageInfo parses the PNG IHDR or first JPEG SOF0 marker of the Pict
// resource with the given number. Returns nil for missing resources and
// for formats without a parseable header.
func (b *Blorb) ImageInfo(number uint32) *ImageInfo {
	res := b.Image(number)
	if res == nil {
		return nil
	}
	switch res.Type {
	case "PNG ":
		return pngInfo(res.Data)
	case "JPEG":
		return jpegInfo(res.Data)
	}
	return nil
}

// pngInfo reads width/height from the IHDR chunk, which the PNG spec
// fixes at byte offsets 16 and 20.
func pngInfo(data []byte) *ImageInfo {
	if len(data) < 24 {
		return nil
	}
	return &ImageInfo{
		Width:  binary.BigEndian.Uint32(data[16:20]),
		Height: binary.BigEndian.Uint32(data[20:24]),
	}
}

// jpegInfo walks marker segments until the first SOF0, whose payload
// carries height then width as big-endian u16.
func jpegInfo(data []byte) *ImageInfo {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return nil
		}
		marker := data[pos+1]
		size := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if marker == 0xC0 {
			if pos+9 > len(data) {
				return nil
			}
			return &ImageInfo{
				Height: uint32(binary.BigEndian.Uint16(data[pos+5 : pos+7])),
				Width:  uint32(binary.BigEndian.Uint16(data[pos+7 : pos+9])),
			}
		}
		pos += 2 + size
	}
	return nil
}
