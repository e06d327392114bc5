package transport

import "bytes"

// KISS framing constants.
const (
	kissFEND    = 0xC0
	kissFESC    = 0xDB
	kissTFEND   = 0xDC
	kissTFESC   = 0xDD
	kissCmdData = 0x00
)

// escapeKISS escapes any KISS special bytes so that framing is preserved.
func escapeKISS(data []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(data) + 8)
	for _, b := range data {
		switch b {
		case kissFEND:
			out.Write([]byte{kissFESC, kissTFEND})
		case kissFESC:
			out.Write([]byte{kissFESC, kissTFESC})
		default:
			out.WriteByte(b)
		}
	}
	return out.Bytes()
}

// unescapeKISS reverses escapeKISS.
func unescapeKISS(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b == kissFESC && i+1 < len(data) {
			switch data[i+1] {
			case kissTFEND:
				out = append(out, kissFEND)
				i++
				continue
			case kissTFESC:
				out = append(out, kissFESC)
				i++
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// buildKISSFrame wraps packet bytes in a KISS data frame.
func buildKISSFrame(packet []byte) []byte {
	escaped := escapeKISS(packet)
	frame := make([]byte, 0, len(escaped)+3)
	frame = append(frame, kissFEND, kissCmdData)
	frame = append(frame, escaped...)
	frame = append(frame, kissFEND)
	return frame
}

// extractKISSFrames pulls complete data frames out of buf and returns their
// unescaped contents plus any bytes belonging to an incomplete frame.
func extractKISSFrames(buf []byte) ([][]byte, []byte) {
	var frames [][]byte
	for {
		start := bytes.IndexByte(buf, kissFEND)
		if start == -1 {
			return frames, nil
		}
		end := bytes.IndexByte(buf[start+1:], kissFEND)
		if end == -1 {
			return frames, buf[start:]
		}
		end += start + 1

		inner := buf[start+1 : end]
		// Back-to-back FENDs delimit nothing; only data frames are delivered.
		if len(inner) > 1 && inner[0]&0x0F == kissCmdData {
			frames = append(frames, unescapeKISS(inner[1:]))
		}
		buf = buf[end:]
	}
}
