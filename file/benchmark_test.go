package file

import (
	"testing"

	"github.com/opd-ai/meshgate/chunk"
)

func BenchmarkReceiveChunk_FullFile(b *testing.B) {
	data := testPattern(testFileSizeMax)
	chunks := chunk.Split(1, data)
	frames := make([][]byte, len(chunks))
	for i, c := range chunks {
		frame, err := c.Marshal()
		if err != nil {
			b.Fatal(err)
		}
		frames[i] = frame
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := NewManager(nil)
		for _, f := range frames {
			if _, err := m.ReceiveChunk(f); err != nil {
				b.Fatal(err)
			}
		}
		m.Close()
	}
}
