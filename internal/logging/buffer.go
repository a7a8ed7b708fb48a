package logging

import (
	"strings"
	"sync"
)

// DefaultBufferLines は行数が指定されなかったときの保持行数
const DefaultBufferLines = 500

// Buffer は直近N行のログを保持するリングバッファ
type Buffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewBuffer は size 行を保持するバッファを作成する
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferLines
	}
	return &Buffer{lines: make([]string, size)}
}

// Write は io.Writer の実装。改行ごとに1行として保持する
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		b.lines[b.next] = line
		b.next = (b.next + 1) % len(b.lines)
		if b.next == 0 {
			b.full = true
		}
	}
	return len(p), nil
}

// Lines は保持している行を古い順に返す
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]string, b.next)
		copy(out, b.lines[:b.next])
		return out
	}

	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	out = append(out, b.lines[:b.next]...)
	return out
}
