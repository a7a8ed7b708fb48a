// Package sequence ストレージルート内に永続化される連番カウンターを提供する
package sequence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileName はカウンターを保存するファイル名
const FileName = "sequence.json"

// initialValue はファイルが無い・壊れている場合の初期値
const initialValue = 1

type record struct {
	SequenceNumber int `json:"sequence_number"`
}

// Counter は永続化された連番
// 読み出しと更新は同じロックで直列化され、更新はファイルへの書き込みが終わってから返る
type Counter struct {
	mu      sync.Mutex
	path    string
	current int
}

// Open は dir 内のカウンターを読み込む。dir が無ければ作成する
func Open(dir string) (*Counter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("カウンターのディレクトリ作成に失敗: %w", err)
	}

	c := &Counter{path: filepath.Join(dir, FileName)}
	c.current = load(c.path)
	return c, nil
}

// load は記録を読む。読めなければ初期値を返す
func load(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return initialValue
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil || r.SequenceNumber < 0 {
		return initialValue
	}
	return r.SequenceNumber
}

// Path は記録ファイルのパスを返す
func (c *Counter) Path() string {
	return c.path
}

// Current は現在値を返す
func (c *Counter) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Increment は値を1進めて保存し、新しい値を返す
func (c *Counter) Increment() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.current + 1
	if err := c.save(next); err != nil {
		return c.current, err
	}
	c.current = next
	return next, nil
}

// SetCurrent は値を n に設定して保存する
func (c *Counter) SetCurrent(n int) error {
	if n < 0 {
		return fmt.Errorf("連番は0以上である必要があります: %d", n)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.save(n); err != nil {
		return err
	}
	c.current = n
	return nil
}

// save は一時ファイルに書いてから置き換える（ロック済み前提）
func (c *Counter) save(n int) (err error) {
	data, err := json.Marshal(record{SequenceNumber: n})
	if err != nil {
		return fmt.Errorf("カウンターのエンコードに失敗: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("カウンターの一時ファイル作成に失敗: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("カウンターの書き込みに失敗: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("カウンターの同期に失敗: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("カウンターのクローズに失敗: %w", err)
	}
	if err = os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("カウンターの置き換えに失敗: %w", err)
	}
	return nil
}
