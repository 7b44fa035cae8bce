package display

import (
	"strings"
	"sync"
)

// MockDevicer keeps written rows in memory.
type MockDevicer struct {
	mu     sync.Mutex
	rows   [][]byte
	y, x   uint8
	Fail   bool // CursorYX returns false
	Clears int
}

func NewMockDevicer(rows int) *MockDevicer {
	return &MockDevicer{rows: make([][]byte, rows)}
}

func (self *MockDevicer) Clear() {
	self.mu.Lock()
	defer self.mu.Unlock()
	for i := range self.rows {
		self.rows[i] = nil
	}
	self.Clears++
}

func (self *MockDevicer) CursorYX(y, x uint8) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.Fail || y == 0 || int(y) > len(self.rows) {
		return false
	}
	self.y, self.x = y, x
	return true
}

func (self *MockDevicer) Write(b []byte) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.y == 0 {
		return
	}
	self.rows[self.y-1] = append([]byte(nil), b...)
}

func (self *MockDevicer) String() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	ss := make([]string, len(self.rows))
	for i, r := range self.rows {
		ss[i] = string(r)
	}
	return strings.Join(ss, "\n")
}
