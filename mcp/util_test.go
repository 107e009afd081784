package mcp_test

import (
	"bytes"
	"strings"
	"sync"
)

type syncBuffer struct {
	lock sync.Mutex
	buf  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Contains(s string) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return strings.Contains(b.buf.String(), s)
}
