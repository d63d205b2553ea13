package testhelper

import (
	"bytes"
	"encoding/binary"
)

// Commands builds a script for the helper's stdin.
type Commands struct {
	buf bytes.Buffer
}

// SendOutput makes the helper print data and a newline on stdout, or on
// stderr when toStdout is false.
func (c *Commands) SendOutput(toStdout bool, data string) *Commands {
	op := OpStderr
	if toStdout {
		op = OpStdout
	}
	c.buf.WriteString(op)
	c.writeInt32(int32(len(data)))
	c.buf.WriteString(data)
	return c
}

// SendExit makes the helper exit with code.
func (c *Commands) SendExit(code int) *Commands {
	c.buf.WriteString(OpExit)
	c.writeInt32(int32(code))
	return c
}

// SendAbort makes the helper die by SIGABRT.
func (c *Commands) SendAbort() *Commands {
	c.buf.WriteString(OpAbort)
	return c
}

func (c *Commands) Bytes() []byte {
	return c.buf.Bytes()
}

func (c *Commands) Len() int {
	return c.buf.Len()
}

func (c *Commands) writeInt32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	c.buf.Write(b[:])
}
