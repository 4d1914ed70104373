package rom

// Cursor is a sequential reader over an Image with sticky error handling:
// the first failed read records the error and every later read returns a
// zero value, so callers can decode a whole structure and check Err once.
type Cursor struct {
	img *Image
	off int
	err error
}

func NewCursor(img *Image, off int) *Cursor {
	return &Cursor{img: img, off: off}
}

// Offset returns the current read position.
func (c *Cursor) Offset() int { return c.off }

// Err returns the first read error, if any.
func (c *Cursor) Err() error { return c.err }

// Seek moves the read position. It does not clear a recorded error.
func (c *Cursor) Seek(off int) { c.off = off }

// Skip advances the read position by n bytes.
func (c *Cursor) Skip(n int) { c.off += n }

func (c *Cursor) Byte() byte {
	if c.err != nil {
		return 0
	}
	b, err := c.img.Byte(c.off)
	if err != nil {
		c.err = err
		return 0
	}
	c.off++
	return b
}

func (c *Cursor) S8() int8 {
	return int8(c.Byte())
}

func (c *Cursor) U16() uint16 {
	if c.err != nil {
		return 0
	}
	v, err := c.img.U16(c.off)
	if err != nil {
		c.err = err
		return 0
	}
	c.off += 2
	return v
}

func (c *Cursor) U32() uint32 {
	if c.err != nil {
		return 0
	}
	v, err := c.img.U32(c.off)
	if err != nil {
		c.err = err
		return 0
	}
	c.off += 4
	return v
}

func (c *Cursor) Bytes(n int) []byte {
	if c.err != nil {
		return nil
	}
	b, err := c.img.Bytes(c.off, n)
	if err != nil {
		c.err = err
		return nil
	}
	c.off += n
	return b
}

// Ptr reads a dword and translates it as a GBA pointer.
func (c *Cursor) Ptr() int {
	v := c.U32()
	if c.err != nil {
		return 0
	}
	off, err := c.img.Offset(v)
	if err != nil {
		c.err = err
		return 0
	}
	return off
}
