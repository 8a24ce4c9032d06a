package helper

import (
	"bytes"
	"io"
)

// ReaderToBuffer tries to read r into memory.
//
// With limit <= 0 the whole reader is buffered. Otherwise, once limit bytes
// have been read the buffer is abandoned: the returned reader replays what
// was consumed followed by the rest of r, and the caller should stream.
func ReaderToBuffer(r io.Reader, limit int64) ([]byte, io.Reader, error) {
	if limit <= 0 {
		buf, err := io.ReadAll(r)
		if err != nil {
			return nil, nil, err
		}
		return buf, nil, nil
	}

	buf := bytes.NewBuffer(make([]byte, 0))
	lr := io.LimitReader(r, limit)

	_, err := io.Copy(buf, lr)
	if err != nil {
		return nil, nil, err
	}

	// reached the limit
	if int64(buf.Len()) == limit {
		return nil, io.MultiReader(bytes.NewReader(buf.Bytes()), r), nil
	}

	return buf.Bytes(), nil, nil
}
