package stream

import "errors"

// ErrClosed is returned by First when the source closes without a value.
var ErrClosed = errors.New("stream: source closed")
