package server

import "netkit/transport"

// exchangeWriter writes straight to the connection while its exchange is
// at the head of the queue. Later exchanges buffer until their turn.
type exchangeWriter struct{ ex *Exchange }

func (w exchangeWriter) Write(p []byte) (int, error) {
	c := w.ex.conn
	if c.closed {
		return 0, transport.ErrConnClosed
	}
	if head, err := c.queue.Peek(); err == nil && head == w.ex && w.ex.buf.Len() == 0 {
		if err := c.tc.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return w.ex.buf.Write(p)
}

// flush writes buffered responses in request order and retires finished exchanges.
func (c *conn) flush() {
	for !c.closed {
		head, err := c.queue.Peek()
		if err != nil {
			break
		}

		if head.aborted && !head.resDone {
			if head.resStarted {
				// The rest of its response never comes.
				c.close()
				return
			}
			c.queue.Dequeue()
			continue
		}

		if head.buf.Len() > 0 {
			if err := c.tc.Write(head.buf.Bytes()); err != nil {
				c.logger.Debug("failed to write response", "err", err)
				c.close()
				return
			}
			head.buf.Reset()
		}
		if !head.resDone {
			break
		}

		c.queue.Dequeue()
		if head.closeAfter {
			c.logger.Debug("closing after response", "status", head.resStatus)
			if c.reading == head && !c.failed {
				c.closeOnEnd = true
				return
			}
			c.close()
			return
		}
	}
	c.armIdle()
}
