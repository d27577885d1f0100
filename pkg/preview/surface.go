// Package preview implements the surface a camera feed is rendered to: a
// bound JPEG frame source fanned out to any number of MJPEG viewers.
package preview

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"newcamera/pkg/utils"
)

// Surface forwards frames of the bound source to its subscribers. A
// subscriber channel outlives Bind/Unbind cycles; it simply receives no
// frames while nothing is bound.
type Surface struct {
	lock   sync.Mutex
	logger *zap.SugaredLogger

	source <-chan []byte
	stop   chan struct{}
	done   chan struct{}

	subs   map[chan []byte]struct{}
	latest []byte
}

func New() *Surface {
	return &Surface{
		logger: utils.GetLogger(),
		subs:   make(map[chan []byte]struct{}),
	}
}

// Bind makes frames the source of the surface, replacing any previous one.
func (s *Surface) Bind(frames <-chan []byte) {
	s.Unbind()

	s.lock.Lock()
	defer s.lock.Unlock()
	s.source = frames
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.pump(frames, s.stop, s.done)
}

// Unbind detaches the current source and waits for its forwarding loop to
// exit. It is a no-op when nothing is bound.
func (s *Surface) Unbind() {
	s.lock.Lock()
	stop, done := s.stop, s.done
	s.source, s.stop, s.done = nil, nil, nil
	s.latest = nil
	s.lock.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Surface) Bound() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.source != nil
}

// Latest returns the most recent frame, or nil when none arrived since the
// last Bind.
func (s *Surface) Latest() []byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.latest
}

// Subscribe registers a viewer. The returned function unregisters it.
func (s *Surface) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)
	s.lock.Lock()
	s.subs[ch] = struct{}{}
	s.lock.Unlock()

	return ch, func() {
		s.lock.Lock()
		delete(s.subs, ch)
		s.lock.Unlock()
	}
}

func (s *Surface) pump(src <-chan []byte, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-src:
			if !ok {
				// source ended; wait for Unbind or a new Bind
				<-stop
				return
			}
			if frame == nil {
				continue
			}
			s.broadcast(frame)
		}
	}
}

func (s *Surface) broadcast(frame []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.latest = frame
	for ch := range s.subs {
		// drop the frame rather than block on a slow viewer
		select {
		case ch <- frame:
		default:
		}
	}
}

// ServeMJPEG streams the surface as multipart/x-mixed-replace JPEG parts
// until the client goes away.
func (s *Surface) ServeMJPEG(c *gin.Context) {
	frames, unsubscribe := s.Subscribe()
	defer unsubscribe()

	mimeWriter := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mimeWriter.Boundary()))
	c.Status(http.StatusOK)
	partHeader := make(textproto.MIMEHeader)
	partHeader.Add("Content-Type", "image/jpeg")

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			partWriter, err := mimeWriter.CreatePart(partHeader)
			if err != nil {
				s.logger.Warnf("preview: failed to create multi-part writer: %s", err)
				return
			}
			if _, err := partWriter.Write(frame); err != nil {
				s.logger.Debugf("preview: failed to write image: %s", err)
				return
			}
			c.Writer.Flush()
		}
	}
}
