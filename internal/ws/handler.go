package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quietlight/tilefetch/internal/loader"
	"github.com/quietlight/tilefetch/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // same posture as the REST API: CORS is wide open
	},
}

const writeTimeout = 10 * time.Second

// Handler streams loader lifecycle events to websocket clients.
type Handler struct {
	feed *loader.Feed
	log  *logging.Logger
}

// NewHandler creates a websocket handler over the given event feed.
func NewHandler(feed *loader.Feed, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{feed: feed, log: log}
}

// HandleConnection upgrades the request and forwards events until the
// client disconnects. Slow clients miss events rather than blocking loads.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.feed.Subscribe()
	defer cancel()

	welcome := map[string]string{"type": "system", "message": "connected to tilefetch event feed"}
	if err := h.write(conn, welcome); err != nil {
		return
	}

	// Reader goroutine: we never expect client messages, but reading is
	// what surfaces the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.write(conn, ev); err != nil {
				h.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
