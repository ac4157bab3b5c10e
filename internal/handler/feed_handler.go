package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/traderx-trade-processor/internal/events"
	"github.com/traderx-trade-processor/pkg/response"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 30 * time.Second
)

// FeedHandler streams trade and position events of an account over websocket
type FeedHandler struct {
	subscriber events.Subscriber
	upgrader   websocket.Upgrader
	log        logrus.FieldLogger
}

// NewFeedHandler creates a new FeedHandler
func NewFeedHandler(subscriber events.Subscriber, log logrus.FieldLogger) *FeedHandler {
	return &FeedHandler{
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Stream upgrades the connection and forwards account events as JSON messages
// GET /ws/accounts/:account_id
func (h *FeedHandler) Stream(c *gin.Context) {
	accountID, err := strconv.Atoi(c.Param("account_id"))
	if err != nil || accountID <= 0 {
		response.BadRequest(c, "invalid account id")
		return
	}

	ctx := c.Request.Context()
	sub, err := h.subscriber.Subscribe(ctx, events.TradesTopic(accountID), events.PositionsTopic(accountID))
	if err != nil {
		response.ServiceUnavailable(c, response.CodeInternal, "event feed unavailable")
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.WithField("account_id", accountID)
	log.Info("feed client connected")
	defer log.Info("feed client disconnected")

	// The read loop only handles control frames and detects the client going away
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(feedWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Warn("feed write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RegisterRoutes registers the websocket route
func (h *FeedHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws/accounts/:account_id", h.Stream)
}
