// Package inspector streams live tile map state to debugging clients over a
// websocket, so the shape of the quadtree can be watched while a viewer runs.
package inspector

import (
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/geosphere/quadtile/quadtree"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const defaultInterval = time.Second

// Source exposes the state an inspector client watches.
type Source interface {
	Name() string
	Snapshot() quadtree.MapSnapshot
}

// Frame is one state report sent to every connected client.
type Frame struct {
	Time time.Time              `json:"time"`
	Maps []quadtree.MapSnapshot `json:"maps"`
}

// Inspector serves map snapshots at a fixed interval to each connected
// websocket client.
type Inspector struct {
	Maps     []Source
	Interval time.Duration
}

func (i *Inspector) Server() websocket.Server {
	return websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: i.handle,
	}
}

func (i *Inspector) handle(conn *websocket.Conn) {
	defer conn.Close()

	clientID := uuid.NewString()
	instrumentClientConnected()
	defer instrumentClientDisconnected()

	logs.WithTag("client_id", clientID).Debug("inspector client connected")
	defer logs.WithTag("client_id", clientID).Debug("inspector client disconnected")

	interval := i.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := i.sendFrame(conn); err != nil {
			logs.WithTag("client_id", clientID).Debug("inspector frame not delivered")
			return
		}
		instrumentFrameSent()
		<-ticker.C
	}
}

func (i *Inspector) sendFrame(conn *websocket.Conn) error {
	frame := Frame{
		Time: time.Now(),
		Maps: make([]quadtree.MapSnapshot, 0, len(i.Maps)),
	}
	for _, m := range i.Maps {
		frame.Maps = append(frame.Maps, m.Snapshot())
	}

	body, err := json.Marshal(frame)
	if err != nil {
		return errors.New("encoding inspector frame failed").Wrap(err)
	}
	return websocket.Message.Send(conn, body)
}
