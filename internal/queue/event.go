// Package queue defines message payloads exchanged over the message broker.
package queue

// ShowViewedQueue is the durable queue that carries ShowViewedEvent.
const ShowViewedQueue = "show.viewed"

// ShowViewedEvent is published each time a show's detail page is served.
type ShowViewedEvent struct {
    TVID     int64  `json:"tvid"`
    Name     string `json:"name"`
    ViewedAt string `json:"viewed_at"`
}
