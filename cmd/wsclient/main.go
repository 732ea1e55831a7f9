// Package main runs a demo WebSocket client for live route tracking: it plans
// a small batch, follows the first route and reports a vehicle position.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const demoRequest = `{
  "depot": {"address": "Alexanderplatz 1, Berlin"},
  "deliveries": [
    {"id": "1", "address": "Unter den Linden 77, Berlin", "timeWindow": {"start": "09:00", "end": "12:00"}},
    {"id": "2", "address": "Friedrichstrasse 43, Berlin", "timeWindow": {"start": "10:00", "end": "14:00"}},
    {"id": "3", "address": "Kurfuerstendamm 21, Berlin", "timeWindow": {"start": "13:00", "end": "17:00"}}
  ],
  "vehicleCapacities": [10]
}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	routeID := flag.String("route", "", "existing route id; plans the demo batch when empty")
	vehicleID := flag.Int("vehicle", 0, "vehicle id of the existing route")
	flag.Parse()
	base := fmt.Sprintf("http://localhost:%s", port)

	if *routeID == "" {
		*routeID, *vehicleID = planDemo(base)
	}
	log.Printf("Route ID: %s", *routeID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/routes/" + *routeID + "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			if m.Event != "" {
				log.Printf("WS <- %s %s: %s", m.Type, m.Event, string(m.Data))
				continue
			}
			log.Printf("WS <- %s: %d bytes", m.Type, len(m.Data))
		}
	}()

	if err := c.WriteJSON(wsMessage{Type: "ping"}); err != nil {
		log.Fatal(err)
	}

	// Trigger a route event via a position report
	time.Sleep(500 * time.Millisecond)
	pos := []byte(fmt.Sprintf(`{"vehicleId":%d,"lat":52.5219,"lng":13.4132}`, *vehicleID))
	resp, err := http.Post(fmt.Sprintf("%s/v1/routes/%s/position", base, *routeID), "application/json", bytes.NewReader(pos))
	if err != nil {
		log.Printf("position: %v", err)
	} else {
		_ = resp.Body.Close()
	}

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}

func planDemo(base string) (string, int) {
	resp, err := http.Post(base+"/v1/optimize", "application/json", bytes.NewReader([]byte(demoRequest)))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		var p struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&p)
		log.Fatalf("optimize: %d %s: %s", resp.StatusCode, p.Title, p.Detail)
	}
	var optResp struct {
		Routes []struct {
			ID        string `json:"routeId"`
			VehicleID int    `json:"vehicleId"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&optResp); err != nil {
		log.Fatal(err)
	}
	if len(optResp.Routes) == 0 {
		log.Fatal("no routes returned")
	}
	return optResp.Routes[0].ID, optResp.Routes[0].VehicleID
}
