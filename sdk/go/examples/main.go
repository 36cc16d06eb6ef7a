package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgentHub/sdk/go/agenthub"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/commands", func(w http.ResponseWriter, r *http.Request) {
		var cmd agenthub.Command
		_ = json.NewDecoder(r.Body).Decode(&cmd)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(agenthub.CommandResponse{
			SessionID: "demo-session",
			Result: agenthub.Result{
				Success: true,
				Message: "content_from_analysis: 3 step(s)",
				Data:    map[string]any{"text": "final draft for: " + cmd.Command},
			},
		})
	})
	mux.HandleFunc("/api/v1/sessions/demo-session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(agenthub.Session{
			ID:        "demo-session",
			CreatedAt: time.Now().Add(-time.Minute).UTC(),
			Interactions: []agenthub.Interaction{
				{Actor: "coordinator", Action: "pipeline", Success: true, DurationMs: 1200},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := agenthub.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	resp, err := client.SubmitCommand(ctx, agenthub.Command{Command: "analiza servicio y crea blog"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("session=%s success=%v message=%q\n", resp.SessionID, resp.Result.Success, resp.Result.Message)

	sess, err := client.Session(ctx, resp.SessionID)
	if err != nil {
		panic(err)
	}
	for _, it := range sess.Interactions {
		fmt.Printf("%s %s success=%v %dms\n", it.Actor, it.Action, it.Success, it.DurationMs)
	}
}
