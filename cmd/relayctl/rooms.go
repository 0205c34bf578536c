package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"babel/relay/internal/health"
	"babel/relay/internal/registry"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List active rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		var body struct {
			Rooms    []registry.RoomInfo `json:"rooms"`
			Sessions int                 `json:"sessions"`
		}
		if err := getJSON(cmd.Context(), "/rooms", &body); err != nil {
			return err
		}
		renderRooms(cmd.OutOrStdout(), body.Rooms, body.Sessions)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the relay health report",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st health.HealthStatus
		if err := getJSON(cmd.Context(), "/healthz", &st); err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), st.String())
		if !st.OK {
			return fmt.Errorf("relay unhealthy")
		}
		return nil
	},
}

func renderRooms(w io.Writer, rooms []registry.RoomInfo, sessions int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Room", "Members"})
	members := 0
	for _, r := range rooms {
		t.AppendRow(table.Row{r.ID, r.Members})
		members += r.Members
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d rooms", len(rooms)), fmt.Sprintf("%d / %d sessions", members, sessions)})
	t.Render()
}

// getJSON decodes a GET on the admin API. A 503 health report still decodes.
func getJSON(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL()+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("unexpected status %d: %w", resp.StatusCode, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(roomsCmd, healthCmd)
}
