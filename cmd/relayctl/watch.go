package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"babel/relay/internal/client"
	"babel/relay/internal/signaling"
)

var (
	flagRoom string
	flagName string
	flagText string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join a room and print every frame received",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		c, err := joinRoom(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "joined %s as %s\n", flagRoom, c.ID())
		for {
			select {
			case <-ctx.Done():
				return nil
			case env, ok := <-c.Incoming():
				if !ok {
					return c.Err()
				}
				fmt.Fprintf(out, "%-20s %s\n", env.Type, env.Payload)
			}
		}
	},
}

var captionCmd = &cobra.Command{
	Use:   "caption",
	Short: "Join a room and send one translation message",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagText == "" {
			return fmt.Errorf("--text is required")
		}
		c, err := joinRoom(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		msg := map[string]string{"text": flagText}
		if flagName != "" {
			msg["username"] = flagName
		}
		if err := c.Send(cmd.Context(), signaling.KindTranslation, msg); err != nil {
			return fmt.Errorf("send caption: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "caption sent to %s\n", flagRoom)
		return nil
	},
}

// joinRoom dials the relay and waits for the room roster.
func joinRoom(ctx context.Context) (*client.Conn, error) {
	if flagRoom == "" {
		return nil, fmt.Errorf("--room is required")
	}
	c, err := client.Dial(ctx, wsURL())
	if err != nil {
		return nil, err
	}
	if err := c.Send(ctx, signaling.KindJoinRoom, signaling.JoinRoom{RoomID: flagRoom, Username: flagName}); err != nil {
		c.Close()
		return nil, fmt.Errorf("join %s: %w", flagRoom, err)
	}
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return nil, ctx.Err()
		case env, ok := <-c.Incoming():
			if !ok {
				c.Close()
				return nil, fmt.Errorf("join %s: connection closed: %v", flagRoom, c.Err())
			}
			if env.Type == signaling.KindUsersInRoom {
				return c, nil
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(watchCmd, captionCmd)

	for _, cmd := range []*cobra.Command{watchCmd, captionCmd} {
		cmd.Flags().StringVarP(&flagRoom, "room", "r", "", "Room id")
		cmd.Flags().StringVarP(&flagName, "name", "n", "relayctl", "Display name")
	}
	captionCmd.Flags().StringVarP(&flagText, "text", "t", "", "Caption text")
}
