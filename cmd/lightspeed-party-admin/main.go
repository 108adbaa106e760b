package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/persistence"
)

// A very simple CLI tool for the administration of lightspeed-party
// users and rooms.

var configPath string

func openPersister() persistence.Persister {
	flagSet := config.GetFlagSet()
	globalConfig, err := config.ReadConfiguration(configPath, flagSet)
	if err != nil {
		panic(err)
	}
	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	return persister
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "lightspeed-party-admin",
		Short: "administration of lightspeed-party users and rooms",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "list all known users",
		Run: func(cmd *cobra.Command, args []string) {
			persister := openPersister()
			defer persister.Close()
			users, err := persister.Users()
			if err != nil {
				panic(err)
			}
			for _, user := range users {
				state := "idle"
				if user.Hosting() {
					state = "hosting " + user.PlayingTo
				} else if user.Listening() {
					state = "listening to " + user.ListeningTo
				}
				if user.Paused {
					state += " (paused)"
				}
				fmt.Printf("%s\t%s\t%s\n", user.Id, user.DisplayName, state)
			}
		},
	}

	roomsCmd := &cobra.Command{
		Use:   "rooms",
		Short: "list all open rooms with their listener counts",
		Run: func(cmd *cobra.Command, args []string) {
			persister := openPersister()
			defer persister.Close()
			users, err := persister.Users()
			if err != nil {
				panic(err)
			}
			for _, user := range users {
				if !user.Hosting() {
					continue
				}
				listeners, err := persister.GetListeners(user.PlayingTo)
				if err != nil {
					panic(err)
				}
				fmt.Printf("%s\thost=%s\tlisteners=%d\n", user.PlayingTo, user.Id, len(listeners))
			}
		},
	}

	closeCmd := &cobra.Command{
		Use:   "close <room-id>",
		Short: "force-close a room, clearing host and listener state",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			persister := openPersister()
			defer persister.Close()
			room, err := persister.GetRoom(args[0])
			if err != nil {
				panic(err)
			}
			if room == nil {
				fmt.Fprintf(os.Stderr, "no such room: %s\n", args[0])
				os.Exit(1)
			}
			if err := persister.CloseRoom(args[0]); err != nil {
				panic(err)
			}
			fmt.Printf("closed %s\n", args[0])
		},
	}

	rootCmd.AddCommand(usersCmd, roomsCmd, closeCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
