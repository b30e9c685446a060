package main

import (
	"fmt"
	"os"

	"github.com/matheus3301/portalchat/internal/daemon"
	"github.com/matheus3301/portalchat/internal/profile"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
)

func main() {
	flags := pflag.NewFlagSet("chatd", pflag.ExitOnError)
	profileFlag := flags.StringP("profile", "p", "", "profile name (overrides config default)")
	socketFlag := flags.String("socket", "", "socket path (default: inside the profile directory)")
	debugFlag := flags.Bool("debug", false, "write debug records to the log file")
	_ = flags.Parse(os.Args[1:])

	profileName, err := profile.Select(*profileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ProfileName: profileName,
			SocketPath:  *socketFlag,
			Debug:       *debugFlag,
		}),
	)

	app.Run()
}
