package rootcmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/parley/cmd/parley/chat"
	historycmder "github.com/papercomputeco/parley/cmd/parley/history"
	sendcmder "github.com/papercomputeco/parley/cmd/parley/send"
	servecmder "github.com/papercomputeco/parley/cmd/parley/serve"
	"github.com/papercomputeco/parley/cmd/parley/settings"
)

const rootLongDesc string = `parley is a terminal client for a conversational chat API.

Configuration is read from ~/.parley/config.toml, then from the
environment (a .env file in the working directory is loaded first):

  PARLEY_API_BASE_URL  base URL of the chat API (default http://localhost:8080)
  PARLEY_API_PATH      path of the chat endpoint (default /chat)
  PARLEY_API_TIMEOUT   per-request timeout, e.g. 30s or 30000 (milliseconds)
  PARLEY_SQLITE_PATH   conversation history database
  PARLEY_LOG_FILE      log file used by chat and send
  PARLEY_DEBUG         enable debug logging`

const rootShortDesc string = "Chat with a conversational API from the terminal"

func NewParleyCmd() *cobra.Command {
	flags := &settings.Flags{}

	cmd := &cobra.Command{
		Use:           "parley",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "Path to the config file (default ~/.parley/config.toml)")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVarP(&flags.SQLitePath, "sqlite", "s", "", "Path to the conversation history database")

	cmd.AddCommand(
		chatcmder.NewChatCmd(flags),
		sendcmder.NewSendCmd(flags),
		historycmder.NewHistoryCmd(flags),
		servecmder.NewServeCmd(flags),
	)

	return cmd
}
