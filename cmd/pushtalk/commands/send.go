package commands

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/pushtalk/internal/app"
	"github.com/MrWong99/pushtalk/internal/config"
	"github.com/MrWong99/pushtalk/pkg/ptt/session"
)

var (
	sendMessage string
	sendFor     string
)

var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Send a text message to the channel",
	Long: `Log on, send one text message and disconnect.

The message is taken from -m or from the remaining arguments.

Example:
  pushtalk send "on my way"
  pushtalk send -m "meet at gate 4" --for dispatch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := messageText(sendMessage, args)
		if err != nil {
			return err
		}
		return run(cmd, func(*config.Config) (app.Task, []app.Option, error) {
			return app.SendText(text, recipient(sendFor)...), nil, nil
		})
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendMessage, "message", "m", "", "message text")
	sendCmd.Flags().StringVar(&sendFor, "for", "", "deliver to this user only")
}

// messageText prefers the -m flag over positional arguments.
func messageText(flag string, args []string) (string, error) {
	text := flag
	if text == "" {
		text = strings.Join(args, " ")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("message text is required, use -m or pass it as arguments")
	}
	return text, nil
}

func recipient(user string) []session.SendOption {
	if user == "" {
		return nil
	}
	return []session.SendOption{session.For(user)}
}
