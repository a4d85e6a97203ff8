package commands

import (
	"github.com/spf13/cobra"

	"github.com/MrWong99/pushtalk/internal/app"
	"github.com/MrWong99/pushtalk/internal/config"
	"github.com/MrWong99/pushtalk/pkg/audio/rawpcm"
)

var listenOutput string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Join the channel and write incoming audio as raw PCM",
	Long: `Join the channel and stay logged on until interrupted.

Incoming voice streams are decoded and written as signed 16-bit little
endian PCM in the configured output format. Text messages, channel status
and stream starts are logged.

Example:
  pushtalk listen | aplay -f S16_LE -r 16000 -c 1
  pushtalk listen -o capture.raw`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(cfg *config.Config) (app.Task, []app.Option, error) {
			w, closeOut, err := openOutput(listenOutput)
			if err != nil {
				return nil, nil, err
			}
			sink := rawpcm.NewSink(w, cfg.Audio.OutputFormat())
			return app.Listen(), []app.Option{app.WithSink(sink), app.WithCloser(closeOut)}, nil
		})
	},
}

func init() {
	listenCmd.Flags().StringVarP(&listenOutput, "output", "o", "-", "PCM output file (- for stdout)")
}
