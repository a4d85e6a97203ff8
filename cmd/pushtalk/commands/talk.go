package commands

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/pushtalk/internal/app"
	"github.com/MrWong99/pushtalk/internal/config"
	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/audio/rawpcm"
)

var (
	talkInput    string
	talkFor      string
	talkRealtime bool
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Stream raw PCM into the channel",
	Long: `Log on, open an outgoing voice stream and send audio until the input
ends or the command is interrupted.

Input is signed 16-bit little endian PCM at the configured sample rate and
channel count. Files are paced to real time; disable pacing with
--realtime=false for live capture pipes.

Example:
  pushtalk talk -i message.raw
  arecord -f S16_LE -r 16000 -c 1 | pushtalk talk --realtime=false`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(cfg *config.Config) (app.Task, []app.Option, error) {
			r, closeIn, err := openInput(talkInput)
			if err != nil {
				return nil, nil, err
			}
			src := newSource(r, cfg.Audio, talkRealtime)
			return app.Talk(src, recipient(talkFor)...), []app.Option{app.WithCloser(closeIn)}, nil
		})
	},
}

func init() {
	talkCmd.Flags().StringVarP(&talkInput, "input", "i", "-", "PCM input file (- for stdin)")
	talkCmd.Flags().StringVar(&talkFor, "for", "", "talk to this user only")
	talkCmd.Flags().BoolVar(&talkRealtime, "realtime", true, "pace input to real time")
}

// newSource reads whole packets so the packetizer never holds a partial one
// when the input ends.
func newSource(r io.Reader, a config.AudioConfig, realtime bool) *rawpcm.Source {
	var opts []rawpcm.SourceOption
	if realtime {
		opts = append(opts, rawpcm.WithPacing())
	}
	format := audio.Format{SampleRate: a.SampleRate, Channels: a.Channels}
	return rawpcm.NewSource(r, format, a.Params().PacketDuration(), opts...)
}
