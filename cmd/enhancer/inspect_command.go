package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/coah80/enhancer/internal/services"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	opts := services.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Probe a video and show the encoder command a run would use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := opts.Validate(cfg.MaxScale); err != nil {
				return err
			}

			input := args[0]
			prober := services.NewProber(cfg.FFprobePath)
			out := cmd.OutOrStdout()

			rows := [][]string{{"File", input}}
			info, err := prober.Info(cmd.Context(), input)
			if err != nil {
				rows = append(rows, []string{"Probe", "failed: " + err.Error()})
			} else {
				rows = append(rows, describeMedia(info)...)
			}
			rows = append(rows, []string{"Estimated time", (time.Duration(services.EstimateProcessingTime(info, opts)) * time.Second).String()})
			fmt.Fprintln(out, renderTable([]string{"Property", "Value"}, rows))

			filters := services.BuildFilterChain(cmd.Context(), prober, input, opts)
			filterRows := make([][]string, 0, len(filters))
			for i, f := range filters {
				filterRows = append(filterRows, []string{strconv.Itoa(i + 1), f})
			}
			if len(filterRows) > 0 {
				fmt.Fprintln(out, renderTable([]string{"#", "Filter"}, filterRows))
			} else {
				fmt.Fprintln(out, "No filters enabled.")
			}

			output := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + "_enhanced.mp4"
			argv := append([]string{cfg.FFmpegPath}, services.EncoderArgs(input, output, filters)...)
			fmt.Fprintln(out, strings.Join(argv, " "))
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Scale, "scale", opts.Scale, "Upscaling factor")
	cmd.Flags().BoolVar(&opts.Denoise, "denoise", opts.Denoise, "Apply the denoise filter")
	cmd.Flags().BoolVar(&opts.Sharpen, "sharpen", opts.Sharpen, "Apply the sharpen filter")
	cmd.Flags().BoolVar(&opts.EnhanceColors, "enhance-colors", opts.EnhanceColors, "Apply the color filter")
	return cmd
}

func describeMedia(info *services.MediaInfo) [][]string {
	rows := [][]string{{"Container", info.Format.FormatName}}
	if d := info.Duration(); d > 0 {
		rows = append(rows, []string{"Duration", (time.Duration(d * float64(time.Second))).Round(time.Millisecond).String()})
	}
	if size, err := strconv.ParseUint(info.Format.Size, 10, 64); err == nil {
		rows = append(rows, []string{"Size", humanize.IBytes(size)})
	}
	if v := info.FirstVideo(); v != nil {
		rows = append(rows,
			[]string{"Video codec", v.CodecName},
			[]string{"Resolution", fmt.Sprintf("%dx%d", v.Width, v.Height)},
		)
		if v.FrameRate != "" {
			rows = append(rows, []string{"Frame rate", v.FrameRate})
		}
	} else {
		rows = append(rows, []string{"Video", "no video stream"})
	}
	return rows
}
