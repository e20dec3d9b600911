package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriscow/soundmix/internal/console"
	"github.com/chriscow/soundmix/internal/control"
	"github.com/chriscow/soundmix/internal/remote"
	_ "github.com/chriscow/soundmix/pkg/output/speaker" // registers the speaker device
	"github.com/chriscow/soundmix/pkg/output/wavfile"
	"github.com/chriscow/soundmix/pkg/pcm"
	"github.com/chriscow/soundmix/pkg/plugin"
	_ "github.com/chriscow/soundmix/pkg/plugin/openai" // registers the openai synthesizer
	"github.com/chriscow/soundmix/pkg/sound"
	"github.com/chriscow/soundmix/pkg/tier"
	"github.com/chriscow/soundmix/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "soundmix",
	Short: "soundmix - gated, category-routed sound mixing",
	Long: `soundmix plays sound clips and tones through a mix graph with category
buses, reverb, a limiter and visibility and tier gates. It can be driven from a
websocket console or from a LiveKit room.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var playCmd = &cobra.Command{
	Use:   "play [files...]",
	Short: "Play clips, tones or spoken prompts on the speaker",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		opts, err := clipFlags(cmd)
		if err != nil {
			return err
		}
		duration, _ := cmd.Flags().GetDuration("duration")
		deviceName, _ := cmd.Flags().GetString("device")
		rate, _ := cmd.Flags().GetInt("sample-rate")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		dev, err := openDevice(deviceName, rate)
		if err != nil {
			return err
		}
		s, err := newSession(cfg, dev, logger)
		if err != nil {
			dev.Close()
			return err
		}
		defer s.close()

		if err := startSources(ctx, cmd, s, args, opts); err != nil {
			return err
		}

		logger.Info("playing", slog.Int("sources", s.m.Sources()), slog.Duration("duration", duration))
		waitOrDone(ctx, duration)
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render [files...]",
	Short: "Render clips and tones offline into a WAV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		opts, err := clipFlags(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		duration, _ := cmd.Flags().GetDuration("duration")
		rate, _ := cmd.Flags().GetInt("sample-rate")
		if out == "" {
			return errors.New("--out is required")
		}
		if duration <= 0 {
			return errors.New("--duration must be positive")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		dev, err := wavfile.Create(out, rate)
		if err != nil {
			return err
		}
		s, err := newSession(cfg, dev, logger)
		if err != nil {
			dev.Close()
			return err
		}
		defer s.close()

		if err := startSources(ctx, cmd, s, args, opts); err != nil {
			return err
		}
		if err := dev.Capture(duration); err != nil {
			return err
		}

		logger.Info("rendered",
			slog.String("path", out),
			slog.Int("frames", dev.Written()),
			slog.Float64("gain_reduction_db", s.m.Reduction()))
		return nil
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Serve the websocket control console while playing",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		addr, _ := cmd.Flags().GetString("addr")
		token, _ := cmd.Flags().GetString("token")

		return runHeadless(cmd, args, logger, func(ctx context.Context, s *session) error {
			srv := console.NewServer(s.m, token, logger)
			go srv.Broadcast(ctx, s.m.Peaks())

			mux := http.NewServeMux()
			mux.Handle("/ws", srv)
			mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(s.m.Status())
			})
			httpSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("console listening", slog.String("addr", addr))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	},
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Join a LiveKit room and accept control commands on its data channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		rcfg := remote.DefaultConfig()
		rcfg.URL, _ = cmd.Flags().GetString("url")
		rcfg.Token, _ = cmd.Flags().GetString("token")
		rcfg.Room, _ = cmd.Flags().GetString("room")
		rcfg.Identity, _ = cmd.Flags().GetString("identity")
		rcfg.APIKey = os.Getenv("LIVEKIT_API_KEY")
		rcfg.APISecret = os.Getenv("LIVEKIT_API_SECRET")
		peaks, _ := cmd.Flags().GetBool("peaks")

		return runHeadless(cmd, args, logger, func(ctx context.Context, s *session) error {
			ctl, err := remote.New(rcfg, s.m, logger)
			if err != nil {
				return err
			}
			if err := ctl.Connect(); err != nil {
				return err
			}
			var ch = s.m.Peaks()
			if !peaks {
				ch = nil
			}
			return ctl.Run(ctx, ch)
		})
	},
}

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Talk to a running console",
}

var ctlSendCmd = &cobra.Command{
	Use:   "send <type> [key=value...]",
	Short: "Send one control command and print the reply",
	Long: `Send one control command to a console and print the JSON reply.

Examples:
  soundmix ctl send setMasterVolume level=0.5
  soundmix ctl send setCategoryVolume category=user-interface level=0.2
  soundmix ctl send setTier tier=extra
  soundmix ctl send status`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")

		data, err := parseParams(args[1:])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c := console.NewClient(url, token, logger)
		if err := c.Connect(ctx); err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.Do(control.Command{Type: args[0], Data: data})
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(reply, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		if reply.Type == control.TypeError {
			return errors.New(reply.Error)
		}
		return nil
	},
}

var ctlWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print output peak levels from a console, reconnecting as needed",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		url, _ := cmd.Flags().GetString("url")
		token, _ := cmd.Flags().GetString("token")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		c := console.NewClient(url, token, logger)
		return c.Watch(ctx, func(r control.Reply) {
			if r.Type != control.TypePeak {
				return
			}
			p, _ := r.Data.(map[string]any)
			fmt.Printf("L %6.3f  R %6.3f\n", p["left"], p["right"])
		})
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Plugin management commands",
}

var pluginListCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List registered plugins",
	Long: `List all registered plugins or plugins of a specific kind.
Available kinds: decoder, synth, device`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
			n, err := plugin.LoadDynamicPlugins(plugin.Default, dir)
			if err != nil {
				return err
			}
			logger.Info("loaded dynamic plugins", slog.Int("count", n), slog.String("dir", dir))
		}

		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}

		plugins := plugin.List(kind)
		if len(plugins) == 0 {
			if kind == "" {
				fmt.Println("No plugins registered")
			} else {
				fmt.Printf("No plugins registered for kind: %s\n", kind)
			}
			return nil
		}

		fmt.Printf("%-8s %-10s %-12s %s\n", "KIND", "NAME", "EXTENSIONS", "DESCRIPTION")
		fmt.Println("------------------------------------------------------------")
		for _, p := range plugins {
			exts := "-"
			if len(p.Extensions) > 0 {
				exts = fmt.Sprint(p.Extensions)
			}
			description := p.Description
			if description == "" {
				description = "No description"
			}
			fmt.Printf("%-8s %-10s %-12s %s\n", p.Kind, p.Name, exts, description)

			keys := make([]string, 0, len(p.Config))
			for k := range p.Config {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%-8s   %s: %v\n", "", k, p.Config[k])
			}
		}

		logger.Info("listed plugins",
			slog.Int("count", len(plugins)),
			slog.String("filter_kind", kind))
		return nil
	},
}

// runHeadless plays the requested sources on a device and runs fn until the
// process is signalled.
func runHeadless(cmd *cobra.Command, args []string, logger *slog.Logger, fn func(context.Context, *session) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := clipFlags(cmd)
	if err != nil {
		return err
	}
	deviceName, _ := cmd.Flags().GetString("device")
	rate, _ := cmd.Flags().GetInt("sample-rate")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dev, err := openDevice(deviceName, rate)
	if err != nil {
		return err
	}
	s, err := newSession(cfg, dev, logger)
	if err != nil {
		dev.Close()
		return err
	}
	defer s.close()

	if err := startSources(ctx, cmd, s, args, opts); err != nil {
		return err
	}
	return fn(ctx, s)
}

// startSources loads files, speech and an optional tone, then plays them.
func startSources(ctx context.Context, cmd *cobra.Command, s *session, files []string, opts clipOptions) error {
	say, _ := cmd.Flags().GetString("say")
	synth, _ := cmd.Flags().GetString("synth")
	toneFreq, _ := cmd.Flags().GetFloat64("tone")
	waveName, _ := cmd.Flags().GetString("wave")

	handles, err := s.load(ctx, files, say, synth)
	if err != nil {
		return err
	}
	for _, h := range handles {
		c, err := s.addClip(ctx, h, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", h.Name(), err)
		}
		c.Play()
	}

	if toneFreq > 0 {
		wave, err := sound.ParseWaveform(waveName)
		if err != nil {
			return err
		}
		t, err := s.addTone(wave, toneFreq, opts)
		if err != nil {
			return err
		}
		t.Play()
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (sound.Config, error) {
	cfg := sound.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = sound.LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("master-volume") {
		cfg.MasterVolume, _ = flags.GetFloat64("master-volume")
	}
	if flags.Changed("reverb") {
		cfg.ReverbLevel, _ = flags.GetFloat64("reverb")
	}
	if flags.Changed("impulse") {
		cfg.Reverb.ImpulseFile, _ = flags.GetString("impulse")
	}
	if flags.Changed("tier") {
		s, _ := flags.GetString("tier")
		l, err := tier.Parse(s)
		if err != nil {
			return cfg, err
		}
		cfg.Tier = l
	}
	if flags.Changed("strict") {
		cfg.Strict, _ = flags.GetBool("strict")
	}
	return cfg, cfg.Validate()
}

func clipFlags(cmd *cobra.Command) (clipOptions, error) {
	o := clipOptions{}
	o.loop, _ = cmd.Flags().GetBool("loop")
	o.category, _ = cmd.Flags().GetString("category")
	o.level, _ = cmd.Flags().GetFloat64("level")
	o.rate, _ = cmd.Flags().GetFloat64("rate")

	s, _ := cmd.Flags().GetString("source-tier")
	l, err := tier.Parse(s)
	if err != nil {
		return o, err
	}
	o.tier = l
	return o, nil
}

// setupLogger configures the process logger from SOUNDMIX_LOG_LEVEL and
// SOUNDMIX_LOG_FORMAT.
func setupLogger() *slog.Logger {
	logFormat := os.Getenv("SOUNDMIX_LOG_FORMAT")
	logLevel := os.Getenv("SOUNDMIX_LOG_LEVEL")

	var handler slog.Handler
	opts := &slog.HandlerOptions{}

	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	// Logs go to stderr so ctl output stays clean on stdout.
	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func addMixFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("config", "", "YAML mixer configuration file")
	f.Float64("master-volume", 1, "Master volume [0, 1]")
	f.Float64("reverb", 0.02, "Reverb level [0, 1]")
	f.String("impulse", "", "Impulse response file for the reverb")
	f.String("tier", "basic", "Active sonification tier (basic, extra)")
	f.Bool("strict", false, "Panic on usage errors")
	f.Int("sample-rate", pcm.DefaultSampleRate, "Output sample rate")
}

func addSourceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("loop", false, "Loop clips")
	f.String("category", sound.CategorySimSpecific, "Category bus for the sources (empty for none)")
	f.String("source-tier", "basic", "Tier the sources belong to (basic, extra)")
	f.Float64("level", 1, "Output level of each source [0, 1]")
	f.Float64("rate", 1, "Playback rate of clips")
	f.Float64("tone", 0, "Also play a tone at this frequency in Hz")
	f.String("wave", "sine", "Tone waveform (sine, square, triangle, sawtooth)")
	f.String("say", "", "Also speak this text with a synthesizer plugin")
	f.String("synth", "openai", "Synthesizer plugin for --say")
}

func init() {
	for _, c := range []*cobra.Command{playCmd, renderCmd, consoleCmd, remoteCmd} {
		addMixFlags(c)
		addSourceFlags(c)
	}
	for _, c := range []*cobra.Command{playCmd, consoleCmd, remoteCmd} {
		c.Flags().String("device", "speaker", "Output device plugin")
	}

	playCmd.Flags().Duration("duration", 0, "Stop after this long (0 waits for Ctrl-C)")

	renderCmd.Flags().String("out", "", "Output WAV file")
	renderCmd.Flags().Duration("duration", 5*time.Second, "Length of audio to render")

	consoleCmd.Flags().String("addr", "127.0.0.1:7777", "Listen address")
	consoleCmd.Flags().String("token", "", "Token clients must present")

	remoteCmd.Flags().String("url", "", "LiveKit server WebSocket URL")
	remoteCmd.Flags().String("token", "", "LiveKit access token (or set LIVEKIT_API_KEY and LIVEKIT_API_SECRET)")
	remoteCmd.Flags().String("room", "soundmix", "Room name to join")
	remoteCmd.Flags().String("identity", "soundmix", "Participant identity")
	remoteCmd.Flags().Bool("peaks", true, "Publish peak levels to the room")

	for _, c := range []*cobra.Command{ctlSendCmd, ctlWatchCmd} {
		c.Flags().String("url", "ws://127.0.0.1:7777/ws", "Console WebSocket URL")
		c.Flags().String("token", "", "Console token")
	}
	ctlCmd.AddCommand(ctlSendCmd, ctlWatchCmd)

	pluginListCmd.Flags().String("dir", "", "Also load dynamic plugins from this directory")
	pluginCmd.AddCommand(pluginListCmd)

	rootCmd.AddCommand(versionCmd, playCmd, renderCmd, consoleCmd, remoteCmd, ctlCmd, pluginCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
