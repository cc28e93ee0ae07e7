package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/telecare/internal/adapters/relayclient"
	"github.com/dkeye/telecare/internal/call"
	"github.com/dkeye/telecare/internal/config"
	"github.com/dkeye/telecare/internal/domain"
	"github.com/dkeye/telecare/internal/media"
	"github.com/dkeye/telecare/internal/rtc"
)

// deviceSource adapts package media's device capture to the controller.
type deviceSource struct{}

func (deviceSource) Capture(context.Context) (*media.Stream, error) {
	return media.Capture()
}

func main() {
	role := flag.String("role", "patient", "patient starts the call, doctor joins it")
	sessionID := flag.String("session", "", "session id to join (doctor)")
	mode := flag.String("mode", "p2p", "p2p or hosted")
	list := flag.Bool("list", false, "list scheduled sessions and exit")
	mediaDir := flag.String("media-dir", "./media", "directory for remote media and self-view dumps")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	client := relayclient.New(cfg.RelayURL, cfg.APIToken)

	// The peer connection must speak the codecs the capture pipeline encodes.
	api, err := media.API()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build media engine")
	}

	if *list {
		sessions, err := client.ListScheduled(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list sessions")
		}
		for _, sess := range sessions {
			joinable := "waiting for offer"
			if sess.Offer != nil {
				joinable = "ready to join"
			}
			fmt.Printf("%s  %s  %s\n", sess.ID, sess.CreatedAt.Format("15:04:05"), joinable)
		}
		return
	}

	if err := os.MkdirAll(*mediaDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", *mediaDir).Msg("failed to create media dir")
	}
	remoteOut, err := os.Create(filepath.Join(*mediaDir, "remote-media.raw"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open remote media dump")
	}
	defer remoteOut.Close()

	ctrl := call.NewController(call.Config{
		Role:  roleFor(*role),
		Mode:  modeFor(*mode),
		Relay: client,
		Feed:  relayclient.NewFeed(cfg.RelayURL),
		Media: deviceSource{},
		NewPeer: func(sid domain.SessionID) (call.Peer, error) {
			return rtc.NewPeerConnectionWithAPI(api, rtc.ConfigWithServers(cfg.STUNServers), sid)
		},
		Rooms:      client,
		RemoteSink: remoteOut,
		Notify: func(level, msg string) {
			fmt.Printf("[%s] %s\n", level, msg)
		},
	})

	switch {
	case modeFor(*mode) == domain.ModeHostedRoom:
		url, err := ctrl.StartHosted(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create hosted room")
		}
		fmt.Printf("join URL: %s\n", url)
	case roleFor(*role) == domain.RoleInitiator:
		if err := ctrl.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start call")
		}
		if sess, ok := ctrl.Session(); ok {
			fmt.Printf("session: %s\n", sess.ID)
		}
		bindSelfView(ctx, ctrl, *mediaDir)
	default:
		if *sessionID == "" {
			log.Fatal().Msg("doctor needs -session (use -list to see scheduled sessions)")
		}
		err := ctrl.Join(ctx, domain.SessionID(*sessionID))
		if errors.Is(err, domain.ErrOfferPending) {
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("failed to join call")
		}
		bindSelfView(ctx, ctrl, *mediaDir)
	}

	go readCommands(ctx, cancel, ctrl)

	<-ctx.Done()
	if err := ctrl.HangUp(context.Background()); err != nil {
		log.Error().Err(err).Msg("hang up")
	}
	log.Info().Msg("call ended")
}

// bindSelfView drains the local preview into a VP8 frame dump so the encoder
// is never left blocked on an unread reader.
func bindSelfView(ctx context.Context, ctrl *call.Controller, dir string) {
	selfView, err := ctrl.SelfView()
	if err != nil || selfView == nil {
		return
	}
	out, err := os.Create(filepath.Join(dir, "self-view.vp8"))
	if err != nil {
		log.Error().Err(err).Msg("failed to open self-view dump")
		return
	}

	go func() {
		defer out.Close()
		frames := 0
		for ctx.Err() == nil {
			data, release, err := selfView.ReadFrame()
			if err != nil {
				log.Info().Err(err).Int("frames", frames).Msg("self view ended")
				return
			}
			if _, err := out.Write(data); err != nil {
				log.Error().Err(err).Msg("self view write")
				release()
				return
			}
			release()
			frames++
		}
	}()
}

// readCommands drives the in-call controls from stdin:
// m mutes audio, v disables video, s pauses remote playback, q hangs up.
func readCommands(ctx context.Context, cancel context.CancelFunc, ctrl *call.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	remoteMuted := false
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "m":
			if muted, err := ctrl.ToggleAudio(); err == nil {
				fmt.Printf("audio muted: %v\n", muted)
			}
		case "v":
			if disabled, err := ctrl.ToggleVideo(); err == nil {
				fmt.Printf("video disabled: %v\n", disabled)
			}
		case "s":
			remoteMuted = !remoteMuted
			ctrl.SetRemoteMuted(remoteMuted)
			fmt.Printf("remote media paused: %v\n", remoteMuted)
		case "q":
			cancel()
			return
		}
	}
}

func roleFor(role string) domain.Role {
	if role == "doctor" {
		return domain.RoleResponder
	}
	return domain.RoleInitiator
}

func modeFor(mode string) domain.CallMode {
	if mode == "hosted" {
		return domain.ModeHostedRoom
	}
	return domain.ModePeerToPeer
}
