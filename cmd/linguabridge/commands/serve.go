package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/linguabridge/linguabridge/internal/bridge"
	"github.com/linguabridge/linguabridge/internal/config"
	"github.com/linguabridge/linguabridge/internal/content"
	"github.com/linguabridge/linguabridge/internal/logging"
	"github.com/linguabridge/linguabridge/internal/schedule"
	"github.com/linguabridge/linguabridge/internal/server"
	"github.com/linguabridge/linguabridge/internal/store"
	"github.com/linguabridge/linguabridge/internal/vcs"
)

var (
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session bridge server",
	Long: `Start the linguabridge server: POST /message for client envelopes,
GET /event for the server event stream, GET /health for liveness.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Project directory for config discovery")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Pretty: pretty,
	})

	log := logging.Component("serve")
	log.Info().Str("version", Version).Str("directory", workDir).Msg("starting linguabridge")

	if len(cfg.Agent) == 0 {
		return errors.New("no agent command configured (set \"agent\" in linguabridge.json or LINGUABRIDGE_AGENT)")
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	cs, err := content.New(cfg.ContentRoot)
	if err != nil {
		return err
	}

	instr, err := bridge.LoadInstructions(cfg.Instructions)
	if err != nil {
		return err
	}

	committer := vcs.NewCommitter(cfg.ContentRoot, cfg.GitRemote)

	watcher, err := vcs.NewWatcher(cfg.ContentRoot)
	if err != nil {
		log.Warn().Err(err).Msg("content watcher unavailable")
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	manager := bridge.NewManager(st, cs, committer, instr, schedule.Default(), cfg.Agent, cfg.TargetLanguage)
	defer manager.Close()

	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort
	srv := server.New(serverConfig, manager)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", servePort).Msg("server listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
