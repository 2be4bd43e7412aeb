package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ocampo/fieldsync/internal/config"
	"github.com/ocampo/fieldsync/internal/connectivity"
	"github.com/ocampo/fieldsync/internal/db"
	"github.com/ocampo/fieldsync/internal/engine"
	"github.com/ocampo/fieldsync/internal/queue"
	"github.com/ocampo/fieldsync/internal/remote"
	"github.com/ocampo/fieldsync/internal/status"
)

var (
	version string
	baseDir string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first capture and sync for field maintenance work",
	Long: `fieldsync - capture maintenance records and photographic evidence while
disconnected, then reconcile with the authoritative server once connectivity
returns. Capture always succeeds; synchronization is at-least-once with
idempotent server-side acceptance.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initBaseDir)
	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", "", "base directory (default: working directory)")
}

func initBaseDir() {
	if baseDir != "" {
		return
	}
	if env := os.Getenv("FIELDSYNC_DIR"); env != "" {
		baseDir = env
		return
	}
	var err error
	baseDir, err = os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		os.Exit(1)
	}
}

func getBaseDir() string {
	return baseDir
}

// env bundles everything a sync-running command needs.
type env struct {
	DB      *db.DB
	Queue   *queue.Queue
	Client  *remote.Client
	Monitor connectivity.Monitor
	Engine  *engine.Engine
	Config  config.Config
}

// openEnv opens the database and wires the engine with stored credentials.
// The caller owns the returned close function.
func openEnv(probe bool) (*env, func(), error) {
	database, err := db.Open(getBaseDir())
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	creds, err := config.LoadAuth()
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	if creds == nil {
		database.Close()
		return nil, nil, fmt.Errorf("not logged in (run: fieldsync auth login)")
	}

	deviceID, err := config.GetDeviceID()
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	serverURL := cfg.GetServerURL()
	if creds.ServerURL != "" {
		serverURL = creds.ServerURL
	}
	client := remote.New(serverURL, creds.AccessToken, creds.RefreshToken, deviceID)

	var mon connectivity.Monitor
	if probe {
		mon = connectivity.NewProber(client, cfg.GetProbeInterval())
	} else {
		mon = connectivity.NewStatic(true)
	}

	q := queue.New(database.Conn())
	eng := engine.New(database, q, client, mon, status.NewPublisher(), engine.Options{
		MaxAttempts:       cfg.GetMaxAttempts(),
		UploadConcurrency: cfg.GetUploadConcurrency(),
	})

	e := &env{DB: database, Queue: q, Client: client, Monitor: mon, Engine: eng, Config: cfg}
	closeFn := func() {
		mon.Close()
		database.Close()
	}
	return e, closeFn, nil
}
