package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MiFaceDEV/miface/internal/capture"
	"github.com/MiFaceDEV/miface/internal/led"
	"github.com/MiFaceDEV/miface/internal/store"
	"github.com/MiFaceDEV/miface/internal/stream"
)

var preview bool

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tracking server and video/control endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "open a local debug window mirroring the video feed")
	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cam := capture.NewCamera()
	if err := cam.Open(cfg.Camera.DeviceID, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS); err != nil {
		return fmt.Errorf("opening camera: %w", err)
	}
	defer cam.Close()

	st, err := store.Open(cfg.Store.SessionsFile)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	ledGateway, err := led.Open(cfg.Led.SerialPath)
	if err != nil {
		log.Printf("steadyscript: LED gateway disabled: %v", err)
	}
	defer ledGateway.Close()

	srv := stream.New(cfg, cam, st, ledGateway)
	if preview {
		srv.EnablePreview()
	}
	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Mux()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
		case <-srv.PreviewQuit():
		}
		log.Println("steadyscript: shutting down")
		srv.Stop()
		httpSrv.Close()
	}()

	go srv.Run()

	log.Printf("steadyscript: listening on %s", cfg.Server.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
